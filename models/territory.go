package models

import "time"

// TerritoryType determines a territory's capture-time, defense and reward
// profile.
type TerritoryType string

const (
	TerritoryTypeGate       TerritoryType = "gate"
	TerritoryTypeResource   TerritoryType = "resource"
	TerritoryTypeStronghold TerritoryType = "stronghold"
	TerritoryTypeOutpost    TerritoryType = "outpost"
)

// TerritoryStatus is the stored contention state of a territory.
// "enemy" is never stored; it is derived per viewing guild at read time.
type TerritoryStatus string

const (
	TerritoryStatusNeutral   TerritoryStatus = "neutral"
	TerritoryStatusFriendly  TerritoryStatus = "friendly"
	TerritoryStatusEnemy     TerritoryStatus = "enemy"
	TerritoryStatusContested TerritoryStatus = "contested"
)

// TerritoryProfile is the fixed per-type tuning of a territory.
type TerritoryProfile struct {
	CaptureTime      time.Duration
	DefenseBonus     float64 // base defense multiplier at generation
	RewardMultiplier float64
	CapturePoints    int64 // base points for a successful capture
	PointsPerTick    int64 // accrual per scheduler territory tick
}

// TerritoryProfiles tunes each territory type. Counts and values are fixed
// per type for the lifetime of a war.
var TerritoryProfiles = map[TerritoryType]TerritoryProfile{
	TerritoryTypeGate:       {CaptureTime: 2 * time.Minute, DefenseBonus: 1.5, RewardMultiplier: 1.2, CapturePoints: 100, PointsPerTick: 5},
	TerritoryTypeResource:   {CaptureTime: 3 * time.Minute, DefenseBonus: 1.0, RewardMultiplier: 1.5, CapturePoints: 150, PointsPerTick: 10},
	TerritoryTypeStronghold: {CaptureTime: 5 * time.Minute, DefenseBonus: 2.0, RewardMultiplier: 2.0, CapturePoints: 300, PointsPerTick: 15},
	TerritoryTypeOutpost:    {CaptureTime: 1 * time.Minute, DefenseBonus: 0.8, RewardMultiplier: 1.0, CapturePoints: 50, PointsPerTick: 3},
}

// TerritoryGenerationCounts is how many territories of each type a war map
// gets when the war enters preparation (22 total).
var TerritoryGenerationCounts = map[TerritoryType]int{
	TerritoryTypeGate:       5,
	TerritoryTypeResource:   8,
	TerritoryTypeStronghold: 3,
	TerritoryTypeOutpost:    6,
}

// Territory is a capturable node belonging to exactly one war.
// PosX/PosY are normalized [0,1] coordinates fixed at creation.
type Territory struct {
	ID           string          `json:"id" gorm:"primaryKey"`
	WarID        string          `json:"war_id" gorm:"not null;index"`
	Name         string          `json:"name" gorm:"not null"`
	Slug         string          `json:"slug" gorm:"index"`
	Type         TerritoryType   `json:"type" gorm:"type:varchar(16);not null"`
	Status       TerritoryStatus `json:"status" gorm:"type:varchar(16);default:'neutral'"`
	ControllerID *string         `json:"controller_id,omitempty" gorm:"index"`
	PosX         float64         `json:"pos_x"`
	PosY         float64         `json:"pos_y"`

	// Defense state, mutated only through the contention resolver.
	Reinforcements   float64    `json:"reinforcements" gorm:"default:0"`
	BaseDefense      float64    `json:"base_defense" gorm:"default:1"`
	LastAttackAt     *time.Time `json:"last_attack_at,omitempty"`
	LastReinforcedAt *time.Time `json:"last_reinforced_at,omitempty"`

	// Version stamps the defense state for optimistic writes. Stale saves
	// are rejected by the store.
	Version int64 `json:"-" gorm:"default:1"`

	Timestamps
}

// Profile returns the fixed tuning for the territory's type.
func (t *Territory) Profile() TerritoryProfile {
	return TerritoryProfiles[t.Type]
}

// DefenseRating is the effective defensive strength an attack contends with.
func (t *Territory) DefenseRating() float64 {
	return t.Reinforcements * t.BaseDefense
}

// StatusFor projects the stored status relative to a viewing guild:
// a territory held by the opposing guild reads as "enemy".
func (t *Territory) StatusFor(viewerGuildID string) TerritoryStatus {
	if t.Status == TerritoryStatusFriendly && t.ControllerID != nil && *t.ControllerID != viewerGuildID {
		return TerritoryStatusEnemy
	}
	return t.Status
}
