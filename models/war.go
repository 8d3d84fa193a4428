package models

import (
	"fmt"
	"time"
)

// WarStatus is the lifecycle state of a guild war
type WarStatus string

const (
	WarStatusPending     WarStatus = "pending"
	WarStatusPreparation WarStatus = "preparation"
	WarStatusActive      WarStatus = "active"
	WarStatusCompleted   WarStatus = "completed"
	WarStatusCancelled   WarStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s WarStatus) Terminal() bool {
	return s == WarStatusCompleted || s == WarStatusCancelled
}

// CanTransition reports whether s → to is a legal lifecycle move.
// pending → preparation → active → {completed, cancelled}; cancellation is
// allowed from any non-terminal state.
func (s WarStatus) CanTransition(to WarStatus) bool {
	if to == WarStatusCancelled {
		return !s.Terminal()
	}
	switch s {
	case WarStatusPending:
		return to == WarStatusPreparation
	case WarStatusPreparation:
		return to == WarStatusActive
	case WarStatusActive:
		return to == WarStatusCompleted
	}
	return false
}

// GuildScores maps guild id → accumulated war score.
// Scores never decrease while a war is active.
type GuildScores map[string]int64

// ParticipantRoster maps guild id → registered member user ids.
type ParticipantRoster map[string][]string

// RewardMultipliers preserves the three factors that produced a reward
// bundle, for auditability.
type RewardMultipliers struct {
	Territory     float64 `json:"territory"`
	Participation float64 `json:"participation"`
	Dominance     float64 `json:"dominance"`
}

// Average returns the effective multiplier applied to the base bundle.
func (m RewardMultipliers) Average() float64 {
	return (m.Territory + m.Participation + m.Dominance) / 3.0
}

// RewardBundle is the computed payout for a war's winner.
type RewardBundle struct {
	Crystals    int64             `json:"crystals"`
	Exons       int64             `json:"exons"`
	GuildExp    int64             `json:"guild_exp"`
	Multipliers RewardMultipliers `json:"multipliers"`
}

// War is a time-bounded contest between exactly two guilds.
type War struct {
	ID           string            `json:"id" gorm:"primaryKey"`
	ChallengerID string            `json:"challenger_id" gorm:"not null;index"`
	TargetID     string            `json:"target_id" gorm:"not null;index"`
	Status       WarStatus         `json:"status" gorm:"type:varchar(16);default:'preparation';index"`
	StartTime    time.Time         `json:"start_time" gorm:"not null"`
	EndTime      time.Time         `json:"end_time" gorm:"not null;index"`
	WinnerID     *string           `json:"winner_id,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	Participants ParticipantRoster `json:"participants" gorm:"serializer:json;type:jsonb"`
	Scores       GuildScores       `json:"scores" gorm:"serializer:json;type:jsonb"`
	Rewards      *RewardBundle     `json:"rewards,omitempty" gorm:"serializer:json"`

	Timestamps
}

// GuildIDs returns the two contestants, challenger first.
func (w *War) GuildIDs() [2]string {
	return [2]string{w.ChallengerID, w.TargetID}
}

// HasGuild reports whether guildID is one of the war's two contestants.
func (w *War) HasGuild(guildID string) bool {
	return guildID == w.ChallengerID || guildID == w.TargetID
}

// Opponent returns the other contestant's guild id.
func (w *War) Opponent(guildID string) string {
	if guildID == w.ChallengerID {
		return w.TargetID
	}
	return w.ChallengerID
}

// IsRegistered reports whether userID is on guildID's roster.
func (w *War) IsRegistered(guildID, userID string) bool {
	for _, id := range w.Participants[guildID] {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate enforces the structural invariants checked at the store boundary:
// exactly the two contestant guilds key participants and scores, and scores
// are non-negative.
func (w *War) Validate() error {
	if w.ChallengerID == "" || w.TargetID == "" || w.ChallengerID == w.TargetID {
		return fmt.Errorf("war %s: challenger and target must be two distinct guilds", w.ID)
	}
	for _, m := range []int{len(w.Participants), len(w.Scores)} {
		if m != 2 {
			return fmt.Errorf("war %s: participants and scores must key exactly the two contestant guilds", w.ID)
		}
	}
	for _, gid := range w.GuildIDs() {
		if _, ok := w.Participants[gid]; !ok {
			return fmt.Errorf("war %s: guild %s missing from participants", w.ID, gid)
		}
		score, ok := w.Scores[gid]
		if !ok {
			return fmt.Errorf("war %s: guild %s missing from scores", w.ID, gid)
		}
		if score < 0 {
			return fmt.Errorf("war %s: negative score %d for guild %s", w.ID, score, gid)
		}
	}
	return nil
}
