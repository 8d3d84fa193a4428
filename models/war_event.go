package models

import "time"

// WarEventType classifies an entry in a war's append-only event log.
type WarEventType string

const (
	EventWarDeclared            WarEventType = "war_declared"
	EventWarStarted             WarEventType = "war_started"
	EventWarEnded               WarEventType = "war_ended"
	EventWarCancelled           WarEventType = "war_cancelled"
	EventParticipantsRegistered WarEventType = "participants_registered"
	EventTerritoryAttack        WarEventType = "territory_attack"
	EventTerritoryReinforce     WarEventType = "territory_reinforce"
	EventTerritoryCapture       WarEventType = "territory_capture"
)

// EventDetails holds free-form per-event data (e.g. captured flag, force,
// success probability).
type EventDetails map[string]interface{}

// WarEvent records one action in a war. Events are append-only and are never
// mutated after creation; they are archived with the war.
type WarEvent struct {
	ID          string       `json:"id" gorm:"primaryKey"`
	WarID       string       `json:"war_id" gorm:"not null;index"`
	Type        WarEventType `json:"type" gorm:"type:varchar(32);not null;index"`
	InitiatorID *string      `json:"initiator_id,omitempty"` // acting user, nil for system events
	TargetID    string       `json:"target_id,omitempty"`    // territory or user id, depending on type
	GuildID     string       `json:"guild_id,omitempty" gorm:"index"`
	Points      int64        `json:"points" gorm:"default:0"`
	Details     EventDetails `json:"details,omitempty" gorm:"serializer:json"`
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime;index"`
}
