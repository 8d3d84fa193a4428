package models

// WarParticipant tracks one registered guild member's statistics for one war.
// Created at registration, updated while the war is active, archived with it.
type WarParticipant struct {
	ID      string `json:"id" gorm:"primaryKey"`
	WarID   string `json:"war_id" gorm:"not null;index:idx_war_user,unique"`
	UserID  string `json:"user_id" gorm:"not null;index:idx_war_user,unique"`
	GuildID string `json:"guild_id" gorm:"not null;index"`

	Points              int64 `json:"points" gorm:"default:0"`
	Kills               int64 `json:"kills" gorm:"default:0"`
	Deaths              int64 `json:"deaths" gorm:"default:0"`
	TerritoriesCaptured int64 `json:"territories_captured" gorm:"default:0"`

	Stats map[string]int64 `json:"stats,omitempty" gorm:"serializer:json"`

	Timestamps
}
