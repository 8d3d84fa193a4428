package services

import (
	"context"
	"time"

	"guild-war-system/models"
)

// WarStore is the single source of truth for live war state. The core never
// touches persistence through anything else; the production implementation is
// GormWarStore, tests inject an in-memory one.
type WarStore interface {
	GetWar(ctx context.Context, id string) (*models.War, error)
	SaveWar(ctx context.Context, war *models.War) error
	ListWarsByStatus(ctx context.Context, statuses ...models.WarStatus) ([]models.War, error)

	// AddScore credits points to guildID's score as a single atomic
	// increment. Concurrent credits on the same war, e.g. captures on two
	// different territories, must all land; scores never go backwards.
	AddScore(ctx context.Context, warID, guildID string, points int64) error
	// SetRoster replaces guildID's roster entry on the war record without
	// touching the rest of the row, so both guilds can register concurrently.
	SetRoster(ctx context.Context, warID, guildID string, memberIDs []string) error

	GetTerritory(ctx context.Context, id string) (*models.Territory, error)
	// SaveTerritory applies an optimistic write: it succeeds only if the
	// stored version still matches territory.Version, then bumps it.
	// A stale write returns ErrVersionConflict.
	SaveTerritory(ctx context.Context, territory *models.Territory) error
	CreateTerritories(ctx context.Context, territories []models.Territory) error
	ListTerritories(ctx context.Context, warID string) ([]models.Territory, error)

	AppendEvent(ctx context.Context, event *models.WarEvent) error
	ListEvents(ctx context.Context, warID string) ([]models.WarEvent, error)
	ListEventsSince(ctx context.Context, warID string, eventType models.WarEventType, since time.Time) ([]models.WarEvent, error)

	// ReplaceParticipants swaps guildID's participant rows for warID in one
	// shot; registration is idempotent per guild.
	ReplaceParticipants(ctx context.Context, warID, guildID string, participants []models.WarParticipant) error
	SaveParticipant(ctx context.Context, participant *models.WarParticipant) error
	GetParticipant(ctx context.Context, warID, userID string) (*models.WarParticipant, error)
	ListParticipants(ctx context.Context, warID string) ([]models.WarParticipant, error)

	// DeleteWarCascade removes the war's events, territories, participants
	// and the war itself, in that order, inside one transaction.
	DeleteWarCascade(ctx context.Context, warID string) error
}
