package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"guild-war-system/models"

	"gorm.io/gorm"
)

// GormWarStore is the Postgres-backed WarStore.
type GormWarStore struct {
	DB *gorm.DB
}

func NewGormWarStore(db *gorm.DB) *GormWarStore {
	return &GormWarStore{DB: db}
}

func (s *GormWarStore) GetWar(ctx context.Context, id string) (*models.War, error) {
	var war models.War
	if err := s.DB.WithContext(ctx).First(&war, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(CodeWarNotFound, "war %s not found", id)
		}
		return nil, storageError("fetch war", err)
	}
	return &war, nil
}

func (s *GormWarStore) SaveWar(ctx context.Context, war *models.War) error {
	if err := war.Validate(); err != nil {
		return storageError("validate war", err)
	}
	if err := s.DB.WithContext(ctx).Save(war).Error; err != nil {
		return storageError("save war", err)
	}
	return nil
}

// AddScore increments one guild's score inside the database, in a single
// statement. The read-modify-write never happens in Go, so credits from
// concurrent attacks on different territories all land.
func (s *GormWarStore) AddScore(ctx context.Context, warID, guildID string, points int64) error {
	res := s.DB.WithContext(ctx).Exec(
		`UPDATE wars
		 SET scores = jsonb_set(scores, ARRAY[?]::text[],
		     to_jsonb(COALESCE((scores ->> ?)::bigint, 0) + ?), true),
		     updated_at = ?
		 WHERE id = ?`,
		guildID, guildID, points, time.Now(), warID)
	if res.Error != nil {
		return storageError("add score", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError(CodeWarNotFound, "war %s not found", warID)
	}
	return nil
}

// SetRoster rewrites one guild's roster key in the participants document,
// leaving the other guild's entry and the rest of the row alone.
func (s *GormWarStore) SetRoster(ctx context.Context, warID, guildID string, memberIDs []string) error {
	if memberIDs == nil {
		memberIDs = []string{}
	}
	blob, err := json.Marshal(memberIDs)
	if err != nil {
		return storageError("encode roster", err)
	}
	res := s.DB.WithContext(ctx).Exec(
		`UPDATE wars
		 SET participants = jsonb_set(participants, ARRAY[?]::text[], ?::jsonb, true),
		     updated_at = ?
		 WHERE id = ?`,
		guildID, string(blob), time.Now(), warID)
	if res.Error != nil {
		return storageError("set roster", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFoundError(CodeWarNotFound, "war %s not found", warID)
	}
	return nil
}

func (s *GormWarStore) ListWarsByStatus(ctx context.Context, statuses ...models.WarStatus) ([]models.War, error) {
	var wars []models.War
	if err := s.DB.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("start_time ASC").
		Find(&wars).Error; err != nil {
		return nil, storageError("list wars", err)
	}
	return wars, nil
}

func (s *GormWarStore) GetTerritory(ctx context.Context, id string) (*models.Territory, error) {
	var t models.Territory
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(CodeTerritoryNotFound, "territory %s not found", id)
		}
		return nil, storageError("fetch territory", err)
	}
	return &t, nil
}

// SaveTerritory writes the mutable defense state guarded by the version
// column. Position, type and name are fixed at creation and never updated.
func (s *GormWarStore) SaveTerritory(ctx context.Context, t *models.Territory) error {
	res := s.DB.WithContext(ctx).Model(&models.Territory{}).
		Where("id = ? AND version = ?", t.ID, t.Version).
		Updates(map[string]interface{}{
			"status":             t.Status,
			"controller_id":      t.ControllerID,
			"reinforcements":     t.Reinforcements,
			"base_defense":       t.BaseDefense,
			"last_attack_at":     t.LastAttackAt,
			"last_reinforced_at": t.LastReinforcedAt,
			"version":            t.Version + 1,
		})
	if res.Error != nil {
		return storageError("save territory", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		s.DB.WithContext(ctx).Model(&models.Territory{}).Where("id = ?", t.ID).Count(&count)
		if count == 0 {
			return notFoundError(CodeTerritoryNotFound, "territory %s not found", t.ID)
		}
		return ErrVersionConflict
	}
	t.Version++
	return nil
}

func (s *GormWarStore) CreateTerritories(ctx context.Context, territories []models.Territory) error {
	if len(territories) == 0 {
		return nil
	}
	if err := s.DB.WithContext(ctx).Create(&territories).Error; err != nil {
		return storageError("create territories", err)
	}
	return nil
}

func (s *GormWarStore) ListTerritories(ctx context.Context, warID string) ([]models.Territory, error) {
	var territories []models.Territory
	if err := s.DB.WithContext(ctx).
		Where("war_id = ?", warID).
		Order("created_at ASC").
		Find(&territories).Error; err != nil {
		return nil, storageError("list territories", err)
	}
	return territories, nil
}

func (s *GormWarStore) AppendEvent(ctx context.Context, event *models.WarEvent) error {
	if err := s.DB.WithContext(ctx).Create(event).Error; err != nil {
		return storageError("append event", err)
	}
	return nil
}

func (s *GormWarStore) ListEvents(ctx context.Context, warID string) ([]models.WarEvent, error) {
	var events []models.WarEvent
	if err := s.DB.WithContext(ctx).
		Where("war_id = ?", warID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, storageError("list events", err)
	}
	return events, nil
}

func (s *GormWarStore) ListEventsSince(ctx context.Context, warID string, eventType models.WarEventType, since time.Time) ([]models.WarEvent, error) {
	var events []models.WarEvent
	if err := s.DB.WithContext(ctx).
		Where("war_id = ? AND type = ? AND created_at >= ?", warID, eventType, since).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, storageError("list events since", err)
	}
	return events, nil
}

func (s *GormWarStore) ReplaceParticipants(ctx context.Context, warID, guildID string, participants []models.WarParticipant) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("war_id = ? AND guild_id = ?", warID, guildID).
			Delete(&models.WarParticipant{}).Error; err != nil {
			return err
		}
		if len(participants) == 0 {
			return nil
		}
		return tx.Create(&participants).Error
	})
	if err != nil {
		return storageError("replace participants", err)
	}
	return nil
}

func (s *GormWarStore) SaveParticipant(ctx context.Context, p *models.WarParticipant) error {
	if err := s.DB.WithContext(ctx).Save(p).Error; err != nil {
		return storageError("save participant", err)
	}
	return nil
}

func (s *GormWarStore) GetParticipant(ctx context.Context, warID, userID string) (*models.WarParticipant, error) {
	var p models.WarParticipant
	if err := s.DB.WithContext(ctx).
		Where("war_id = ? AND user_id = ?", warID, userID).
		First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(CodeWarNotFound, "participant %s not found in war %s", userID, warID)
		}
		return nil, storageError("fetch participant", err)
	}
	return &p, nil
}

func (s *GormWarStore) ListParticipants(ctx context.Context, warID string) ([]models.WarParticipant, error) {
	var participants []models.WarParticipant
	if err := s.DB.WithContext(ctx).
		Where("war_id = ?", warID).
		Order("points DESC").
		Find(&participants).Error; err != nil {
		return nil, storageError("list participants", err)
	}
	return participants, nil
}

// DeleteWarCascade hard-deletes the war's dependents and the war itself in
// one transaction, so a failed archive leaves everything in place.
func (s *GormWarStore) DeleteWarCascade(ctx context.Context, warID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("war_id = ?", warID).Delete(&models.WarEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("war_id = ?", warID).Delete(&models.Territory{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("war_id = ?", warID).Delete(&models.WarParticipant{}).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Delete(&models.War{}, "id = ?", warID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundError(CodeWarNotFound, "war %s not found", warID)
	}
	if err != nil {
		return storageError("delete war cascade", err)
	}
	return nil
}
