package services

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"time"

	"guild-war-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// AttackCooldown rate-limits attacks per territory.
	AttackCooldown = 5 * time.Minute
	// ReinforcementDecay is applied once per territory tick.
	ReinforcementDecay = 0.95
	// ContestedWindow is how far back attack events are considered when
	// re-deriving contested status.
	ContestedWindow = 5 * time.Minute

	initialReinforcements = 50.0
	minPlacementDistance  = 0.08
	maxPlacementAttempts  = 200
	maxContentionRetries  = 3
)

// Attack probability bounds: even a hopeless raid has a 10% chance, even an
// overwhelming one can fail.
const (
	minAttackChance = 0.1
	maxAttackChance = 0.9
)

var territoryNamePool = map[models.TerritoryType][]string{
	models.TerritoryTypeGate:       {"iron gate", "shadow gate", "sun gate", "river gate", "frost gate"},
	models.TerritoryTypeResource:   {"crystal mine", "exon well", "timber camp", "ore vein", "amber grove", "salt flat", "deep quarry", "glimmer field"},
	models.TerritoryTypeStronghold: {"obsidian keep", "storm citadel", "ember bastion"},
	models.TerritoryTypeOutpost:    {"north watch", "east watch", "south watch", "west watch", "ridge post", "hollow post"},
}

var titleCaser = cases.Title(language.English)

// AttackResult is the discriminated success payload of one attack.
type AttackResult struct {
	Captured    bool              `json:"captured"`
	Probability float64           `json:"probability"`
	Points      int64             `json:"points"`
	Territory   *models.Territory `json:"territory"`
}

// TerritoryService resolves contention over territories: attacks,
// reinforcements, periodic ticks and map generation. All mutations go through
// the store's optimistic territory write, so concurrent actions on the same
// territory serialize instead of losing updates.
type TerritoryService struct {
	Store        WarStore
	Notifier     EventNotifier
	Achievements AchievementTrigger

	rng func() float64
}

func NewTerritoryService(store WarStore, notifier EventNotifier, achievements AchievementTrigger) *TerritoryService {
	return &TerritoryService{
		Store:        store,
		Notifier:     notifier,
		Achievements: achievements,
		rng:          rand.Float64,
	}
}

// AttackChance computes the capture probability for an attacking force
// against the territory's defense rating, clamped to [0.1, 0.9].
func AttackChance(force, defenseRating float64) float64 {
	p := 0.5 * force / math.Max(1, defenseRating)
	return math.Min(maxAttackChance, math.Max(minAttackChance, p))
}

// Attack resolves one attack against a territory as an atomic
// read-modify-write. Exactly one territory_attack event is appended whatever
// the outcome. A stale write (someone else's attack landed first) re-reads
// and re-resolves against the new state, up to maxContentionRetries, then
// fails busy.
func (s *TerritoryService) Attack(ctx context.Context, territoryID, guildID, userID string, force float64) (*AttackResult, error) {
	for attempt := 0; attempt < maxContentionRetries; attempt++ {
		territory, err := s.Store.GetTerritory(ctx, territoryID)
		if err != nil {
			return nil, err
		}
		war, err := s.Store.GetWar(ctx, territory.WarID)
		if err != nil {
			return nil, err
		}

		// Preconditions fail fast, before any mutation.
		if war.Status != models.WarStatusActive {
			return nil, stateError("war %s is %s, attacks require an active war", war.ID, war.Status)
		}
		if !war.HasGuild(guildID) {
			return nil, validationError(CodeInvalidGuild, "guild %s is not a contestant in war %s", guildID, war.ID)
		}
		if !war.IsRegistered(guildID, userID) {
			return nil, validationError(CodeInvalidGuild, "user %s is not a registered participant for guild %s", userID, guildID)
		}
		if territory.ControllerID != nil && *territory.ControllerID == guildID {
			return nil, validationError(CodeInvalidGuild, "guild %s already controls %s", guildID, territory.Name)
		}
		if territory.LastAttackAt != nil && time.Since(*territory.LastAttackAt) < AttackCooldown {
			return nil, contentionError(CodeTerritoryOnCooldown, "territory %s attacked %s ago, cooldown is %s",
				territory.Name, time.Since(*territory.LastAttackAt).Round(time.Second), AttackCooldown)
		}

		probability := AttackChance(force, territory.DefenseRating())
		captured := s.rng() < probability
		now := time.Now()

		territory.LastAttackAt = &now
		var points int64
		if captured {
			profile := territory.Profile()
			points = int64(math.Floor(float64(profile.CapturePoints) * profile.RewardMultiplier))
			territory.ControllerID = &guildID
			territory.Status = models.TerritoryStatusFriendly
			territory.Reinforcements = force
		}

		if err := s.Store.SaveTerritory(ctx, territory); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue // someone else's action landed; re-resolve against the new state
			}
			return nil, err
		}

		if err := s.recordAttack(ctx, war, territory, guildID, userID, force, probability, captured, points); err != nil {
			return nil, err
		}
		return &AttackResult{Captured: captured, Probability: probability, Points: points, Territory: territory}, nil
	}
	return nil, contentionError(CodeBusy, "territory %s is under heavy contention, try again", territoryID)
}

// recordAttack applies the post-resolution bookkeeping: war score, the
// attack event, participant stats and external notifications. The territory
// write has already committed; external calls happen outside any lock.
func (s *TerritoryService) recordAttack(ctx context.Context, war *models.War, territory *models.Territory, guildID, userID string, force, probability float64, captured bool, points int64) error {
	if captured && points > 0 {
		if err := s.Store.AddScore(ctx, war.ID, guildID, points); err != nil {
			return err
		}
	}

	event := &models.WarEvent{
		ID:          uuid.NewString(),
		WarID:       war.ID,
		Type:        models.EventTerritoryAttack,
		InitiatorID: &userID,
		TargetID:    territory.ID,
		GuildID:     guildID,
		Points:      points,
		Details: models.EventDetails{
			"territory":   territory.Slug,
			"captured":    captured,
			"force":       force,
			"probability": probability,
		},
	}
	if err := s.Store.AppendEvent(ctx, event); err != nil {
		return err
	}

	if captured {
		s.bumpParticipantStats(ctx, war.ID, userID, points, 1)
		s.Achievements.OnTerritoryCaptured(ctx, territory.ID, userID)
		s.Notifier.Notify(ctx, Notification{
			Type:  string(models.EventTerritoryCapture),
			WarID: war.ID,
			Payload: map[string]interface{}{
				"territory_id": territory.ID,
				"territory":    territory.Slug,
				"guild_id":     guildID,
				"user_id":      userID,
				"points":       points,
			},
			Timestamp: time.Now(),
		})
	} else {
		s.Notifier.Notify(ctx, Notification{
			Type:  string(models.EventTerritoryAttack),
			WarID: war.ID,
			Payload: map[string]interface{}{
				"territory_id": territory.ID,
				"guild_id":     guildID,
				"captured":     false,
			},
			Timestamp: time.Now(),
		})
	}
	return nil
}

// Reinforce adds defensive strength to a territory the guild controls.
func (s *TerritoryService) Reinforce(ctx context.Context, territoryID, guildID, userID string, amount float64) (*models.Territory, error) {
	if amount <= 0 {
		return nil, validationError(CodeInvalidGuild, "reinforcement amount must be positive")
	}
	for attempt := 0; attempt < maxContentionRetries; attempt++ {
		territory, err := s.Store.GetTerritory(ctx, territoryID)
		if err != nil {
			return nil, err
		}
		war, err := s.Store.GetWar(ctx, territory.WarID)
		if err != nil {
			return nil, err
		}
		if war.Status != models.WarStatusActive {
			return nil, stateError("war %s is %s, reinforcement requires an active war", war.ID, war.Status)
		}
		if territory.ControllerID == nil || *territory.ControllerID != guildID {
			return nil, validationError(CodeInvalidGuild, "guild %s does not control %s", guildID, territory.Name)
		}

		now := time.Now()
		territory.Reinforcements += amount
		territory.LastReinforcedAt = &now

		if err := s.Store.SaveTerritory(ctx, territory); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, err
		}

		event := &models.WarEvent{
			ID:          uuid.NewString(),
			WarID:       war.ID,
			Type:        models.EventTerritoryReinforce,
			InitiatorID: &userID,
			TargetID:    territory.ID,
			GuildID:     guildID,
			Details: models.EventDetails{
				"territory": territory.Slug,
				"amount":    amount,
			},
		}
		if err := s.Store.AppendEvent(ctx, event); err != nil {
			return nil, err
		}
		s.Notifier.Notify(ctx, Notification{
			Type:  string(models.EventTerritoryReinforce),
			WarID: war.ID,
			Payload: map[string]interface{}{
				"territory_id": territory.ID,
				"guild_id":     guildID,
				"amount":       amount,
			},
			Timestamp: time.Now(),
		})
		return territory, nil
	}
	return nil, contentionError(CodeBusy, "territory %s is under heavy contention, try again", territoryID)
}

// TickWar runs one periodic territory pass for an active war: controlled
// territories accrue points for their controller, reinforcements decay by
// ×0.95, and contested status is re-derived from the last five minutes of
// attack events (more than one distinct attacking guild ⇒ contested).
func (s *TerritoryService) TickWar(ctx context.Context, war *models.War) error {
	territories, err := s.Store.ListTerritories(ctx, war.ID)
	if err != nil {
		return err
	}
	contested, err := s.contestedTerritories(ctx, war.ID)
	if err != nil {
		return err
	}

	accrued := make(map[string]int64)
	for i := range territories {
		t := territories[i]
		if t.ControllerID != nil {
			accrued[*t.ControllerID] += t.Profile().PointsPerTick
		}

		t.Reinforcements *= ReinforcementDecay
		if contested[t.ID] {
			t.Status = models.TerritoryStatusContested
		} else if t.Status == models.TerritoryStatusContested {
			// Contention subsided; status follows control again.
			if t.ControllerID != nil {
				t.Status = models.TerritoryStatusFriendly
			} else {
				t.Status = models.TerritoryStatusNeutral
			}
		}

		if err := s.Store.SaveTerritory(ctx, &t); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				// An attack landed mid-tick; that write already carries
				// fresh defense state, skip this territory for this pass.
				continue
			}
			log.Printf("[TerritoryTick] war %s territory %s: %v", war.ID, t.ID, err)
		}
	}

	if len(accrued) == 0 {
		return nil
	}
	for guildID, points := range accrued {
		if err := s.Store.AddScore(ctx, war.ID, guildID, points); err != nil {
			return err
		}
	}
	return nil
}

func (s *TerritoryService) contestedTerritories(ctx context.Context, warID string) (map[string]bool, error) {
	since := time.Now().Add(-ContestedWindow)
	events, err := s.Store.ListEventsSince(ctx, warID, models.EventTerritoryAttack, since)
	if err != nil {
		return nil, err
	}
	attackers := make(map[string]map[string]bool) // territory id → attacking guilds
	for _, e := range events {
		if attackers[e.TargetID] == nil {
			attackers[e.TargetID] = make(map[string]bool)
		}
		attackers[e.TargetID][e.GuildID] = true
	}
	contested := make(map[string]bool)
	for territoryID, guilds := range attackers {
		if len(guilds) > 1 {
			contested[territoryID] = true
		}
	}
	return contested, nil
}

func (s *TerritoryService) bumpParticipantStats(ctx context.Context, warID, userID string, points int64, captures int64) {
	participant, err := s.Store.GetParticipant(ctx, warID, userID)
	if err != nil {
		log.Printf("[Territory] participant stats for %s in war %s: %v", userID, warID, err)
		return
	}
	participant.Points += points
	participant.TerritoriesCaptured += captures
	if err := s.Store.SaveParticipant(ctx, participant); err != nil {
		log.Printf("[Territory] save participant %s: %v", userID, err)
	}
}

// GenerateForWar builds the fixed war map: 5 gates, 8 resources, 3
// strongholds and 6 outposts placed at normalized positions with a minimum
// pairwise distance. Positions never change after creation.
func (s *TerritoryService) GenerateForWar(warID string) []models.Territory {
	var territories []models.Territory
	var placed [][2]float64

	for _, ttype := range []models.TerritoryType{
		models.TerritoryTypeGate,
		models.TerritoryTypeResource,
		models.TerritoryTypeStronghold,
		models.TerritoryTypeOutpost,
	} {
		profile := models.TerritoryProfiles[ttype]
		names := territoryNamePool[ttype]
		for i := 0; i < models.TerritoryGenerationCounts[ttype]; i++ {
			x, y := s.placePoint(placed)
			placed = append(placed, [2]float64{x, y})

			name := titleCaser.String(names[i%len(names)])
			territories = append(territories, models.Territory{
				ID:             uuid.NewString(),
				WarID:          warID,
				Name:           name,
				Slug:           slug.Make(name),
				Type:           ttype,
				Status:         models.TerritoryStatusNeutral,
				PosX:           x,
				PosY:           y,
				Reinforcements: initialReinforcements,
				BaseDefense:    profile.DefenseBonus,
				Version:        1,
			})
		}
	}
	return territories
}

// placePoint rejection-samples a position keeping minPlacementDistance from
// everything already placed; after maxPlacementAttempts the best candidate
// so far wins, so generation always terminates.
func (s *TerritoryService) placePoint(placed [][2]float64) (float64, float64) {
	bestX, bestY := s.rng(), s.rng()
	bestDist := -1.0
	for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
		x := 0.05 + 0.9*s.rng()
		y := 0.05 + 0.9*s.rng()
		nearest := math.MaxFloat64
		for _, p := range placed {
			d := math.Hypot(x-p[0], y-p[1])
			if d < nearest {
				nearest = d
			}
		}
		if nearest >= minPlacementDistance || len(placed) == 0 {
			return x, y
		}
		if nearest > bestDist {
			bestDist, bestX, bestY = nearest, x, y
		}
	}
	return bestX, bestY
}

// ProjectForViewer returns territories with status projected relative to the
// viewing guild (opposing control reads as "enemy").
func ProjectForViewer(territories []models.Territory, viewerGuildID string) []models.Territory {
	if viewerGuildID == "" {
		return territories
	}
	out := make([]models.Territory, len(territories))
	for i, t := range territories {
		t.Status = t.StatusFor(viewerGuildID)
		out[i] = t
	}
	return out
}

// SetRandForTest overrides the random source; tests force deterministic
// attack rolls through it.
func (s *TerritoryService) SetRandForTest(rng func() float64) {
	if rng == nil {
		s.rng = rand.Float64
		return
	}
	s.rng = rng
}
