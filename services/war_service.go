package services

import (
	"context"
	"log"
	"time"

	"guild-war-system/models"

	"github.com/google/uuid"
)

// War lifecycle tuning (tunable via config/env later)
const (
	PreparationWindow = 24 * time.Hour
	WarDuration       = 48 * time.Hour

	MinGuildWarLevel    = 5  // guild level required to declare or be declared on
	MinActiveMembers    = 10 // challenger needs this many active members to declare
	MinParticipantLevel = 30 // members below this are filtered at registration
	MaxParticipants     = 50 // per-guild roster cap
	MinParticipants     = 10 // per-guild roster floor checked at start time
)

// WarService owns the war state machine. It validates every transition,
// delegates contention to TerritoryService and payouts to the scoring
// calculator, and announces every state change through the notifier.
type WarService struct {
	Store        WarStore
	Territories  *TerritoryService
	Guilds       GuildDirectory
	Ledger       RewardLedger
	Achievements AchievementTrigger
	Notifier     EventNotifier
}

func NewWarService(store WarStore, territories *TerritoryService, guilds GuildDirectory, ledger RewardLedger, achievements AchievementTrigger, notifier EventNotifier) *WarService {
	return &WarService{
		Store:        store,
		Territories:  territories,
		Guilds:       guilds,
		Ledger:       ledger,
		Achievements: achievements,
		Notifier:     notifier,
	}
}

// DeclareWar creates a war in preparation between two distinct, eligible
// guilds and generates its territory map. The war starts after the
// preparation window and runs for the fixed duration.
func (s *WarService) DeclareWar(ctx context.Context, challengerID, targetID string) (*models.War, error) {
	if challengerID == "" || targetID == "" || challengerID == targetID {
		return nil, validationError(CodeInvalidGuild, "a war needs two distinct guilds")
	}

	challenger, err := s.Guilds.GetGuild(ctx, challengerID)
	if err != nil {
		return nil, storageError("lookup challenger guild", err)
	}
	target, err := s.Guilds.GetGuild(ctx, targetID)
	if err != nil {
		return nil, storageError("lookup target guild", err)
	}

	if challenger.Level < MinGuildWarLevel || target.Level < MinGuildWarLevel {
		return nil, validationError(CodeInsufficientLevel,
			"both guilds must be at least level %d to war", MinGuildWarLevel)
	}
	if len(challenger.ActiveMembers()) < MinActiveMembers {
		return nil, validationError(CodeInsufficientMembers,
			"challenger needs at least %d active members, has %d", MinActiveMembers, len(challenger.ActiveMembers()))
	}

	now := time.Now()
	startTime := now.Add(PreparationWindow)
	war := &models.War{
		ID:           uuid.NewString(),
		ChallengerID: challengerID,
		TargetID:     targetID,
		Status:       models.WarStatusPreparation,
		StartTime:    startTime,
		EndTime:      startTime.Add(WarDuration),
		Participants: models.ParticipantRoster{challengerID: {}, targetID: {}},
		Scores:       models.GuildScores{challengerID: 0, targetID: 0},
	}

	if err := s.Store.SaveWar(ctx, war); err != nil {
		return nil, err
	}
	territories := s.Territories.GenerateForWar(war.ID)
	if err := s.Store.CreateTerritories(ctx, territories); err != nil {
		// No half-created wars: roll the declaration back and surface the
		// failure as retryable.
		if delErr := s.Store.DeleteWarCascade(ctx, war.ID); delErr != nil {
			log.Printf("[War] rollback of war %s after territory failure: %v", war.ID, delErr)
		}
		return nil, err
	}

	s.appendSystemEvent(ctx, war.ID, models.EventWarDeclared, models.EventDetails{
		"challenger_id": challengerID,
		"target_id":     targetID,
		"start_time":    war.StartTime,
		"end_time":      war.EndTime,
	})
	s.Notifier.Notify(ctx, Notification{
		Type:  string(models.EventWarDeclared),
		WarID: war.ID,
		Payload: map[string]interface{}{
			"challenger_id": challengerID,
			"target_id":     targetID,
			"start_time":    war.StartTime,
		},
		Timestamp: time.Now(),
	})
	return war, nil
}

// RegisterParticipants sets a guild's roster for a war in preparation.
// Members below the minimum level are filtered out; registration replaces
// the guild's previous roster, so re-submitting is idempotent.
func (s *WarService) RegisterParticipants(ctx context.Context, warID, guildID string, memberIDs []string) (*models.War, error) {
	war, err := s.Store.GetWar(ctx, warID)
	if err != nil {
		return nil, err
	}
	if !war.HasGuild(guildID) {
		return nil, validationError(CodeInvalidGuild, "guild %s is not a contestant in war %s", guildID, warID)
	}
	if war.Status != models.WarStatusPreparation {
		return nil, &WarError{Kind: KindState, Code: CodeRegistrationClosed,
			Message: "registration is only open during preparation"}
	}

	guild, err := s.Guilds.GetGuild(ctx, guildID)
	if err != nil {
		return nil, storageError("lookup guild", err)
	}

	seen := make(map[string]bool)
	var eligible []string
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if guild.MemberLevel(id) >= MinParticipantLevel {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) > MaxParticipants {
		return nil, validationError(CodeTooManyParticipants,
			"at most %d participants per guild, got %d eligible", MaxParticipants, len(eligible))
	}

	participants := make([]models.WarParticipant, 0, len(eligible))
	for _, userID := range eligible {
		participants = append(participants, models.WarParticipant{
			ID:      uuid.NewString(),
			WarID:   warID,
			UserID:  userID,
			GuildID: guildID,
			Stats:   map[string]int64{},
		})
	}
	if err := s.Store.ReplaceParticipants(ctx, warID, guildID, participants); err != nil {
		return nil, err
	}

	// Roster write is scoped to this guild's key only, so the two guilds
	// registering at the same time cannot clobber each other's entry.
	if err := s.Store.SetRoster(ctx, warID, guildID, eligible); err != nil {
		return nil, err
	}
	war.Participants[guildID] = eligible

	s.appendSystemEvent(ctx, warID, models.EventParticipantsRegistered, models.EventDetails{
		"guild_id": guildID,
		"count":    len(eligible),
		"filtered": len(memberIDs) - len(eligible),
	})
	return war, nil
}

// StartWar moves a due preparation war to active, or cancels it when either
// side failed to field the minimum roster.
func (s *WarService) StartWar(ctx context.Context, war *models.War) error {
	if war.Status != models.WarStatusPreparation {
		return stateError("cannot start war %s from status %s", war.ID, war.Status)
	}
	if time.Now().Before(war.StartTime) {
		return stateError("war %s does not start until %s", war.ID, war.StartTime.Format(time.RFC3339))
	}

	for _, guildID := range war.GuildIDs() {
		if len(war.Participants[guildID]) < MinParticipants {
			return s.CancelWar(ctx, war,
				"guild "+guildID+" failed to register the minimum number of participants")
		}
	}

	return s.transition(ctx, war, models.WarStatusActive, models.EventWarStarted, models.EventDetails{
		"end_time": war.EndTime,
	})
}

// EndWar completes an active war past its end time: picks the winner,
// computes and records rewards, then credits the winner's treasury and
// experience and fires the victory achievement. External calls happen after
// the terminal state is durable.
func (s *WarService) EndWar(ctx context.Context, war *models.War) error {
	if war.Status != models.WarStatusActive {
		return stateError("cannot end war %s from status %s", war.ID, war.Status)
	}
	if time.Now().Before(war.EndTime) {
		return stateError("war %s does not end until %s", war.ID, war.EndTime.Format(time.RFC3339))
	}

	territories, err := s.Store.ListTerritories(ctx, war.ID)
	if err != nil {
		return err
	}

	winnerID := WinnerOf(war)
	rewards := CalculateRewards(war, territories, winnerID)
	war.WinnerID = &winnerID
	war.Rewards = &rewards

	if err := s.transition(ctx, war, models.WarStatusCompleted, models.EventWarEnded, models.EventDetails{
		"winner_id": winnerID,
		"scores":    war.Scores,
		"rewards":   rewards,
	}); err != nil {
		war.WinnerID = nil
		war.Rewards = nil
		return err
	}

	// Reward distribution is fire-and-forget from the state machine's point
	// of view: the war is already completed, collaborator failures are
	// logged and reconciled out of band.
	if err := s.Ledger.CreditGuildTreasury(ctx, winnerID, rewards.Crystals, rewards.Exons); err != nil {
		log.Printf("[War] treasury credit for guild %s (war %s): %v", winnerID, war.ID, err)
	}
	if err := s.Ledger.AddGuildExperience(ctx, winnerID, rewards.GuildExp, "war_victory"); err != nil {
		log.Printf("[War] guild exp for guild %s (war %s): %v", winnerID, war.ID, err)
	}
	s.Achievements.OnWarVictory(ctx, winnerID)
	return nil
}

// CancelWar cancels any non-terminal war with a reason. No rewards.
func (s *WarService) CancelWar(ctx context.Context, war *models.War, reason string) error {
	if war.Status.Terminal() {
		return stateError("war %s is already %s", war.ID, war.Status)
	}
	prevReason := war.CancelReason
	war.CancelReason = reason
	if err := s.transition(ctx, war, models.WarStatusCancelled, models.EventWarCancelled, models.EventDetails{
		"reason": reason,
	}); err != nil {
		war.CancelReason = prevReason
		return err
	}
	return nil
}

// transition validates the state-machine edge, persists the war, and emits
// the event and notification. Persistence failure leaves the in-memory war
// untouched for the caller.
func (s *WarService) transition(ctx context.Context, war *models.War, to models.WarStatus, eventType models.WarEventType, details models.EventDetails) error {
	if !war.Status.CanTransition(to) {
		return stateError("illegal transition %s → %s for war %s", war.Status, to, war.ID)
	}
	from := war.Status
	war.Status = to
	if err := s.Store.SaveWar(ctx, war); err != nil {
		war.Status = from
		return err
	}

	s.appendSystemEvent(ctx, war.ID, eventType, details)
	payload := map[string]interface{}{"status": string(to)}
	for k, v := range details {
		payload[k] = v
	}
	s.Notifier.Notify(ctx, Notification{
		Type:      string(eventType),
		WarID:     war.ID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	return nil
}

func (s *WarService) appendSystemEvent(ctx context.Context, warID string, eventType models.WarEventType, details models.EventDetails) {
	event := &models.WarEvent{
		ID:      uuid.NewString(),
		WarID:   warID,
		Type:    eventType,
		Details: details,
	}
	if err := s.Store.AppendEvent(ctx, event); err != nil {
		log.Printf("[War] append %s event for war %s: %v", eventType, warID, err)
	}
}
