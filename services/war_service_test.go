package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"guild-war-system/models"
)

type warFixture struct {
	store        *memStore
	guilds       *fakeGuilds
	ledger       *fakeLedger
	achievements *fakeAchievements
	notifier     *recordingNotifier
	svc          *WarService
}

func newWarFixture(t *testing.T) *warFixture {
	t.Helper()
	store := newMemStore()
	guilds := &fakeGuilds{guilds: map[string]*GuildInfo{
		"alpha": guildWithMembers("alpha", 10, 20, 40),
		"beta":  guildWithMembers("beta", 8, 15, 35),
	}}
	ledger := newFakeLedger()
	achievements := &fakeAchievements{}
	notifier := &recordingNotifier{}

	territories := NewTerritoryService(store, notifier, achievements)
	svc := NewWarService(store, territories, guilds, ledger, achievements, notifier)
	return &warFixture{
		store:        store,
		guilds:       guilds,
		ledger:       ledger,
		achievements: achievements,
		notifier:     notifier,
		svc:          svc,
	}
}

func rosterFor(guildID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = memberID(guildID, i)
	}
	return ids
}

// declareAndRegister drives a war through declaration and both rosters.
func (f *warFixture) declareAndRegister(t *testing.T) *models.War {
	t.Helper()
	war, err := f.svc.DeclareWar(context.Background(), "alpha", "beta")
	if err != nil {
		t.Fatalf("DeclareWar: %v", err)
	}
	if _, err := f.svc.RegisterParticipants(context.Background(), war.ID, "alpha", rosterFor("alpha", 15)); err != nil {
		t.Fatalf("register alpha: %v", err)
	}
	war, err = f.svc.RegisterParticipants(context.Background(), war.ID, "beta", rosterFor("beta", 12))
	if err != nil {
		t.Fatalf("register beta: %v", err)
	}
	return war
}

func TestDeclareWar(t *testing.T) {
	f := newWarFixture(t)
	war, err := f.svc.DeclareWar(context.Background(), "alpha", "beta")
	if err != nil {
		t.Fatalf("DeclareWar: %v", err)
	}

	if war.Status != models.WarStatusPreparation {
		t.Errorf("status = %s, want preparation", war.Status)
	}
	if got := war.EndTime.Sub(war.StartTime); got != WarDuration {
		t.Errorf("war duration = %s, want %s", got, WarDuration)
	}
	if got := time.Until(war.StartTime).Round(time.Minute); got != PreparationWindow {
		t.Errorf("preparation window = %s, want %s", got, PreparationWindow)
	}
	if war.Scores["alpha"] != 0 || war.Scores["beta"] != 0 {
		t.Errorf("initial scores = %v, want zeros for both guilds", war.Scores)
	}

	territories, err := f.store.ListTerritories(context.Background(), war.ID)
	if err != nil {
		t.Fatalf("ListTerritories: %v", err)
	}
	if len(territories) != 22 {
		t.Errorf("generated %d territories, want 22", len(territories))
	}

	events, _ := f.store.ListEvents(context.Background(), war.ID)
	if len(events) != 1 || events[0].Type != models.EventWarDeclared {
		t.Fatalf("expected one war_declared event, got %v", events)
	}
	if got := f.notifier.byType(string(models.EventWarDeclared)); len(got) != 1 {
		t.Errorf("war_declared notifications = %d, want 1", len(got))
	}
}

func TestDeclareWarValidations(t *testing.T) {
	f := newWarFixture(t)
	f.guilds.guilds["lowbie"] = guildWithMembers("lowbie", 3, 20, 40)
	f.guilds.guilds["tiny"] = guildWithMembers("tiny", 10, 4, 40)

	cases := []struct {
		name               string
		challenger, target string
		wantCode           string
	}{
		{"same guild", "alpha", "alpha", CodeInvalidGuild},
		{"empty target", "alpha", "", CodeInvalidGuild},
		{"challenger below level", "lowbie", "beta", CodeInsufficientLevel},
		{"target below level", "alpha", "lowbie", CodeInsufficientLevel},
		{"too few active members", "tiny", "beta", CodeInsufficientMembers},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.DeclareWar(context.Background(), tc.challenger, tc.target)
			if ErrCode(err) != tc.wantCode {
				t.Fatalf("err = %v, want code %s", err, tc.wantCode)
			}
		})
	}
}

func TestRegisterParticipants(t *testing.T) {
	f := newWarFixture(t)
	war, err := f.svc.DeclareWar(context.Background(), "alpha", "beta")
	if err != nil {
		t.Fatal(err)
	}

	// dupes collapse, unknown members filter out at level 0
	roster := append(rosterFor("alpha", 10), rosterFor("alpha", 10)...)
	roster = append(roster, "not-a-member")
	war, err = f.svc.RegisterParticipants(context.Background(), war.ID, "alpha", roster)
	if err != nil {
		t.Fatalf("RegisterParticipants: %v", err)
	}
	if len(war.Participants["alpha"]) != 10 {
		t.Fatalf("roster size = %d, want 10 after dedup and level filter", len(war.Participants["alpha"]))
	}

	participants, _ := f.store.ListParticipants(context.Background(), war.ID)
	if len(participants) != 10 {
		t.Fatalf("stored participants = %d, want 10", len(participants))
	}

	// re-registration replaces, never appends
	war, err = f.svc.RegisterParticipants(context.Background(), war.ID, "alpha", rosterFor("alpha", 5))
	if err != nil {
		t.Fatal(err)
	}
	if len(war.Participants["alpha"]) != 5 {
		t.Fatalf("roster size after replace = %d, want 5", len(war.Participants["alpha"]))
	}
	participants, _ = f.store.ListParticipants(context.Background(), war.ID)
	if len(participants) != 5 {
		t.Fatalf("stored participants after replace = %d, want 5", len(participants))
	}
}

func TestRegisterParticipantsRejections(t *testing.T) {
	f := newWarFixture(t)
	f.guilds.guilds["alpha"] = guildWithMembers("alpha", 10, 60, 40)
	war, err := f.svc.DeclareWar(context.Background(), "alpha", "beta")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("outsider guild", func(t *testing.T) {
		_, err := f.svc.RegisterParticipants(context.Background(), war.ID, "gamma", rosterFor("gamma", 10))
		if ErrCode(err) != CodeInvalidGuild {
			t.Fatalf("err = %v, want invalid_guild", err)
		}
	})

	t.Run("over the cap", func(t *testing.T) {
		_, err := f.svc.RegisterParticipants(context.Background(), war.ID, "alpha", rosterFor("alpha", 51))
		if ErrCode(err) != CodeTooManyParticipants {
			t.Fatalf("err = %v, want too_many_participants", err)
		}
	})

	t.Run("registration closed after start", func(t *testing.T) {
		stored, _ := f.store.GetWar(context.Background(), war.ID)
		stored.Status = models.WarStatusActive
		if err := f.store.SaveWar(context.Background(), stored); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.RegisterParticipants(context.Background(), war.ID, "alpha", rosterFor("alpha", 10))
		if ErrCode(err) != CodeRegistrationClosed {
			t.Fatalf("err = %v, want registration_closed", err)
		}
	})
}

func TestConcurrentRegistrationKeepsBothRosters(t *testing.T) {
	f := newWarFixture(t)
	war, err := f.svc.DeclareWar(context.Background(), "alpha", "beta")
	if err != nil {
		t.Fatalf("DeclareWar: %v", err)
	}

	// Both guilds submit rosters at the same time; each writes only its own
	// entry, so neither registration may erase the other's.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.RegisterParticipants(context.Background(), war.ID, "alpha", rosterFor("alpha", 15))
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.RegisterParticipants(context.Background(), war.ID, "beta", rosterFor("beta", 12))
	}()
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	stored, err := f.store.GetWar(context.Background(), war.ID)
	if err != nil {
		t.Fatalf("GetWar: %v", err)
	}
	if got := len(stored.Participants["alpha"]); got != 15 {
		t.Errorf("alpha roster = %d members, want 15", got)
	}
	if got := len(stored.Participants["beta"]); got != 12 {
		t.Errorf("beta roster = %d members, want 12", got)
	}
}

func TestStartWar(t *testing.T) {
	f := newWarFixture(t)
	war := f.declareAndRegister(t)

	// Not due yet.
	if err := f.svc.StartWar(context.Background(), war); ErrKind(err) != KindState {
		t.Fatalf("early start err = %v, want state error", err)
	}

	war.StartTime = time.Now().Add(-time.Minute)
	if err := f.svc.StartWar(context.Background(), war); err != nil {
		t.Fatalf("StartWar: %v", err)
	}
	if war.Status != models.WarStatusActive {
		t.Fatalf("status = %s, want active", war.Status)
	}
	stored, _ := f.store.GetWar(context.Background(), war.ID)
	if stored.Status != models.WarStatusActive {
		t.Fatalf("stored status = %s, want active", stored.Status)
	}
}

func TestStartWarCancelsOnThinRoster(t *testing.T) {
	f := newWarFixture(t)
	war, err := f.svc.DeclareWar(context.Background(), "alpha", "beta")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RegisterParticipants(context.Background(), war.ID, "alpha", rosterFor("alpha", 15)); err != nil {
		t.Fatal(err)
	}
	// beta only fields 5, below the floor of 10
	war, err = f.svc.RegisterParticipants(context.Background(), war.ID, "beta", rosterFor("beta", 5))
	if err != nil {
		t.Fatal(err)
	}

	war.StartTime = time.Now().Add(-time.Minute)
	if err := f.svc.StartWar(context.Background(), war); err != nil {
		t.Fatalf("StartWar: %v", err)
	}
	if war.Status != models.WarStatusCancelled {
		t.Fatalf("status = %s, want cancelled when a roster misses the floor", war.Status)
	}
	if war.CancelReason == "" {
		t.Error("cancellation must record a reason")
	}
	if war.Rewards != nil {
		t.Error("cancelled war must not carry rewards")
	}
}

func TestEndWar(t *testing.T) {
	f := newWarFixture(t)
	war := f.declareAndRegister(t)
	war.StartTime = time.Now().Add(-49 * time.Hour)
	war.EndTime = time.Now().Add(-time.Hour)
	war.Status = models.WarStatusActive
	war.Scores = models.GuildScores{"alpha": 3000, "beta": 1200}
	if err := f.store.SaveWar(context.Background(), war); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.EndWar(context.Background(), war); err != nil {
		t.Fatalf("EndWar: %v", err)
	}

	if war.Status != models.WarStatusCompleted {
		t.Fatalf("status = %s, want completed", war.Status)
	}
	if war.WinnerID == nil || *war.WinnerID != "alpha" {
		t.Fatalf("winner = %v, want alpha", war.WinnerID)
	}
	if war.Rewards == nil || war.Rewards.Crystals < BaseRewardBundle.Crystals {
		t.Fatalf("rewards = %+v, want at least the base bundle", war.Rewards)
	}

	if f.ledger.crystals["alpha"] != war.Rewards.Crystals {
		t.Errorf("treasury credit = %d, want %d", f.ledger.crystals["alpha"], war.Rewards.Crystals)
	}
	if f.ledger.exp["alpha"] != war.Rewards.GuildExp {
		t.Errorf("guild exp = %d, want %d", f.ledger.exp["alpha"], war.Rewards.GuildExp)
	}
	if len(f.achievements.victories) != 1 || f.achievements.victories[0] != "alpha" {
		t.Errorf("victory achievements = %v, want [alpha]", f.achievements.victories)
	}
}

func TestEndWarSurvivesLedgerFailure(t *testing.T) {
	f := newWarFixture(t)
	war := f.declareAndRegister(t)
	war.Status = models.WarStatusActive
	war.EndTime = time.Now().Add(-time.Minute)
	if err := f.store.SaveWar(context.Background(), war); err != nil {
		t.Fatal(err)
	}
	f.ledger.failWith = context.DeadlineExceeded

	// Reward distribution is reconciled out of band; the war still completes.
	if err := f.svc.EndWar(context.Background(), war); err != nil {
		t.Fatalf("EndWar with failing ledger: %v", err)
	}
	if war.Status != models.WarStatusCompleted {
		t.Fatalf("status = %s, want completed despite ledger failure", war.Status)
	}
}

func TestEndWarRollsBackOutcomeOnSaveFailure(t *testing.T) {
	f := newWarFixture(t)
	war := f.declareAndRegister(t)
	war.Status = models.WarStatusActive
	war.EndTime = time.Now().Add(-time.Minute)
	war.Scores = models.GuildScores{"alpha": 500, "beta": 100}
	if err := f.store.SaveWar(context.Background(), war); err != nil {
		t.Fatal(err)
	}

	f.store.saveWarErr = context.DeadlineExceeded
	if err := f.svc.EndWar(context.Background(), war); ErrKind(err) != KindStorage {
		t.Fatalf("EndWar with failing store err = %v, want storage error", err)
	}

	// The in-memory war must carry none of the half-applied outcome, so a
	// later retry starts clean.
	if war.Status != models.WarStatusActive {
		t.Errorf("status = %s, want active after failed save", war.Status)
	}
	if war.WinnerID != nil {
		t.Errorf("winner = %q, want unset after failed save", *war.WinnerID)
	}
	if war.Rewards != nil {
		t.Errorf("rewards = %+v, want unset after failed save", war.Rewards)
	}

	f.store.saveWarErr = nil
	if err := f.svc.EndWar(context.Background(), war); err != nil {
		t.Fatalf("EndWar retry: %v", err)
	}
	if war.Status != models.WarStatusCompleted || war.WinnerID == nil || *war.WinnerID != "alpha" {
		t.Fatalf("retry outcome = %s/%v, want completed with winner alpha", war.Status, war.WinnerID)
	}
}

func TestCancelWarRollsBackReasonOnSaveFailure(t *testing.T) {
	f := newWarFixture(t)
	war := f.declareAndRegister(t)

	f.store.saveWarErr = context.DeadlineExceeded
	if err := f.svc.CancelWar(context.Background(), war, "scheduling conflict"); ErrKind(err) != KindStorage {
		t.Fatalf("CancelWar with failing store err = %v, want storage error", err)
	}
	if war.Status != models.WarStatusPreparation {
		t.Errorf("status = %s, want preparation after failed save", war.Status)
	}
	if war.CancelReason != "" {
		t.Errorf("cancel reason = %q, want empty after failed save", war.CancelReason)
	}
}

func TestEndWarTieGoesToChallenger(t *testing.T) {
	f := newWarFixture(t)
	war := f.declareAndRegister(t)
	war.Status = models.WarStatusActive
	war.EndTime = time.Now().Add(-time.Minute)
	war.Scores = models.GuildScores{"alpha": 777, "beta": 777}
	if err := f.store.SaveWar(context.Background(), war); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.EndWar(context.Background(), war); err != nil {
		t.Fatalf("EndWar: %v", err)
	}
	if war.WinnerID == nil || *war.WinnerID != "alpha" {
		t.Fatalf("tie winner = %v, want challenger alpha", war.WinnerID)
	}
}

func TestCancelWar(t *testing.T) {
	f := newWarFixture(t)
	war := f.declareAndRegister(t)

	if err := f.svc.CancelWar(context.Background(), war, "mutual agreement"); err != nil {
		t.Fatalf("CancelWar: %v", err)
	}
	if war.Status != models.WarStatusCancelled || war.CancelReason != "mutual agreement" {
		t.Fatalf("war = %s/%q, want cancelled with reason", war.Status, war.CancelReason)
	}

	// Terminal wars stay terminal.
	if err := f.svc.CancelWar(context.Background(), war, "again"); ErrKind(err) != KindState {
		t.Fatalf("double cancel err = %v, want state error", err)
	}
	if err := f.svc.StartWar(context.Background(), war); ErrKind(err) != KindState {
		t.Fatalf("start after cancel err = %v, want state error", err)
	}
	if err := f.svc.EndWar(context.Background(), war); ErrKind(err) != KindState {
		t.Fatalf("end after cancel err = %v, want state error", err)
	}
}
