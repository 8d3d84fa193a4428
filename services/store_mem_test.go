package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"guild-war-system/models"
)

// memStore is the in-memory WarStore used by the service tests. It mirrors
// GormWarStore's semantics, including the optimistic territory write, and
// exposes a beforeSaveTerritory hook so tests can inject a concurrent write
// between a read and its save.
type memStore struct {
	mu           sync.Mutex
	wars         map[string]*models.War
	territories  map[string]*models.Territory
	events       []models.WarEvent
	participants map[string]map[string]*models.WarParticipant // warID → userID

	beforeSaveTerritory func(id string)
	saveWarErr          error
}

func newMemStore() *memStore {
	return &memStore{
		wars:         make(map[string]*models.War),
		territories:  make(map[string]*models.Territory),
		participants: make(map[string]map[string]*models.WarParticipant),
	}
}

func copyWar(w *models.War) *models.War {
	out := *w
	out.Participants = make(models.ParticipantRoster, len(w.Participants))
	for gid, members := range w.Participants {
		out.Participants[gid] = append([]string(nil), members...)
	}
	out.Scores = make(models.GuildScores, len(w.Scores))
	for gid, score := range w.Scores {
		out.Scores[gid] = score
	}
	return &out
}

func (s *memStore) GetWar(_ context.Context, id string) (*models.War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	war, ok := s.wars[id]
	if !ok {
		return nil, notFoundError(CodeWarNotFound, "war %s not found", id)
	}
	return copyWar(war), nil
}

func (s *memStore) SaveWar(_ context.Context, war *models.War) error {
	if s.saveWarErr != nil {
		return storageError("save war", s.saveWarErr)
	}
	if err := war.Validate(); err != nil {
		return storageError("validate war", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wars[war.ID] = copyWar(war)
	return nil
}

func (s *memStore) AddScore(_ context.Context, warID, guildID string, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	war, ok := s.wars[warID]
	if !ok {
		return notFoundError(CodeWarNotFound, "war %s not found", warID)
	}
	if war.Scores == nil {
		war.Scores = make(models.GuildScores)
	}
	war.Scores[guildID] += points
	return nil
}

func (s *memStore) SetRoster(_ context.Context, warID, guildID string, memberIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	war, ok := s.wars[warID]
	if !ok {
		return notFoundError(CodeWarNotFound, "war %s not found", warID)
	}
	if war.Participants == nil {
		war.Participants = make(models.ParticipantRoster)
	}
	war.Participants[guildID] = append([]string(nil), memberIDs...)
	return nil
}

func (s *memStore) ListWarsByStatus(_ context.Context, statuses ...models.WarStatus) ([]models.War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.War
	for _, war := range s.wars {
		for _, status := range statuses {
			if war.Status == status {
				out = append(out, *copyWar(war))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memStore) GetTerritory(_ context.Context, id string) (*models.Territory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.territories[id]
	if !ok {
		return nil, notFoundError(CodeTerritoryNotFound, "territory %s not found", id)
	}
	out := *t
	return &out, nil
}

func (s *memStore) SaveTerritory(_ context.Context, t *models.Territory) error {
	if s.beforeSaveTerritory != nil {
		s.beforeSaveTerritory(t.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.territories[t.ID]
	if !ok {
		return notFoundError(CodeTerritoryNotFound, "territory %s not found", t.ID)
	}
	if stored.Version != t.Version {
		return ErrVersionConflict
	}
	updated := *t
	updated.Version++
	s.territories[t.ID] = &updated
	t.Version++
	return nil
}

func (s *memStore) CreateTerritories(_ context.Context, territories []models.Territory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range territories {
		t := territories[i]
		s.territories[t.ID] = &t
	}
	return nil
}

func (s *memStore) ListTerritories(_ context.Context, warID string) ([]models.Territory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Territory
	for _, t := range s.territories {
		if t.WarID == warID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AppendEvent(_ context.Context, event *models.WarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *event
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) ListEvents(_ context.Context, warID string) ([]models.WarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WarEvent
	for _, e := range s.events {
		if e.WarID == warID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) ListEventsSince(_ context.Context, warID string, eventType models.WarEventType, since time.Time) ([]models.WarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WarEvent
	for _, e := range s.events {
		if e.WarID == warID && e.Type == eventType && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) ReplaceParticipants(_ context.Context, warID, guildID string, participants []models.WarParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.participants[warID]
	if byUser == nil {
		byUser = make(map[string]*models.WarParticipant)
		s.participants[warID] = byUser
	}
	for userID, p := range byUser {
		if p.GuildID == guildID {
			delete(byUser, userID)
		}
	}
	for i := range participants {
		p := participants[i]
		byUser[p.UserID] = &p
	}
	return nil
}

func (s *memStore) SaveParticipant(_ context.Context, participant *models.WarParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.participants[participant.WarID]
	if byUser == nil {
		byUser = make(map[string]*models.WarParticipant)
		s.participants[participant.WarID] = byUser
	}
	p := *participant
	byUser[p.UserID] = &p
	return nil
}

func (s *memStore) GetParticipant(_ context.Context, warID, userID string) (*models.WarParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[warID][userID]; ok {
		out := *p
		return &out, nil
	}
	return nil, notFoundError(CodeWarNotFound, "participant %s not found in war %s", userID, warID)
}

func (s *memStore) ListParticipants(_ context.Context, warID string) ([]models.WarParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WarParticipant
	for _, p := range s.participants[warID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) DeleteWarCascade(_ context.Context, warID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wars[warID]; !ok {
		return notFoundError(CodeWarNotFound, "war %s not found", warID)
	}
	kept := s.events[:0]
	for _, e := range s.events {
		if e.WarID != warID {
			kept = append(kept, e)
		}
	}
	s.events = kept
	for id, t := range s.territories {
		if t.WarID == warID {
			delete(s.territories, id)
		}
	}
	delete(s.participants, warID)
	delete(s.wars, warID)
	return nil
}

// --- collaborator doubles ---

// fakeGuilds serves canned guild info.
type fakeGuilds struct {
	guilds map[string]*GuildInfo
}

func (f *fakeGuilds) GetGuild(_ context.Context, guildID string) (*GuildInfo, error) {
	if g, ok := f.guilds[guildID]; ok {
		return g, nil
	}
	return nil, notFoundError(CodeInvalidGuild, "guild %s not found", guildID)
}

// guildWithMembers builds a guild of n active members at the given level.
func guildWithMembers(id string, level, n, memberLevel int) *GuildInfo {
	g := &GuildInfo{ID: id, Name: id, Level: level}
	for i := 0; i < n; i++ {
		g.Members = append(g.Members, GuildMember{
			UserID: memberID(id, i),
			Level:  memberLevel,
			Active: true,
		})
	}
	return g
}

func memberID(guildID string, i int) string {
	return guildID + "-member-" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26))
}

// fakeLedger records treasury and experience credits.
type fakeLedger struct {
	mu       sync.Mutex
	crystals map[string]int64
	exons    map[string]int64
	exp      map[string]int64
	failWith error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		crystals: make(map[string]int64),
		exons:    make(map[string]int64),
		exp:      make(map[string]int64),
	}
}

func (f *fakeLedger) CreditGuildTreasury(_ context.Context, guildID string, crystals, exons int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.crystals[guildID] += crystals
	f.exons[guildID] += exons
	return nil
}

func (f *fakeLedger) AddGuildExperience(_ context.Context, guildID string, amount int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.exp[guildID] += amount
	return nil
}

// fakeAchievements records fired triggers.
type fakeAchievements struct {
	mu        sync.Mutex
	captures  []string // territory ids
	victories []string // guild ids
}

func (f *fakeAchievements) OnTerritoryCaptured(_ context.Context, territoryID, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, territoryID)
}

func (f *fakeAchievements) OnWarVictory(_ context.Context, guildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.victories = append(f.victories, guildID)
}

// recordingNotifier captures emitted notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) byType(t string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}
