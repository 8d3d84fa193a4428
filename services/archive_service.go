package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"guild-war-system/models"
	"guild-war-system/utils"

	"github.com/klauspost/compress/gzip"
)

const archivePrefix = "wars/"

// ContributorStat is one row of a top-contributor ranking in the archive.
type ContributorStat struct {
	UserID  string `json:"user_id"`
	GuildID string `json:"guild_id"`
	Value   int64  `json:"value"`
}

// ArchiveStats are derived at archival time so history queries never need
// the live store.
type ArchiveStats struct {
	DurationSeconds  int64                       `json:"duration_seconds"`
	TerritoryControl map[string]int              `json:"territory_control"` // guild id → territories held at the end
	TopByPoints      []ContributorStat           `json:"top_by_points"`
	TopByKills       []ContributorStat           `json:"top_by_kills"`
	TopByCaptures    []ContributorStat           `json:"top_by_captures"`
	EventCounts      map[models.WarEventType]int `json:"event_counts"`
}

// WarArchive is the self-contained, lossless record of a finished war.
type WarArchive struct {
	War          models.War              `json:"war"`
	Territories  []models.Territory      `json:"territories"`
	Participants []models.WarParticipant `json:"participants"`
	Events       []models.WarEvent       `json:"events"` // complete, in creation order
	Stats        ArchiveStats            `json:"stats"`
	ArchivedAt   time.Time               `json:"archived_at"`
}

// ArchiveService turns completed and cancelled wars into durable compressed
// records and removes them from the live store. Archival is idempotent: a
// failed blob write skips deletion entirely and the war is retried on the
// next cleanup pass.
type ArchiveService struct {
	Store    WarStore
	Blobs    utils.ArchiveStorage
	Notifier EventNotifier
}

func NewArchiveService(store WarStore, blobs utils.ArchiveStorage, notifier EventNotifier) *ArchiveService {
	return &ArchiveService{Store: store, Blobs: blobs, Notifier: notifier}
}

// ArchiveKey derives the deterministic blob key for a war:
// wars/<warID>_<endDateYYYYMMDD>.json.gz
func ArchiveKey(warID string, endTime time.Time) string {
	return fmt.Sprintf("%s%s_%s.json.gz", archivePrefix, warID, endTime.UTC().Format("20060102"))
}

// Archive builds the record, writes it durably, and only then deletes the
// war's events, territories, participants and the war itself from the live
// store in one transaction.
func (s *ArchiveService) Archive(ctx context.Context, war *models.War) (string, error) {
	if !war.Status.Terminal() {
		return "", stateError("war %s is %s, only completed or cancelled wars archive", war.ID, war.Status)
	}

	record, err := s.buildRecord(ctx, war)
	if err != nil {
		return "", err
	}

	data, err := compressRecord(record)
	if err != nil {
		return "", archivalError("encode archive", err)
	}

	key := ArchiveKey(war.ID, war.EndTime)
	if err := s.Blobs.Put(ctx, key, data); err != nil {
		return "", archivalError("write archive blob", err)
	}

	if err := s.Store.DeleteWarCascade(ctx, war.ID); err != nil {
		return "", err
	}

	s.Notifier.Notify(ctx, Notification{
		Type:  "war_archived",
		WarID: war.ID,
		Payload: map[string]interface{}{
			"archive_key": key,
			"events":      len(record.Events),
		},
		Timestamp: time.Now(),
	})
	return key, nil
}

// Retrieve locates a war's archive by id and returns the decompressed
// record.
func (s *ArchiveService) Retrieve(ctx context.Context, warID string) (*WarArchive, error) {
	keys, err := s.Blobs.List(ctx, archivePrefix+warID+"_")
	if err != nil {
		return nil, archivalError("list archives", err)
	}
	if len(keys) == 0 {
		return nil, notFoundError(CodeArchiveNotFound, "no archive for war %s", warID)
	}
	data, err := s.Blobs.Get(ctx, keys[0])
	if err != nil {
		return nil, archivalError("read archive blob", err)
	}
	record, err := decompressRecord(data)
	if err != nil {
		return nil, archivalError("decode archive", err)
	}
	return record, nil
}

// ListArchivedKeys returns every archive key, newest end date first.
func (s *ArchiveService) ListArchivedKeys(ctx context.Context) ([]string, error) {
	keys, err := s.Blobs.List(ctx, archivePrefix)
	if err != nil {
		return nil, archivalError("list archives", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// PurgeOlderThan deletes archive files whose end date is past the long
// retention window. Returns how many were removed.
func (s *ArchiveService) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	keys, err := s.Blobs.List(ctx, archivePrefix)
	if err != nil {
		return 0, archivalError("list archives", err)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	purged := 0
	for _, key := range keys {
		endDate, ok := archiveKeyDate(key)
		if !ok {
			continue
		}
		if endDate.Before(cutoff) {
			if err := s.Blobs.Delete(ctx, key); err != nil {
				return purged, archivalError("delete archive "+key, err)
			}
			purged++
		}
	}
	return purged, nil
}

func archiveKeyDate(key string) (time.Time, bool) {
	base := strings.TrimSuffix(path.Base(key), ".json.gz")
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", base[idx+1:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *ArchiveService) buildRecord(ctx context.Context, war *models.War) (*WarArchive, error) {
	territories, err := s.Store.ListTerritories(ctx, war.ID)
	if err != nil {
		return nil, err
	}
	participants, err := s.Store.ListParticipants(ctx, war.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.Store.ListEvents(ctx, war.ID)
	if err != nil {
		return nil, err
	}

	return &WarArchive{
		War:          *war,
		Territories:  territories,
		Participants: participants,
		Events:       events,
		Stats:        deriveStats(war, territories, participants, events),
		ArchivedAt:   time.Now().UTC(),
	}, nil
}

func deriveStats(war *models.War, territories []models.Territory, participants []models.WarParticipant, events []models.WarEvent) ArchiveStats {
	stats := ArchiveStats{
		DurationSeconds:  int64(war.EndTime.Sub(war.StartTime).Seconds()),
		TerritoryControl: make(map[string]int),
		EventCounts:      make(map[models.WarEventType]int),
	}
	for _, gid := range war.GuildIDs() {
		stats.TerritoryControl[gid] = 0
	}
	for _, t := range territories {
		if t.ControllerID != nil {
			stats.TerritoryControl[*t.ControllerID]++
		}
	}
	for _, e := range events {
		stats.EventCounts[e.Type]++
	}
	stats.TopByPoints = topContributors(participants, func(p models.WarParticipant) int64 { return p.Points })
	stats.TopByKills = topContributors(participants, func(p models.WarParticipant) int64 { return p.Kills })
	stats.TopByCaptures = topContributors(participants, func(p models.WarParticipant) int64 { return p.TerritoriesCaptured })
	return stats
}

func topContributors(participants []models.WarParticipant, value func(models.WarParticipant) int64) []ContributorStat {
	ranked := make([]ContributorStat, 0, len(participants))
	for _, p := range participants {
		ranked = append(ranked, ContributorStat{UserID: p.UserID, GuildID: p.GuildID, Value: value(p)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Value > ranked[j].Value })
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	return ranked
}

func compressRecord(record *WarArchive) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressRecord(data []byte) (*WarArchive, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	var record WarArchive
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
