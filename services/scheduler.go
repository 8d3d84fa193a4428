// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"guild-war-system/models"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler cadences. Each sweep runs independently; a failure in one
// war never blocks the others in the same pass.
const (
	LifecycleInterval = 60 * time.Second
	TerritoryInterval = 300 * time.Second
	CleanupInterval   = 3600 * time.Second

	// LiveRetention keeps finished wars queryable in the live store before
	// the cleanup sweep hands them to the archive pipeline.
	LiveRetention = 7 * 24 * time.Hour
)

// WarScheduler drives every time-based transition: due starts and ends,
// territory ticks, and archive cleanup.
type WarScheduler struct {
	Store       WarStore
	Wars        *WarService
	Territories *TerritoryService
	Archive     *ArchiveService

	sched gocron.Scheduler
}

func NewWarScheduler(store WarStore, wars *WarService, territories *TerritoryService, archive *ArchiveService) *WarScheduler {
	return &WarScheduler{
		Store:       store,
		Wars:        wars,
		Territories: territories,
		Archive:     archive,
	}
}

// Start registers the three periodic jobs and begins ticking.
func (s *WarScheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.sched = sched

	if _, err := sched.NewJob(
		gocron.DurationJob(LifecycleInterval),
		gocron.NewTask(func() { s.RunLifecycleSweep(ctx) }),
	); err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(TerritoryInterval),
		gocron.NewTask(func() { s.RunTerritorySweep(ctx) }),
	); err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(CleanupInterval),
		gocron.NewTask(func() { s.RunCleanupSweep(ctx) }),
	); err != nil {
		return err
	}

	sched.Start()
	log.Println("✅ War scheduler running (lifecycle 60s, territory 300s, cleanup 3600s)")
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *WarScheduler) Stop() {
	if s.sched != nil {
		if err := s.sched.Shutdown(); err != nil {
			log.Printf("[Scheduler] shutdown: %v", err)
		}
	}
}

// RunLifecycleSweep starts due preparation wars and ends due active wars.
func (s *WarScheduler) RunLifecycleSweep(ctx context.Context) {
	now := time.Now()

	preparing, err := s.Store.ListWarsByStatus(ctx, models.WarStatusPreparation)
	if err != nil {
		log.Printf("[Scheduler] list preparation wars: %v", err)
	} else {
		for i := range preparing {
			war := preparing[i]
			if now.Before(war.StartTime) {
				continue
			}
			if err := s.Wars.StartWar(ctx, &war); err != nil {
				log.Printf("[Scheduler] start war %s: %v", war.ID, err)
			} else {
				log.Printf("⚔️ War %s is now %s", war.ID, war.Status)
			}
		}
	}

	active, err := s.Store.ListWarsByStatus(ctx, models.WarStatusActive)
	if err != nil {
		log.Printf("[Scheduler] list active wars: %v", err)
		return
	}
	for i := range active {
		war := active[i]
		if now.Before(war.EndTime) {
			continue
		}
		if err := s.Wars.EndWar(ctx, &war); err != nil {
			log.Printf("[Scheduler] end war %s: %v", war.ID, err)
		} else if war.WinnerID != nil {
			log.Printf("🏆 War %s completed, winner %s", war.ID, *war.WinnerID)
		}
	}
}

// RunTerritorySweep ticks every active war's territories.
func (s *WarScheduler) RunTerritorySweep(ctx context.Context) {
	active, err := s.Store.ListWarsByStatus(ctx, models.WarStatusActive)
	if err != nil {
		log.Printf("[Scheduler] list active wars: %v", err)
		return
	}
	for i := range active {
		war := active[i]
		if err := s.Territories.TickWar(ctx, &war); err != nil {
			log.Printf("[Scheduler] territory tick for war %s: %v", war.ID, err)
		}
	}
}

// RunCleanupSweep archives finished wars older than the live retention
// window. Archival failures leave the war in place for the next sweep.
func (s *WarScheduler) RunCleanupSweep(ctx context.Context) {
	finished, err := s.Store.ListWarsByStatus(ctx, models.WarStatusCompleted, models.WarStatusCancelled)
	if err != nil {
		log.Printf("[Scheduler] list finished wars: %v", err)
		return
	}
	cutoff := time.Now().Add(-LiveRetention)
	for i := range finished {
		war := finished[i]
		if war.EndTime.After(cutoff) {
			continue
		}
		key, err := s.Archive.Archive(ctx, &war)
		if err != nil {
			log.Printf("[Scheduler] archive war %s: %v", war.ID, err)
			continue
		}
		log.Printf("📦 Archived war %s as %s", war.ID, key)
	}
}
