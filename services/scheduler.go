// services/scheduler.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"pair-sync-system/models"
	"pair-sync-system/utils"

	"github.com/go-co-op/gocron/v2"
)

// StartRolloverScheduler re-runs the daily election when the calendar date
// flips while the daemon is up, so a device that stays online overnight picks
// up (or generates) the new day's set without waiting for a foreground event.
func (s *QuestService) StartRolloverScheduler(ctx context.Context) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	lastDate := models.DateKey(time.Now())

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			today := models.DateKey(time.Now())
			if today == lastDate {
				return
			}
			lastDate = today
			log.Printf("[QUEST] 📅 date rolled over to %s, re-running election", today)
			if _, err := s.EnsureDailyQuests(ctx, time.Now()); err != nil {
				log.Printf("[QUEST] ⚠️ rollover election failed: %v", err)
			}
		}),
	)

	go func() {
		<-ctx.Done()
		_ = sched.Shutdown()
	}()
}

// StartSnapshotScheduler periodically exports the pair's balance and ledger
// size to object storage. Snapshots are the recovery input for a full resync
// after a prolonged sync gap.
func (s *RewardService) StartSnapshotScheduler(ctx context.Context, every time.Duration) {
	if !utils.SnapshotsEnabled() {
		log.Println("[SNAPSHOT] snapshot uploads disabled (no bucket configured)")
		return
	}

	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			balance, err := s.Balance()
			if err != nil {
				log.Printf("[SNAPSHOT] ⚠️ failed to read balance: %v", err)
				return
			}
			var ledgerSize int64
			if err := s.DB.Model(&models.AppliedAward{}).Count(&ledgerSize).Error; err != nil {
				log.Printf("[SNAPSHOT] ⚠️ failed to count ledger: %v", err)
				return
			}

			payload, _ := json.Marshal(map[string]any{
				"pair_key":    s.PairKey,
				"member_id":   s.MemberID,
				"points":      balance.Points,
				"tier":        balance.Tier,
				"ledger_size": ledgerSize,
				"taken_at":    time.Now().UTC().Format(time.RFC3339),
			})

			key := fmt.Sprintf("snapshots/%s/%s/%s.json", s.PairKey, s.MemberID, models.DateKey(time.Now()))
			if err := utils.UploadSnapshot(ctx, key, payload); err != nil {
				log.Printf("[SNAPSHOT] ❌ upload failed: %v", err)
				return
			}
			log.Printf("[SNAPSHOT] ✅ uploaded %s (%d points, %d ledger rows)", key, balance.Points, ledgerSize)
		}),
	)

	go func() {
		<-ctx.Done()
		_ = sched.Shutdown()
	}()
}
