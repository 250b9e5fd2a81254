// workers/award_watcher.go
package workers

import (
	"context"
	"log"

	"pair-sync-system/services"
	"pair-sync-system/store"
)

// AwardWatcher bridges the remote rewards branch into the reward service.
// Every new child under the pair's rewards path is handed to the ledger-
// guarded apply, so duplicates (including our own writes echoed back) are
// silently dropped.
type AwardWatcher struct {
	Remote  store.RemoteStore
	Rewards *services.RewardService
}

func NewAwardWatcher(remote store.RemoteStore, rewards *services.RewardService) *AwardWatcher {
	return &AwardWatcher{Remote: remote, Rewards: rewards}
}

func (w *AwardWatcher) Start(ctx context.Context) {
	log.Println("🔁 Starting Award Watcher (rewards branch → local balance)…")
	go w.run(ctx)
}

func (w *AwardWatcher) run(ctx context.Context) {
	events, err := w.Remote.WatchChildren(ctx, w.Rewards.RewardsPath())
	if err != nil {
		log.Printf("[AWARD] ❌ failed to watch rewards branch: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Award Watcher stopped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			applied, err := w.Rewards.ApplyRemoteValue(ev.Key, ev.Value)
			if err != nil {
				log.Printf("[AWARD] ⚠️ failed to apply award %s: %v", ev.Key, err)
				continue
			}
			if applied {
				log.Printf("[AWARD] 📥 applied award %s", ev.Key)
			}
		}
	}
}
