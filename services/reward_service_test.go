package services

import (
	"context"
	"testing"
	"time"

	"pair-sync-system/models"
	"pair-sync-system/store"
)

func newRewardDevice(t *testing.T, remote store.RemoteStore, memberID string) *RewardService {
	t.Helper()
	pairKey := models.PairKey("alice", "bob")
	return NewRewardService(newTestDB(t, "reward_"+memberID), remote, pairKey, memberID)
}

// deliverAll replays everything on the remote rewards branch into the
// device's apply path, the way the award watcher does.
func deliverAll(t *testing.T, remote store.RemoteStore, svc *RewardService) {
	t.Helper()
	children, err := remote.Children(context.Background(), svc.RewardsPath())
	if err != nil {
		t.Fatalf("failed to list rewards: %v", err)
	}
	for key, value := range children {
		if _, err := svc.ApplyRemoteValue(key, value); err != nil {
			t.Fatalf("failed to apply %s: %v", key, err)
		}
	}
}

func TestApplySameAwardTwiceChangesBalanceOnce(t *testing.T) {
	remote := store.NewMemoryStore()
	svc := newRewardDevice(t, remote, "alice")

	reward := &models.SharedReward{
		AwardKey:   "match-42",
		PairKey:    svc.PairKey,
		Amount:     25,
		Multiplier: 1,
		Reason:     models.RewardReasonMatchWon,
		CreatedAt:  time.Now().UTC(),
	}

	applied, err := svc.ApplyRemoteAward(reward)
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}
	applied, err = svc.ApplyRemoteAward(reward)
	if err != nil {
		t.Fatalf("second apply errored: %v", err)
	}
	if applied {
		t.Fatal("second apply of the same award key was not ignored")
	}

	balance, err := svc.Balance()
	if err != nil {
		t.Fatalf("balance read failed: %v", err)
	}
	if balance.Points != 25 {
		t.Fatalf("expected 25 points, got %d", balance.Points)
	}
}

func TestRacingWritersGrantExactlyOncePerDevice(t *testing.T) {
	remote := store.NewMemoryStore()
	alice := newRewardDevice(t, remote, "alice")
	bob := newRewardDevice(t, remote, "bob")
	ctx := context.Background()

	// Both devices observe the same completed match and race to write the
	// same award key.
	if _, err := alice.Award(ctx, 30, models.RewardReasonMatchCompleted, "match-42", 1); err != nil {
		t.Fatalf("alice award failed: %v", err)
	}
	if _, err := bob.Award(ctx, 30, models.RewardReasonMatchCompleted, "match-42", 1); err != nil {
		t.Fatalf("bob award failed: %v", err)
	}

	// Each device then sees the full remote branch, echoes included.
	deliverAll(t, remote, alice)
	deliverAll(t, remote, bob)
	deliverAll(t, remote, alice) // a second observation pass changes nothing

	for _, svc := range []*RewardService{alice, bob} {
		balance, err := svc.Balance()
		if err != nil {
			t.Fatalf("%s balance read failed: %v", svc.MemberID, err)
		}
		if balance.Points != 30 {
			t.Fatalf("%s balance = %d, want exactly 30", svc.MemberID, balance.Points)
		}
	}
}

func TestAwardsWithoutRelatedIDAreIndependent(t *testing.T) {
	remote := store.NewMemoryStore()
	alice := newRewardDevice(t, remote, "alice")
	ctx := context.Background()

	r1, err := alice.Award(ctx, 10, models.RewardReasonManual, "", 1)
	if err != nil {
		t.Fatalf("first award failed: %v", err)
	}
	r2, err := alice.Award(ctx, 10, models.RewardReasonManual, "", 1)
	if err != nil {
		t.Fatalf("second award failed: %v", err)
	}
	if r1.AwardKey == r2.AwardKey {
		t.Fatal("null-related awards shared an award key")
	}

	balance, err := alice.Balance()
	if err != nil {
		t.Fatalf("balance read failed: %v", err)
	}
	if balance.Points != 20 {
		t.Fatalf("expected both manual awards to land, got %d points", balance.Points)
	}
}

func TestTierRecalculatedOnApply(t *testing.T) {
	remote := store.NewMemoryStore()
	alice := newRewardDevice(t, remote, "alice")
	ctx := context.Background()

	if _, err := alice.Award(ctx, 90, models.RewardReasonStreak, "streak-1", 1); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	balance, _ := alice.Balance()
	if balance.Tier != 1 {
		t.Fatalf("expected tier 1 at %d points, got %d", balance.Points, balance.Tier)
	}

	if _, err := alice.Award(ctx, 10, models.RewardReasonStreak, "streak-2", 1); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	balance, _ = alice.Balance()
	if balance.Points != 100 || balance.Tier != 2 {
		t.Fatalf("expected 100 points / tier 2, got %d / %d", balance.Points, balance.Tier)
	}
}

func TestOnChangeFiresOncePerAppliedAward(t *testing.T) {
	remote := store.NewMemoryStore()
	alice := newRewardDevice(t, remote, "alice")
	ctx := context.Background()

	var calls int
	alice.OnChange = func(models.PairBalance) { calls++ }

	if _, err := alice.Award(ctx, 15, models.RewardReasonQuestDone, "quest-abc", 2); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	deliverAll(t, remote, alice) // the echo must not fire a second change

	if calls != 1 {
		t.Fatalf("OnChange fired %d time(s), want 1", calls)
	}
	balance, _ := alice.Balance()
	if balance.Points != 30 {
		t.Fatalf("expected 15×2 = 30 points, got %d", balance.Points)
	}
}

func TestAwardFailsClosedWhenStoreIsDown(t *testing.T) {
	alice := newRewardDevice(t, store.NewMemoryStore(), "alice")
	alice.Remote = failingStore{}

	if _, err := alice.Award(context.Background(), 10, models.RewardReasonManual, "", 1); err == nil {
		t.Fatal("expected an error when the store write fails")
	}
	balance, _ := alice.Balance()
	if balance.Points != 0 {
		t.Fatalf("shared award must not land locally without reaching the store, got %d", balance.Points)
	}
}
