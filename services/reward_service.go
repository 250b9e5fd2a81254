// services/reward_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pair-sync-system/models"
	"pair-sync-system/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RewardService grants shared points to both pair members exactly once per
// logical event. Both devices may race to write the same award; they land on
// the same remote path because they derive the award key from the event's
// natural key, the store collapses the physical write, and the local applied
// ledger collapses the logical application (including our own write echoed
// back by the watcher).
type RewardService struct {
	DB       *gorm.DB
	Remote   store.RemoteStore
	PairKey  string
	MemberID string

	// OnChange fires after an award lands on the local balance. Wired to the
	// polling coordinator's notification fan-out at startup.
	OnChange func(models.PairBalance)
}

func NewRewardService(db *gorm.DB, remote store.RemoteStore, pairKey, memberID string) *RewardService {
	return &RewardService{DB: db, Remote: remote, PairKey: pairKey, MemberID: memberID}
}

// RewardsPath is the remote branch watched for new awards.
func (s *RewardService) RewardsPath() string {
	return fmt.Sprintf("pairs/%s/rewards", s.PairKey)
}

// Award writes a shared point grant. relatedID is the dedup token: pass the
// natural key of the triggering event (e.g. the completed match ID) so a
// duplicate grant from the partner's device collapses onto the same award.
// An empty relatedID gets a fresh random key, and no dedup happens — each
// such award is an independent grant.
func (s *RewardService) Award(ctx context.Context, amount int64, reason models.RewardReason, relatedID string, multiplier float64) (*models.SharedReward, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("award amount must be positive, got %d", amount)
	}
	if multiplier <= 0 {
		multiplier = 1
	}

	awardKey := relatedID
	if awardKey == "" {
		awardKey = uuid.NewString()
	}

	memberA, memberB := models.PairMembers(s.PairKey)
	reward := &models.SharedReward{
		AwardKey:   awardKey,
		PairKey:    s.PairKey,
		Amount:     amount,
		Multiplier: multiplier,
		Reason:     reason,
		RelatedID:  relatedID,
		AwardedBy:  s.MemberID,
		Members:    memberA + "," + memberB,
		CreatedAt:  time.Now().UTC(),
	}

	payload := models.RewardPayload{
		AwardKey:   reward.AwardKey,
		Amount:     reward.Amount,
		Multiplier: reward.Multiplier,
		Reason:     string(reward.Reason),
		RelatedID:  reward.RelatedID,
		AwardedBy:  reward.AwardedBy,
		Members:    reward.Members,
		CreatedAt:  reward.CreatedAt.Unix(),
	}
	value, err := encodeWire(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode award %s: %w", awardKey, err)
	}

	path := fmt.Sprintf("%s/%s", s.RewardsPath(), awardKey)
	if err := s.Remote.Set(ctx, path, value); err != nil {
		// The partner never sees an award that didn't reach the store. Not
		// retried here: surfaced as a sync gap, healed by the next successful
		// award or a full resync.
		log.Printf("[REWARD] ❌ failed to write award %s: %v", awardKey, err)
		return nil, fmt.Errorf("failed to write award %s: %w", awardKey, err)
	}

	// Apply locally right away; the watcher's echo of this write is a no-op
	// thanks to the ledger.
	if _, err := s.ApplyRemoteAward(reward); err != nil {
		return nil, err
	}
	log.Printf("[REWARD] ✅ awarded %d×%.1f (%s) as %s", amount, multiplier, reason, awardKey)
	return reward, nil
}

// ApplyRemoteAward lands an observed award on the local balance at most once.
// A second observation of the same key is a normal, silently-ignored case.
func (s *RewardService) ApplyRemoteAward(reward *models.SharedReward) (bool, error) {
	var applied bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.AppliedAward
		err := tx.First(&existing, "award_key = ?", reward.AwardKey).Error
		if err == nil {
			return nil // already applied
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger lookup failed: %w", err)
		}

		var balance models.PairBalance
		if err := tx.FirstOrCreate(&balance, models.PairBalance{PairKey: s.PairKey}).Error; err != nil {
			return fmt.Errorf("failed to load balance: %w", err)
		}
		balance.Points += reward.Points()
		balance.Tier = models.TierForPoints(balance.Points)
		if err := tx.Save(&balance).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		if err := tx.Create(&models.AppliedAward{AwardKey: reward.AwardKey}).Error; err != nil {
			return fmt.Errorf("failed to record applied award: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied && s.OnChange != nil {
		if balance, berr := s.Balance(); berr == nil {
			s.OnChange(balance)
		}
	}
	return applied, nil
}

// ApplyRemoteValue decodes a raw watcher event and applies it.
func (s *RewardService) ApplyRemoteValue(key string, value map[string]any) (bool, error) {
	var payload models.RewardPayload
	if err := decodeWire(value, &payload); err != nil {
		return false, fmt.Errorf("malformed award %s: %w", key, err)
	}
	if payload.AwardKey == "" {
		payload.AwardKey = key
	}
	reward := &models.SharedReward{
		AwardKey:   payload.AwardKey,
		PairKey:    s.PairKey,
		Amount:     payload.Amount,
		Multiplier: payload.Multiplier,
		Reason:     models.RewardReason(payload.Reason),
		RelatedID:  payload.RelatedID,
		AwardedBy:  payload.AwardedBy,
		Members:    payload.Members,
		CreatedAt:  time.Unix(payload.CreatedAt, 0).UTC(),
	}
	return s.ApplyRemoteAward(reward)
}

// Balance returns the local shared balance for the pair.
func (s *RewardService) Balance() (models.PairBalance, error) {
	var balance models.PairBalance
	err := s.DB.FirstOrCreate(&balance, models.PairBalance{PairKey: s.PairKey}).Error
	return balance, err
}
