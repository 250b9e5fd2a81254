package models

import (
	"time"
)

// RewardReason indicates why shared points were granted
type RewardReason string

const (
	RewardReasonQuestDone      RewardReason = "quest_done"
	RewardReasonMatchWon       RewardReason = "match_won"
	RewardReasonMatchCompleted RewardReason = "match_completed"
	RewardReasonStreak         RewardReason = "streak"
	RewardReasonManual         RewardReason = "manual"
)

// SharedReward is an immutable grant of shared points to both pair members.
// AwardKey is the dedup token: callers pass the natural key of the triggering
// event (e.g. a completed match ID) so that both devices racing to write the
// same logical award land on the same remote path.
type SharedReward struct {
	AwardKey   string       `gorm:"primaryKey" json:"award_key"`
	PairKey    string       `gorm:"index;not null" json:"pair_key"`
	Amount     int64        `gorm:"not null" json:"amount"`
	Multiplier float64      `gorm:"default:1" json:"multiplier"`
	Reason     RewardReason `gorm:"type:varchar(32);not null" json:"reason"`
	RelatedID  string       `json:"related_id,omitempty"`
	AwardedBy  string       `json:"awarded_by"`
	Members    string       `json:"members"` // comma-joined member IDs
	CreatedAt  time.Time    `json:"created_at"`
}

// Points returns the effective point value of the award.
func (r *SharedReward) Points() int64 {
	if r.Multiplier <= 0 {
		return r.Amount
	}
	return int64(float64(r.Amount) * r.Multiplier)
}

// AppliedAward is the dedup ledger: one row per award key already applied to
// this device's balance. Rows are never deleted.
type AppliedAward struct {
	AwardKey  string    `gorm:"primaryKey" json:"award_key"`
	AppliedAt time.Time `gorm:"autoCreateTime" json:"applied_at"`
}

// PairBalance is the locally derived shared point total and tier for a pair.
type PairBalance struct {
	PairKey   string `gorm:"primaryKey" json:"pair_key"`
	Points    int64  `gorm:"default:0" json:"points"`
	Tier      int    `gorm:"default:1" json:"tier"`
	Timestamps
}

// tierThresholds maps tier level to the minimum point total required.
// Tier 1 is the floor.
var tierThresholds = []int64{0, 100, 300, 700, 1500, 3000}

// TierForPoints returns the tier level reached at the given point total.
func TierForPoints(points int64) int {
	tier := 1
	for i, min := range tierThresholds {
		if points >= min {
			tier = i + 1
		}
	}
	return tier
}

// --- remote wire form ---

// RewardPayload is the shape written under the remote rewards path, keyed by
// award key.
type RewardPayload struct {
	AwardKey   string  `json:"award_key"`
	Amount     int64   `json:"amount"`
	Multiplier float64 `json:"multiplier"`
	Reason     string  `json:"reason"`
	RelatedID  string  `json:"related_id,omitempty"`
	AwardedBy  string  `json:"awarded_by"`
	Members    string  `json:"members"`
	CreatedAt  int64   `json:"created_at"`
}
