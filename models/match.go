package models

import "time"

// MatchStatus is the lifecycle state of a turn-based match
type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
)

// PuzzleMatch mirrors the backend's authoritative match object. The local row
// is a cache only: the device never advances a match itself, it just stores
// whatever the backend last returned so the board can be shown offline.
type PuzzleMatch struct {
	ID           string      `gorm:"primaryKey;type:uuid" json:"id"`
	PairKey      string      `gorm:"index;not null" json:"pair_key"`
	GameFamily   string      `gorm:"index;not null" json:"game_family"` // e.g. "crossword", "memory"
	PuzzleRef    string      `json:"puzzle_ref"`
	Status       MatchStatus `gorm:"type:varchar(16);not null" json:"status"`
	BoardState   string      `gorm:"type:text" json:"board_state"` // opaque serialized progress
	CurrentTurn  string      `gorm:"not null" json:"current_turn"` // member ID holding the turn
	TurnCount    int         `gorm:"default:0" json:"turn_count"`
	MemberAID    string      `json:"member_a_id"`
	MemberBID    string      `json:"member_b_id"`
	MemberAScore int64       `gorm:"default:0" json:"member_a_score"`
	MemberBScore int64       `gorm:"default:0" json:"member_b_score"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`

	// CanPlay is derived, never stored: false when the match is served from
	// the offline cache or it is not this member's turn.
	CanPlay bool `gorm:"-" json:"can_play"`

	Timestamps
}

// IsTurnOf reports whether member holds the current turn on an active match.
func (m *PuzzleMatch) IsTurnOf(memberID string) bool {
	return m.Status == MatchStatusActive && m.CurrentTurn == memberID
}

// ScoreOf returns member's score counter.
func (m *PuzzleMatch) ScoreOf(memberID string) int64 {
	if memberID == m.MemberBID {
		return m.MemberBScore
	}
	return m.MemberAScore
}
