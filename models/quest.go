package models

import (
	"sort"
	"time"

	"gorm.io/gorm"
)

// QuestType classifies a daily quest entry
type QuestType string

const (
	QuestTypeQuiz   QuestType = "quiz"
	QuestTypeWord   QuestType = "word"
	QuestTypePhoto  QuestType = "photo"
	QuestTypePuzzle QuestType = "puzzle"
)

// QuestSet is the locally cached copy of the canonical daily content for one
// (pair, date). There is exactly one canonical set per pair per day; whichever
// device published first owns the quest IDs and the other device adopts them.
type QuestSet struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	PairKey     string    `gorm:"index:idx_pair_date,unique;not null" json:"pair_key"`
	DateKey     string    `gorm:"index:idx_pair_date,unique;not null" json:"date_key"`
	GeneratedBy string    `gorm:"not null" json:"generated_by"`
	GeneratedAt time.Time `json:"generated_at"`

	Quests []QuestItem `gorm:"foreignKey:QuestSetID;constraint:OnDelete:CASCADE" json:"quests"`

	Timestamps
}

// QuestItem is one activity inside a QuestSet. QuestID is the remote-assigned
// identifier and must never be regenerated locally once the set is published.
type QuestItem struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	QuestSetID string    `gorm:"index;not null" json:"-"`
	QuestID    string    `gorm:"index;not null" json:"quest_id"`
	Type       QuestType `gorm:"type:varchar(16);not null" json:"type"`
	ContentRef string    `json:"content_ref"`
	SortOrder  int       `json:"sort_order"`
	Pinned     bool      `gorm:"default:false" json:"pinned"`

	Completions []QuestCompletion `gorm:"foreignKey:QuestItemID;constraint:OnDelete:CASCADE" json:"completions"`
}

// QuestCompletion is a per-member done flag. Monotonic: once Done it is never
// flipped back.
type QuestCompletion struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	QuestItemID uint       `gorm:"uniqueIndex:idx_quest_member" json:"-"`
	MemberID    string     `gorm:"uniqueIndex:idx_quest_member;not null" json:"member_id"`
	Done        bool       `gorm:"default:false" json:"done"`
	DoneAt      *time.Time `json:"done_at,omitempty"`
}

// QuestIDs returns the sorted quest-ID set of this QuestSet.
func (qs *QuestSet) QuestIDs() []string {
	ids := make([]string, 0, len(qs.Quests))
	for _, q := range qs.Quests {
		ids = append(ids, q.QuestID)
	}
	sort.Strings(ids)
	return ids
}

// SameQuestIDs reports whether two sorted ID slices are identical.
func SameQuestIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DoneBy reports whether member has completed the quest.
func (q *QuestItem) DoneBy(memberID string) bool {
	for _, c := range q.Completions {
		if c.MemberID == memberID && c.Done {
			return true
		}
	}
	return false
}

// --- remote wire form ---

// QuestSetPayload is the shape stored under the remote quests path. It is
// decoded at the boundary; internal code only sees QuestSet.
type QuestSetPayload struct {
	DateKey     string         `json:"date_key"`
	GeneratedBy string         `json:"generated_by"`
	GeneratedAt int64          `json:"generated_at"`
	Quests      []QuestPayload `json:"quests"`
}

// QuestPayload is one quest entry on the wire. Done maps member ID to the
// unix timestamp of completion.
type QuestPayload struct {
	QuestID    string           `json:"quest_id"`
	Type       string           `json:"type"`
	ContentRef string           `json:"content_ref"`
	SortOrder  int              `json:"sort_order"`
	Pinned     bool             `json:"pinned,omitempty"`
	Done       map[string]int64 `json:"done,omitempty"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
