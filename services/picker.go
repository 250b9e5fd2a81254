// services/picker.go
package services

import (
	"hash/fnv"
	"strconv"

	"pair-sync-system/models"
)

// StaticPicker is the built-in quest picker: a fixed daily mix with content
// refs derived from the date, so both devices would propose similar (but not
// byte-identical) sets. Real content banks plug in behind QuestPicker.
type StaticPicker struct{}

func (StaticPicker) PickDaily(dateKey string) ([]QuestDraft, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(dateKey))
	seed := h.Sum32()

	return []QuestDraft{
		{Type: models.QuestTypeQuiz, ContentRef: refFor("quiz", seed), Pinned: true},
		{Type: models.QuestTypeWord, ContentRef: refFor("word", seed>>8)},
		{Type: models.QuestTypePuzzle, ContentRef: refFor("puzzle", seed>>16)},
	}, nil
}

func refFor(bank string, n uint32) string {
	const bankSize = 500
	return bank + "-" + strconv.Itoa(int(n%bankSize))
}
