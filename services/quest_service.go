// services/quest_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"pair-sync-system/models"
	"pair-sync-system/store"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// QuestDraft is what the content picker proposes; the service assigns the
// quest ID and sort order when the set is generated.
type QuestDraft struct {
	Type       models.QuestType
	ContentRef string
	Pinned     bool
}

// QuestPicker supplies the daily activity drafts. Content banks (question
// pools, word lists) live behind this interface and are out of scope here.
type QuestPicker interface {
	PickDaily(dateKey string) ([]QuestDraft, error)
}

// QuestService runs the election & generation protocol: exactly one canonical
// quest set per (pair, date), agreed on by two devices that never talk to
// each other directly. First writer to the remote path wins; the loser (and
// any stale cache) adopts the remote set verbatim on the next check.
type QuestService struct {
	DB       *gorm.DB
	Remote   store.RemoteStore
	Picker   QuestPicker
	PairKey  string
	MemberID string

	// Waiting-peer election tuning. The lexicographically-second member backs
	// off WaitDelay between re-checks, up to WaitRetries, before falling back
	// to generating locally.
	WaitDelay   time.Duration
	WaitRetries int
}

func NewQuestService(db *gorm.DB, remote store.RemoteStore, picker QuestPicker, pairKey, memberID string) *QuestService {
	return &QuestService{
		DB:          db,
		Remote:      remote,
		Picker:      picker,
		PairKey:     pairKey,
		MemberID:    memberID,
		WaitDelay:   4 * time.Second,
		WaitRetries: 3,
	}
}

func (s *QuestService) questsPath(dateKey string) string {
	return fmt.Sprintf("pairs/%s/quests/%s", s.PairKey, dateKey)
}

// EnsureDailyQuests returns the canonical quest set for the given day,
// running the election if nobody has published one yet.
func (s *QuestService) EnsureDailyQuests(ctx context.Context, day time.Time) (*models.QuestSet, error) {
	dateKey := models.DateKey(day)

	payload, err := s.fetchRemote(ctx, dateKey)
	if err != nil {
		// Remote unreachable: serve whatever we have. The caller can retry;
		// there is no fatal path here.
		log.Printf("[QUEST] ⚠️ remote read failed for %s, falling back to cache: %v", dateKey, err)
		if local, lerr := s.localSet(dateKey); lerr == nil {
			return local, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	if payload != nil {
		return s.adoptOrReconcile(ctx, dateKey, payload)
	}

	// No canonical set yet. If we already generated one offline, publish it.
	if local, lerr := s.localSet(dateKey); lerr == nil {
		if perr := s.publish(ctx, local); perr != nil {
			log.Printf("[QUEST] ⚠️ failed to publish local set for %s: %v", dateKey, perr)
		}
		return local, nil
	}

	// The waiting peer gives its partner a head start before generating.
	if s.MemberID == models.WaitingPeer(s.PairKey) {
		for attempt := 0; attempt < s.WaitRetries; attempt++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.WaitDelay):
			}
			payload, err = s.fetchRemote(ctx, dateKey)
			if err != nil {
				log.Printf("[QUEST] ⚠️ re-check %d failed for %s: %v", attempt+1, dateKey, err)
				continue
			}
			if payload != nil {
				return s.adoptOrReconcile(ctx, dateKey, payload)
			}
		}
		log.Printf("[QUEST] ⏳ partner never published %s after %d re-checks, generating locally", dateKey, s.WaitRetries)
	}

	return s.generateAndPublish(ctx, dateKey)
}

// MarkQuestDone records completion for this member. Monotonic: a done flag is
// never reverted, and re-marking is a no-op.
func (s *QuestService) MarkQuestDone(ctx context.Context, questID string) error {
	dateKey := models.DateKey(time.Now())
	local, err := s.localSet(dateKey)
	if err != nil {
		return fmt.Errorf("no local quest set for %s: %w", dateKey, err)
	}

	var item *models.QuestItem
	for i := range local.Quests {
		if local.Quests[i].QuestID == questID {
			item = &local.Quests[i]
			break
		}
	}
	if item == nil {
		return fmt.Errorf("quest %s not in today's set", questID)
	}
	if item.DoneBy(s.MemberID) {
		return nil
	}

	now := time.Now().UTC()
	completion := models.QuestCompletion{
		QuestItemID: item.ID,
		MemberID:    s.MemberID,
		Done:        true,
		DoneAt:      &now,
	}
	if err := s.DB.Create(&completion).Error; err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}

	// Push the flag to the canonical set. A failure here is a sync gap, not a
	// local failure: the next reconcile pushes it again.
	if err := s.pushCompletion(ctx, dateKey, questID, now); err != nil {
		log.Printf("[QUEST] ⚠️ failed to push completion of %s: %v", questID, err)
	}
	return nil
}

// PartnerFingerprint summarizes the partner's completion state for today's
// set. The polling coordinator diffs it between cycles.
func (s *QuestService) PartnerFingerprint(ctx context.Context) (string, error) {
	set, err := s.EnsureDailyQuests(ctx, time.Now())
	if err != nil {
		return "", err
	}
	partner := models.PartnerOf(s.PairKey, s.MemberID)

	parts := make([]string, 0, len(set.Quests))
	for _, q := range set.Quests {
		done := "0"
		if q.DoneBy(partner) {
			done = "1"
		}
		parts = append(parts, q.QuestID+"="+done)
	}
	sort.Strings(parts)
	return strings.Join(parts, ","), nil
}

// --- internals ---

func (s *QuestService) fetchRemote(ctx context.Context, dateKey string) (*models.QuestSetPayload, error) {
	value, err := s.Remote.Get(ctx, s.questsPath(dateKey))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	var payload models.QuestSetPayload
	if err := decodeWire(value, &payload); err != nil {
		return nil, fmt.Errorf("malformed quest set at %s: %w", dateKey, err)
	}
	return &payload, nil
}

// adoptOrReconcile converges the local cache on the canonical remote set.
// Identical ID sets take the cheap path (flags only); anything else discards
// the local copy and adopts the remote IDs verbatim — local IDs must never
// survive a divergence, or completion sync breaks.
func (s *QuestService) adoptOrReconcile(ctx context.Context, dateKey string, payload *models.QuestSetPayload) (*models.QuestSet, error) {
	remoteIDs := make([]string, 0, len(payload.Quests))
	for _, q := range payload.Quests {
		remoteIDs = append(remoteIDs, q.QuestID)
	}
	sort.Strings(remoteIDs)

	local, err := s.localSet(dateKey)
	if err == nil && models.SameQuestIDs(local.QuestIDs(), remoteIDs) {
		return s.reconcileCompletions(ctx, dateKey, local, payload)
	}

	if err == nil {
		log.Printf("[QUEST] 🔄 local set for %s diverged from canonical, adopting remote (%d quests)", dateKey, len(payload.Quests))
		if derr := s.deleteLocal(local); derr != nil {
			return nil, derr
		}
	}
	return s.saveFromPayload(dateKey, payload)
}

// reconcileCompletions merges done flags both ways: remote flags are applied
// locally, and local flags the remote is missing are pushed back up.
func (s *QuestService) reconcileCompletions(ctx context.Context, dateKey string, local *models.QuestSet, payload *models.QuestSetPayload) (*models.QuestSet, error) {
	remoteByID := make(map[string]models.QuestPayload, len(payload.Quests))
	for _, q := range payload.Quests {
		remoteByID[q.QuestID] = q
	}

	dirty := false
	for i := range local.Quests {
		item := &local.Quests[i]
		remote := remoteByID[item.QuestID]

		for member, ts := range remote.Done {
			if item.DoneBy(member) {
				continue
			}
			doneAt := time.Unix(ts, 0).UTC()
			completion := models.QuestCompletion{
				QuestItemID: item.ID,
				MemberID:    member,
				Done:        true,
				DoneAt:      &doneAt,
			}
			if err := s.DB.Create(&completion).Error; err != nil {
				return nil, fmt.Errorf("failed to apply remote completion: %w", err)
			}
			item.Completions = append(item.Completions, completion)
		}

		for _, c := range item.Completions {
			if !c.Done {
				continue
			}
			if _, ok := remote.Done[c.MemberID]; ok {
				continue
			}
			if remote.Done == nil {
				remote.Done = make(map[string]int64)
			}
			ts := time.Now().Unix()
			if c.DoneAt != nil {
				ts = c.DoneAt.Unix()
			}
			remote.Done[c.MemberID] = ts
			remoteByID[item.QuestID] = remote
			dirty = true
		}
	}

	if dirty {
		for i, q := range payload.Quests {
			payload.Quests[i] = remoteByID[q.QuestID]
		}
		if err := s.setRemote(ctx, dateKey, payload); err != nil {
			log.Printf("[QUEST] ⚠️ failed to push local completions for %s: %v", dateKey, err)
		}
	}
	return local, nil
}

func (s *QuestService) generateAndPublish(ctx context.Context, dateKey string) (*models.QuestSet, error) {
	drafts, err := s.Picker.PickDaily(dateKey)
	if err != nil {
		return nil, fmt.Errorf("quest picker failed for %s: %w", dateKey, err)
	}

	set := &models.QuestSet{
		ID:          uuid.NewString(),
		PairKey:     s.PairKey,
		DateKey:     dateKey,
		GeneratedBy: s.MemberID,
		GeneratedAt: time.Now().UTC(),
	}
	for i, d := range drafts {
		questID := fmt.Sprintf("%s-%s", slug.Make(fmt.Sprintf("%s %s %d", d.Type, dateKey, i+1)), uuid.NewString()[:8])
		set.Quests = append(set.Quests, models.QuestItem{
			QuestID:    questID,
			Type:       d.Type,
			ContentRef: d.ContentRef,
			SortOrder:  i,
			Pinned:     d.Pinned,
		})
	}

	if err := s.DB.Create(set).Error; err != nil {
		return nil, fmt.Errorf("failed to save generated set: %w", err)
	}
	log.Printf("[QUEST] ✅ generated %d quest(s) for %s as %s", len(set.Quests), dateKey, s.MemberID)

	if err := s.publish(ctx, set); err != nil {
		log.Printf("[QUEST] ⚠️ failed to publish generated set for %s: %v", dateKey, err)
	}
	return set, nil
}

func (s *QuestService) publish(ctx context.Context, set *models.QuestSet) error {
	payload := &models.QuestSetPayload{
		DateKey:     set.DateKey,
		GeneratedBy: set.GeneratedBy,
		GeneratedAt: set.GeneratedAt.Unix(),
	}
	for _, q := range set.Quests {
		wire := models.QuestPayload{
			QuestID:    q.QuestID,
			Type:       string(q.Type),
			ContentRef: q.ContentRef,
			SortOrder:  q.SortOrder,
			Pinned:     q.Pinned,
		}
		for _, c := range q.Completions {
			if c.Done && c.DoneAt != nil {
				if wire.Done == nil {
					wire.Done = make(map[string]int64)
				}
				wire.Done[c.MemberID] = c.DoneAt.Unix()
			}
		}
		payload.Quests = append(payload.Quests, wire)
	}
	return s.setRemote(ctx, set.DateKey, payload)
}

func (s *QuestService) pushCompletion(ctx context.Context, dateKey, questID string, doneAt time.Time) error {
	payload, err := s.fetchRemote(ctx, dateKey)
	if err != nil {
		return err
	}
	if payload == nil {
		return fmt.Errorf("canonical set for %s missing", dateKey)
	}
	for i := range payload.Quests {
		if payload.Quests[i].QuestID != questID {
			continue
		}
		if payload.Quests[i].Done == nil {
			payload.Quests[i].Done = make(map[string]int64)
		}
		if _, ok := payload.Quests[i].Done[s.MemberID]; ok {
			return nil
		}
		payload.Quests[i].Done[s.MemberID] = doneAt.Unix()
		return s.setRemote(ctx, dateKey, payload)
	}
	return fmt.Errorf("quest %s not in canonical set for %s", questID, dateKey)
}

func (s *QuestService) setRemote(ctx context.Context, dateKey string, payload *models.QuestSetPayload) error {
	value, err := encodeWire(payload)
	if err != nil {
		return err
	}
	return s.Remote.Set(ctx, s.questsPath(dateKey), value)
}

func (s *QuestService) localSet(dateKey string) (*models.QuestSet, error) {
	var set models.QuestSet
	err := s.DB.Preload("Quests.Completions").Preload("Quests").
		Where("pair_key = ? AND date_key = ?", s.PairKey, dateKey).
		First(&set).Error
	if err != nil {
		return nil, err
	}
	sort.Slice(set.Quests, func(i, j int) bool { return set.Quests[i].SortOrder < set.Quests[j].SortOrder })
	return &set, nil
}

func (s *QuestService) deleteLocal(set *models.QuestSet) error {
	for _, q := range set.Quests {
		if err := s.DB.Where("quest_item_id = ?", q.ID).Delete(&models.QuestCompletion{}).Error; err != nil {
			return fmt.Errorf("failed to drop stale completions: %w", err)
		}
	}
	if err := s.DB.Where("quest_set_id = ?", set.ID).Delete(&models.QuestItem{}).Error; err != nil {
		return fmt.Errorf("failed to drop stale quests: %w", err)
	}
	if err := s.DB.Unscoped().Delete(&models.QuestSet{}, "id = ?", set.ID).Error; err != nil {
		return fmt.Errorf("failed to drop stale quest set: %w", err)
	}
	return nil
}

func (s *QuestService) saveFromPayload(dateKey string, payload *models.QuestSetPayload) (*models.QuestSet, error) {
	set := &models.QuestSet{
		ID:          uuid.NewString(),
		PairKey:     s.PairKey,
		DateKey:     dateKey,
		GeneratedBy: payload.GeneratedBy,
		GeneratedAt: time.Unix(payload.GeneratedAt, 0).UTC(),
	}
	for _, q := range payload.Quests {
		item := models.QuestItem{
			QuestID:    q.QuestID,
			Type:       models.QuestType(q.Type),
			ContentRef: q.ContentRef,
			SortOrder:  q.SortOrder,
			Pinned:     q.Pinned,
		}
		for member, ts := range q.Done {
			doneAt := time.Unix(ts, 0).UTC()
			item.Completions = append(item.Completions, models.QuestCompletion{
				MemberID: member,
				Done:     true,
				DoneAt:   &doneAt,
			})
		}
		set.Quests = append(set.Quests, item)
	}
	sort.Slice(set.Quests, func(i, j int) bool { return set.Quests[i].SortOrder < set.Quests[j].SortOrder })

	if err := s.DB.Create(set).Error; err != nil {
		return nil, fmt.Errorf("failed to adopt remote set: %w", err)
	}
	return set, nil
}

// decodeWire and encodeWire move values between the store's loose map form
// and typed structs, so nothing past this boundary touches untyped maps.
func decodeWire(value map[string]any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func encodeWire(in any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}
