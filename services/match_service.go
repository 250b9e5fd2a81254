// services/match_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"pair-sync-system/models"
	"pair-sync-system/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatchService is the client side of the turn-based match state machine. The
// backend is the only authority: this service never advances a match locally,
// it submits moves, caches whatever the backend answers, and serves that
// cache read-only when the backend is unreachable.
type MatchService struct {
	DB           *gorm.DB
	BaseURL      string
	ServiceToken string
	HTTPClient   store.Doer

	PairKey    string
	MemberID   string
	GameFamily string
}

func NewMatchService(db *gorm.DB, baseURL, serviceToken, pairKey, memberID, gameFamily string) *MatchService {
	return &MatchService{
		DB:           db,
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PairKey:      pairKey,
		MemberID:     memberID,
		GameFamily:   gameFamily,
	}
}

// matchEnvelope is the backend response shape. A cooldown rejection arrives
// inside an otherwise-200 body with an app-level error code.
type matchEnvelope struct {
	Match        *models.PuzzleMatch `json:"match,omitempty"`
	ErrorCode    string              `json:"error_code,omitempty"`
	RemainingSec int                 `json:"remaining_sec,omitempty"`
}

// backendError is the body shape of 4xx rejections.
type backendError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CurrentMatch returns the active match for the pair, asking the backend to
// create one if none exists. Offline it degrades to the last cached match
// with CanPlay forced off — no local fabrication.
func (s *MatchService) CurrentMatch(ctx context.Context) (*models.PuzzleMatch, error) {
	body := map[string]string{
		"pair_key":    s.PairKey,
		"game_family": s.GameFamily,
		"member_id":   s.MemberID,
	}

	raw, status, err := s.post(ctx, "/matches/current", body)
	if err != nil {
		log.Printf("[MATCH] ⚠️ backend unreachable, serving cached %s match: %v", s.GameFamily, err)
		cached, cerr := s.CachedMatch()
		if cerr != nil {
			return nil, fmt.Errorf("backend unreachable and no cached match: %w", err)
		}
		cached.CanPlay = false
		return cached, nil
	}

	match, err := s.decodeMatch(raw, status)
	if err != nil {
		return nil, err
	}
	if err := s.cacheMatch(match); err != nil {
		log.Printf("[MATCH] ⚠️ failed to cache match %s: %v", match.ID, err)
	}
	match.CanPlay = match.IsTurnOf(s.MemberID)
	return match, nil
}

// SubmitTurn sends a move. Only the current turn holder can succeed; every
// rejection maps to a typed condition so the UI can say why.
func (s *MatchService) SubmitTurn(ctx context.Context, matchID, move string) (*models.PuzzleMatch, error) {
	body := map[string]string{
		"member_id": s.MemberID,
		"move":      move,
	}

	raw, status, err := s.post(ctx, fmt.Sprintf("/matches/%s/turns", matchID), body)
	if err != nil {
		return nil, fmt.Errorf("turn submission failed: %w", err)
	}

	match, err := s.decodeMatch(raw, status)
	if err != nil {
		return nil, err
	}
	if err := s.cacheMatch(match); err != nil {
		log.Printf("[MATCH] ⚠️ failed to cache match %s: %v", match.ID, err)
	}
	match.CanPlay = match.IsTurnOf(s.MemberID)
	return match, nil
}

// CachedMatch loads the last authoritative state seen for this game family.
func (s *MatchService) CachedMatch() (*models.PuzzleMatch, error) {
	var match models.PuzzleMatch
	err := s.DB.Where("pair_key = ? AND game_family = ?", s.PairKey, s.GameFamily).
		Order("updated_at DESC").
		First(&match).Error
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// TurnFingerprint summarizes turn holder and status for the polling
// coordinator's diff.
func (s *MatchService) TurnFingerprint(ctx context.Context) (string, error) {
	match, err := s.CurrentMatch(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%s|%s|%d", match.ID, match.Status, match.CurrentTurn, match.TurnCount), nil
}

// --- internals ---

func (s *MatchService) post(ctx context.Context, path string, body any) ([]byte, int, error) {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid backend URL '%s': %w", s.BaseURL, err)
	}
	endpoint := base.JoinPath(path).String()

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request to %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.ServiceToken != "" {
		req.Header.Set("X-Service-Token", s.ServiceToken)
	}
	req.Header.Set("X-Member-ID", s.MemberID)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("backend request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read backend response: %w", err)
	}
	return out, resp.StatusCode, nil
}

func (s *MatchService) decodeMatch(raw []byte, status int) (*models.PuzzleMatch, error) {
	switch {
	case status == http.StatusNotFound:
		return nil, ErrMatchNotFound
	case status == http.StatusForbidden:
		var be backendError
		_ = json.Unmarshal(raw, &be)
		if be.Code == "GAME_NOT_ACTIVE" {
			return nil, ErrGameNotActive
		}
		return nil, ErrNotYourTurn
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("backend returned %d: %s", status, string(raw))
	}

	var envelope matchEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	if envelope.ErrorCode == "COOLDOWN_ACTIVE" {
		return nil, &CooldownError{Remaining: time.Duration(envelope.RemainingSec) * time.Second}
	}
	if envelope.Match == nil {
		return nil, fmt.Errorf("backend response missing match payload")
	}
	return envelope.Match, nil
}

func (s *MatchService) cacheMatch(match *models.PuzzleMatch) error {
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "board_state", "current_turn", "turn_count",
			"member_a_score", "member_b_score", "completed_at", "updated_at",
		}),
	}).Create(match).Error
}
