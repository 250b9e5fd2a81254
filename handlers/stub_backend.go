// handlers/stub_backend.go
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"pair-sync-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StubBackend is the local development backend: it serves the sync-store REST
// surface and the authoritative match API that production devices get from
// the real backend. Integration tests drive clients against it via app.Test.
type StubBackend struct {
	DB       *gorm.DB
	Cooldown time.Duration // min gap between accepted turns, 0 disables
	WinTurns int           // turn count at which a match completes
}

func NewStubBackend(db *gorm.DB) *StubBackend {
	return &StubBackend{DB: db, WinTurns: 10}
}

// StoreNode is one path → JSON value entry of the stub sync store.
type StoreNode struct {
	Path      string    `gorm:"primaryKey"`
	ValueJSON string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// --- sync store surface ---

// GetNode answers GET /sync/+. An exact node returns its value; a branch
// returns its children assembled into a nested object; an empty path returns
// null, which clients treat as absent.
func (b *StubBackend) GetNode(c *fiber.Ctx) error {
	path := strings.Trim(c.Params("*"), "/")

	var node StoreNode
	err := b.DB.First(&node, "path = ?", path).Error
	if err == nil {
		c.Set("Content-Type", "application/json")
		return c.SendString(node.ValueJSON)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
	}

	var rows []StoreNode
	if err := b.DB.Where("path LIKE ?", path+"/%").Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
	}
	if len(rows) == 0 {
		c.Set("Content-Type", "application/json")
		return c.SendString("null")
	}

	branch := make(map[string]any)
	for _, row := range rows {
		rest := strings.TrimPrefix(row.Path, path+"/")
		var value any
		if err := json.Unmarshal([]byte(row.ValueJSON), &value); err != nil {
			continue
		}
		insertNested(branch, strings.Split(rest, "/"), value)
	}
	return c.JSON(branch)
}

// PutNode answers PUT /sync/+ with last-write-wins semantics.
func (b *StubBackend) PutNode(c *fiber.Ctx) error {
	path := strings.Trim(c.Params("*"), "/")
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty path"})
	}

	body := c.Body()
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "value must be JSON"})
	}

	node := StoreNode{Path: path, ValueJSON: string(body)}
	if err := b.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_json", "updated_at"}),
	}).Create(&node).Error; err != nil {
		log.Printf("[STUB] ❌ failed to store %s: %v", path, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store write failed"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// --- match API ---

// CurrentMatch answers POST /matches/current: returns the pair's active match
// for the game family, creating one if none exists. The backend is the only
// place a match is ever born.
func (b *StubBackend) CurrentMatch(c *fiber.Ctx) error {
	var req struct {
		PairKey    string `json:"pair_key"`
		GameFamily string `json:"game_family"`
		MemberID   string `json:"member_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.PairKey == "" || req.GameFamily == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "pair_key and game_family required"})
	}

	var match models.PuzzleMatch
	err := b.DB.Where("pair_key = ? AND game_family = ? AND status = ?",
		req.PairKey, req.GameFamily, models.MatchStatusActive).
		First(&match).Error
	if err == nil {
		return c.JSON(fiber.Map{"match": match})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	memberA, memberB := models.PairMembers(req.PairKey)
	firstTurn := req.MemberID
	if firstTurn != memberA && firstTurn != memberB {
		firstTurn = memberA
	}
	match = models.PuzzleMatch{
		ID:          uuid.NewString(),
		PairKey:     req.PairKey,
		GameFamily:  req.GameFamily,
		PuzzleRef:   "puzzle-" + uuid.NewString()[:8],
		Status:      models.MatchStatusActive,
		CurrentTurn: firstTurn,
		MemberAID:   memberA,
		MemberBID:   memberB,
	}
	if err := b.DB.Create(&match).Error; err != nil {
		log.Printf("[STUB] ❌ failed to create match: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create match"})
	}
	log.Printf("[STUB] ✅ created %s match %s (first turn: %s)", req.GameFamily, match.ID, firstTurn)
	return c.JSON(fiber.Map{"match": match})
}

// SubmitTurn answers POST /matches/:id/turns with the full validation ladder:
// 404 unknown match, 403 GAME_NOT_ACTIVE, 403 NOT_YOUR_TURN, cooldown inside
// a 200 body, then the authoritative state transition.
func (b *StubBackend) SubmitTurn(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var req struct {
		MemberID string `json:"member_id"`
		Move     string `json:"move"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.MemberID == "" {
		req.MemberID, _ = c.Locals("member_id").(string)
	}

	var match models.PuzzleMatch
	if err := b.DB.First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "match not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	if match.Status != models.MatchStatusActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "match is not active", "code": "GAME_NOT_ACTIVE",
		})
	}
	if match.CurrentTurn != req.MemberID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "it is not your turn", "code": "NOT_YOUR_TURN",
		})
	}
	if b.Cooldown > 0 && match.TurnCount > 0 {
		elapsed := time.Since(match.UpdatedAt)
		if elapsed < b.Cooldown {
			remaining := b.Cooldown - elapsed
			return c.JSON(fiber.Map{
				"error_code":    "COOLDOWN_ACTIVE",
				"remaining_sec": int(remaining.Seconds()) + 1,
			})
		}
	}

	if match.BoardState == "" {
		match.BoardState = req.Move
	} else {
		match.BoardState += "," + req.Move
	}
	if req.MemberID == match.MemberBID {
		match.MemberBScore += 10
		match.CurrentTurn = match.MemberAID
	} else {
		match.MemberAScore += 10
		match.CurrentTurn = match.MemberBID
	}
	match.TurnCount++

	if b.WinTurns > 0 && match.TurnCount >= b.WinTurns {
		now := time.Now().UTC()
		match.Status = models.MatchStatusCompleted
		match.CompletedAt = &now
		log.Printf("[STUB] 🏁 match %s completed after %d turns", match.ID, match.TurnCount)
	}

	if err := b.DB.Save(&match).Error; err != nil {
		log.Printf("[STUB] ❌ failed to save match %s: %v", match.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save match"})
	}
	return c.JSON(fiber.Map{"match": match})
}

func insertNested(branch map[string]any, segments []string, value any) {
	if len(segments) == 1 {
		branch[segments[0]] = value
		return
	}
	child, ok := branch[segments[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		branch[segments[0]] = child
	}
	insertNested(child, segments[1:], value)
}
