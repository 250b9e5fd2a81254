package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"pair-sync-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newStubApp(t *testing.T, serviceToken string) *fiber.App {
	t.Helper()
	dsn := fmt.Sprintf("file:stub_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := db.AutoMigrate(&StoreNode{}, &models.PuzzleMatch{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access underlying DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	app := fiber.New()
	SetupStubRoutes(app, NewStubBackend(db), serviceToken)
	return app
}

func request(t *testing.T, app *fiber.App, method, path, body, token string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Service-Token", token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp.StatusCode, string(raw)
}

func TestNodeRoundTrip(t *testing.T) {
	app := newStubApp(t, "")

	status, _ := request(t, app, "PUT", "/sync/pairs/a:b/quests/2026-08-30", `{"generated_by":"alice"}`, "")
	if status != 200 {
		t.Fatalf("put returned %d", status)
	}

	status, body := request(t, app, "GET", "/sync/pairs/a:b/quests/2026-08-30", "", "")
	if status != 200 {
		t.Fatalf("get returned %d", status)
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if value["generated_by"] != "alice" {
		t.Fatalf("value did not round-trip: %s", body)
	}
}

func TestMissingNodeReturnsNull(t *testing.T) {
	app := newStubApp(t, "")

	status, body := request(t, app, "GET", "/sync/pairs/a:b/quests/2026-08-31", "", "")
	if status != 200 {
		t.Fatalf("get returned %d", status)
	}
	if strings.TrimSpace(body) != "null" {
		t.Fatalf("expected null for missing node, got %s", body)
	}
}

func TestBranchAssemblesChildren(t *testing.T) {
	app := newStubApp(t, "")

	request(t, app, "PUT", "/sync/pairs/a:b/rewards/r1", `{"amount":10}`, "")
	request(t, app, "PUT", "/sync/pairs/a:b/rewards/r2", `{"amount":20}`, "")

	status, body := request(t, app, "GET", "/sync/pairs/a:b/rewards", "", "")
	if status != 200 {
		t.Fatalf("get returned %d", status)
	}
	var branch map[string]map[string]any
	if err := json.Unmarshal([]byte(body), &branch); err != nil {
		t.Fatalf("branch is not a JSON object: %v (%s)", err, body)
	}
	if len(branch) != 2 {
		t.Fatalf("expected 2 children, got %s", body)
	}
	if branch["r1"]["amount"].(float64) != 10 || branch["r2"]["amount"].(float64) != 20 {
		t.Fatalf("unexpected branch contents: %s", body)
	}
}

func TestLastWriteWins(t *testing.T) {
	app := newStubApp(t, "")
	path := "/sync/pairs/a:b/quests/2026-08-30"

	request(t, app, "PUT", path, `{"generated_by":"alice"}`, "")
	request(t, app, "PUT", path, `{"generated_by":"bob"}`, "")

	_, body := request(t, app, "GET", path, "", "")
	var value map[string]any
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if value["generated_by"] != "bob" {
		t.Fatalf("second write did not win: %s", body)
	}
}

func TestInvalidJSONIsRejected(t *testing.T) {
	app := newStubApp(t, "")

	status, _ := request(t, app, "PUT", "/sync/pairs/a:b/x", `{"broken`, "")
	if status != 400 {
		t.Fatalf("expected 400 for invalid JSON, got %d", status)
	}
}

func TestServiceTokenIsEnforced(t *testing.T) {
	app := newStubApp(t, "topsecret")

	status, _ := request(t, app, "GET", "/sync/pairs/a:b/quests/2026-08-30", "", "")
	if status != 401 {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	status, _ = request(t, app, "GET", "/sync/pairs/a:b/quests/2026-08-30", "", "wrong")
	if status != 401 {
		t.Fatalf("expected 401 with wrong token, got %d", status)
	}
	status, _ = request(t, app, "GET", "/sync/pairs/a:b/quests/2026-08-30", "", "topsecret")
	if status != 200 {
		t.Fatalf("expected 200 with valid token, got %d", status)
	}
}
