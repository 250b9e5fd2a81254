package store

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestGetDecodesValueAndSendsToken(t *testing.T) {
	var captured *http.Request
	s := NewRealtimeStore("http://store.test", "secret")
	s.HTTPClient = doerFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		return jsonResponse(200, `{"amount": 25, "reason": "match_won"}`), nil
	})

	value, err := s.Get(context.Background(), "pairs/alice:bob/rewards/match-42")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value["amount"].(float64) != 25 {
		t.Fatalf("unexpected value: %v", value)
	}
	if captured.Method != "GET" {
		t.Fatalf("unexpected method %s", captured.Method)
	}
	if got := captured.URL.Path; got != "/sync/pairs/alice:bob/rewards/match-42" {
		t.Fatalf("unexpected path %s", got)
	}
	if captured.Header.Get("X-Service-Token") != "secret" {
		t.Fatal("service token header missing")
	}
}

func TestGetTreatsNullAndNotFoundAsAbsent(t *testing.T) {
	for name, resp := range map[string]*http.Response{
		"null body": jsonResponse(200, "null"),
		"not found": jsonResponse(404, `{"error":"missing"}`),
	} {
		s := NewRealtimeStore("http://store.test", "")
		s.HTTPClient = doerFunc(func(*http.Request) (*http.Response, error) { return resp, nil })

		value, err := s.Get(context.Background(), "pairs/x/quests/2026-08-30")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if value != nil {
			t.Fatalf("%s: expected absent value, got %v", name, value)
		}
	}
}

func TestSetPutsJSONBody(t *testing.T) {
	var captured *http.Request
	var body []byte
	s := NewRealtimeStore("http://store.test", "")
	s.HTTPClient = doerFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		body, _ = io.ReadAll(req.Body)
		return jsonResponse(200, `{"ok":true}`), nil
	})

	err := s.Set(context.Background(), "/pairs/a:b/quests/2026-08-30/", map[string]any{"date_key": "2026-08-30"})
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if captured.Method != "PUT" {
		t.Fatalf("unexpected method %s", captured.Method)
	}
	if captured.URL.Path != "/sync/pairs/a:b/quests/2026-08-30" {
		t.Fatalf("path not normalized: %s", captured.URL.Path)
	}
	if !strings.Contains(string(body), `"date_key":"2026-08-30"`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestSetSurfacesServerErrors(t *testing.T) {
	s := NewRealtimeStore("http://store.test", "")
	s.HTTPClient = doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(500, `{"error":"boom"}`), nil
	})

	if err := s.Set(context.Background(), "pairs/a:b/x", map[string]any{}); err == nil {
		t.Fatal("expected an error on 500")
	}
}

func TestWatchChildrenEmitsEachChildOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	polls := 0
	s := NewRealtimeStore("http://store.test", "")
	s.WatchInterval = 5 * time.Millisecond
	s.HTTPClient = doerFunc(func(*http.Request) (*http.Response, error) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n < 3 {
			return jsonResponse(200, `{"match-1":{"amount":10}}`), nil
		}
		return jsonResponse(200, `{"match-1":{"amount":10},"match-2":{"amount":20}}`), nil
	})

	events, err := s.WatchChildren(ctx, "pairs/a:b/rewards")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	seen := make(map[string]int)
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-events:
			seen[ev.Key]++
		case <-timeout:
			t.Fatalf("timed out waiting for children, saw %v", seen)
		}
	}

	// Let several more polls run; nothing may be re-delivered.
	time.Sleep(30 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("child %s delivered twice", ev.Key)
	default:
	}
	if seen["match-1"] != 1 || seen["match-2"] != 1 {
		t.Fatalf("duplicate deliveries: %v", seen)
	}
}
