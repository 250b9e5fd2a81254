// store/rest_store.go
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Doer abstracts the HTTP client so tests can inject a fake transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RealtimeStore talks to the sync store's REST surface. Every node lives
// under /sync/<path>; GET returns the JSON value (null when absent) and PUT
// overwrites it.
type RealtimeStore struct {
	BaseURL      string
	ServiceToken string
	HTTPClient   Doer

	WatchInterval time.Duration
}

func NewRealtimeStore(baseURL, serviceToken string) *RealtimeStore {
	return &RealtimeStore{
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		WatchInterval: 15 * time.Second,
	}
}

func (s *RealtimeStore) nodeURL(path string) (string, error) {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid sync store URL '%s': %w", s.BaseURL, err)
	}
	return base.JoinPath("sync", strings.Trim(path, "/")).String(), nil
}

func (s *RealtimeStore) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	u, err := s.nodeURL(path)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode value for %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request to %s: %w", u, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.ServiceToken != "" {
		req.Header.Set("X-Service-Token", s.ServiceToken)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("sync store request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read sync store response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func (s *RealtimeStore) Get(ctx context.Context, path string) (map[string]any, error) {
	raw, status, err := s.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("sync store returned %d for GET %s: %s", status, path, truncate(raw))
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode value at %s: %w", path, err)
	}
	return value, nil
}

func (s *RealtimeStore) Set(ctx context.Context, path string, value map[string]any) error {
	raw, status, err := s.do(ctx, "PUT", path, value)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("sync store returned %d for PUT %s: %s", status, path, truncate(raw))
	}
	return nil
}

func (s *RealtimeStore) Children(ctx context.Context, path string) (map[string]map[string]any, error) {
	value, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	children := make(map[string]map[string]any, len(value))
	for key, v := range value {
		child, ok := v.(map[string]any)
		if !ok {
			// scalar leaves under a watched branch are not child nodes
			continue
		}
		children[key] = child
	}
	return children, nil
}

// WatchChildren polls path and emits each child key once. The store has no
// push channel, so "notify me of each new child exactly once" is rebuilt here
// from poll-and-diff against an in-process seen set.
func (s *RealtimeStore) WatchChildren(ctx context.Context, path string) (<-chan ChildEvent, error) {
	interval := s.WatchInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	out := make(chan ChildEvent, 16)
	go func() {
		defer close(out)
		seen := make(map[string]bool)

		emit := func() {
			children, err := s.Children(ctx, path)
			if err != nil {
				log.Printf("[STORE] ⚠️ watch poll failed for %s: %v", path, err)
				return
			}
			for key, value := range children {
				if seen[key] {
					continue
				}
				seen[key] = true
				select {
				case out <- ChildEvent{Key: key, Value: value}:
				case <-ctx.Done():
					return
				}
			}
		}

		emit() // pick up preexisting children immediately

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()
	return out, nil
}

func truncate(raw []byte) string {
	const max = 512
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
