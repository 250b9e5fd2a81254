// workers/poll_coordinator.go
package workers

import (
	"context"
	"log"
	"sync"
	"time"
)

// TopicAll subscribers are notified on every detected change, regardless of
// category.
const TopicAll = "*"

// PollFunc re-derives the current state of one category and returns a
// fingerprint. The coordinator diffs fingerprints between cycles; any change
// fires that category's topic.
type PollFunc func(ctx context.Context) (string, error)

type pollCategory struct {
	fetch    PollFunc
	last     string
	primed   bool
	inFlight bool
}

// PollCoordinator drives every "did anything change while idle" check off one
// timer. It runs only while somebody is watching: the cycle starts on the
// first Subscribe and the timer is torn down on the last Unsubscribe.
// Categories are isolated — one failing fetch never blocks the others — and a
// slow fetch is skipped on the next tick instead of piling up.
type PollCoordinator struct {
	Interval time.Duration

	mu          sync.Mutex
	base        context.Context
	categories  map[string]*pollCategory
	topics      map[string]map[int]func()
	nextSubID   int
	subscribers int
	cancel      context.CancelFunc
	kick        chan struct{}
}

func NewPollCoordinator(ctx context.Context, interval time.Duration) *PollCoordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PollCoordinator{
		Interval:   interval,
		base:       ctx,
		categories: make(map[string]*pollCategory),
		topics:     make(map[string]map[int]func()),
	}
}

// Register adds a category. The topic fired on change carries the same name.
func (c *PollCoordinator) Register(name string, fetch PollFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories[name] = &pollCategory{fetch: fetch}
}

// Subscribe reference-counts active observers and starts the cycle on the
// first one.
func (c *PollCoordinator) Subscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers++
	if c.subscribers > 1 {
		return
	}

	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.kick = make(chan struct{}, 1)
	go c.run(ctx, c.kick)
	log.Printf("[POLL] ▶️ started (every %s)", c.Interval)
}

// Unsubscribe drops one observer; the last one out stops the timer. In-flight
// fetches notice the cancelled context before touching any callback.
func (c *PollCoordinator) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribers == 0 {
		return
	}
	c.subscribers--
	if c.subscribers == 0 && c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.kick = nil
		log.Println("[POLL] ⏹️ stopped (no observers)")
	}
}

// SubscribeTopic registers a callback for one category's changes (or TopicAll
// for every change). The returned ID feeds UnsubscribeTopic.
func (c *PollCoordinator) SubscribeTopic(topic string, fn func()) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	if c.topics[topic] == nil {
		c.topics[topic] = make(map[int]func())
	}
	c.topics[topic][id] = fn
	return id
}

func (c *PollCoordinator) UnsubscribeTopic(topic string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics[topic], id)
}

// PollNow triggers an out-of-cycle check, used when returning from a gameplay
// screen so the UI doesn't wait out the tick.
func (c *PollCoordinator) PollNow() {
	c.mu.Lock()
	kick := c.kick
	c.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default: // a cycle is already queued
	}
}

// Notify fires a topic's callbacks directly, for changes detected outside the
// poll cycle (e.g. an award landing via the watcher).
func (c *PollCoordinator) Notify(topic string) {
	for _, fn := range c.callbacksFor(topic) {
		fn()
	}
}

func (c *PollCoordinator) run(ctx context.Context, kick chan struct{}) {
	c.cycle(ctx)

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle(ctx)
		case <-kick:
			c.cycle(ctx)
		}
	}
}

// cycle checks every registered category concurrently. A category still busy
// from the previous cycle is skipped — no duplicate network calls.
func (c *PollCoordinator) cycle(ctx context.Context) {
	c.mu.Lock()
	pending := make(map[string]*pollCategory, len(c.categories))
	for name, cat := range c.categories {
		if cat.inFlight {
			continue
		}
		cat.inFlight = true
		pending[name] = cat
	}
	c.mu.Unlock()

	for name, cat := range pending {
		go func(name string, cat *pollCategory) {
			fingerprint, err := cat.fetch(ctx)

			c.mu.Lock()
			cat.inFlight = false
			if err != nil || ctx.Err() != nil {
				c.mu.Unlock()
				if err != nil && ctx.Err() == nil {
					log.Printf("[POLL] ⚠️ %s check failed: %v", name, err)
				}
				return
			}
			changed := cat.primed && cat.last != fingerprint
			cat.primed = true
			cat.last = fingerprint
			c.mu.Unlock()

			if changed {
				log.Printf("[POLL] 🔔 %s changed", name)
				c.Notify(name)
			}
		}(name, cat)
	}
}

// callbacksFor snapshots the topic's callbacks plus the TopicAll set, so
// callbacks run without holding the lock and an unsubscribe during delivery
// stays safe.
func (c *PollCoordinator) callbacksFor(topic string) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(), 0, len(c.topics[topic])+len(c.topics[TopicAll]))
	for _, fn := range c.topics[topic] {
		out = append(out, fn)
	}
	if topic != TopicAll {
		for _, fn := range c.topics[TopicAll] {
			out = append(out, fn)
		}
	}
	return out
}
