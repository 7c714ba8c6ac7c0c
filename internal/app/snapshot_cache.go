package app

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/domain"
)

// SnapshotCache keeps the latest known state of each poll with a TTL.
// Tallies only ever grow: merging keeps the higher count per option.
// Deleted polls are tombstoned for one TTL so late events cannot bring them back.
type SnapshotCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	tombstones map[string]time.Time
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *metrics.CacheMetrics
}

type cacheEntry struct {
	poll      domain.Poll
	expiresAt time.Time
}

// NewSnapshotCache creates a cache. cacheMetrics may be nil.
func NewSnapshotCache(ttl time.Duration, clock clockwork.Clock, cacheMetrics *metrics.CacheMetrics) *SnapshotCache {
	return &SnapshotCache{
		entries:    make(map[string]*cacheEntry),
		tombstones: make(map[string]time.Time),
		ttl:        ttl,
		clock:      clock,
		metrics:    cacheMetrics,
	}
}

// Get returns a copy of the cached poll if present and not expired.
func (c *SnapshotCache) Get(pollID string) (domain.Poll, bool) {
	c.mu.RLock()
	entry, ok := c.entries[pollID]
	fresh := ok && !c.clock.Now().After(entry.expiresAt)
	var poll domain.Poll
	if fresh {
		poll = clonePoll(entry.poll)
	}
	c.mu.RUnlock()

	if c.metrics != nil {
		if fresh {
			c.metrics.Hits.Inc()
		} else {
			c.metrics.Misses.Inc()
		}
	}
	return poll, fresh
}

// Put stores poll, keeping the higher tally of any option already cached.
// It returns the stored state. Tombstoned polls are returned but not stored.
func (c *SnapshotCache) Put(poll domain.Poll) domain.Poll {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deletedLocked(poll.ID) {
		return clonePoll(poll)
	}
	if entry, ok := c.entries[poll.ID]; ok {
		poll.Options = mergeTallies(entry.poll.Options, poll.Options)
		if poll.Question == "" {
			poll.Question = entry.poll.Question
			poll.Description = entry.poll.Description
		}
	}
	c.store(poll)
	return clonePoll(poll)
}

// MergeTallies folds options into the cached poll (creating a bare entry
// when the poll is unknown) and returns the merged tallies. It reports false
// and stores nothing when the poll is tombstoned.
func (c *SnapshotCache) MergeTallies(pollID string, options []domain.Option) ([]domain.Option, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deletedLocked(pollID) {
		return nil, false
	}
	poll := domain.Poll{ID: pollID, Options: slices.Clone(options)}
	if entry, ok := c.entries[pollID]; ok {
		poll = entry.poll
		poll.Options = mergeTallies(entry.poll.Options, options)
	}
	c.store(poll)
	return slices.Clone(poll.Options), true
}

func (c *SnapshotCache) store(poll domain.Poll) {
	c.entries[poll.ID] = &cacheEntry{poll: poll, expiresAt: c.clock.Now().Add(c.ttl)}
	if c.metrics != nil {
		c.metrics.Entries.Set(float64(len(c.entries)))
	}
}

// Forget removes a poll and tombstones its id until the TTL passes or
// Revive is called.
func (c *SnapshotCache) Forget(pollID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, pollID)
	c.tombstones[pollID] = c.clock.Now().Add(c.ttl)
	if c.metrics != nil {
		c.metrics.Entries.Set(float64(len(c.entries)))
	}
}

// Revive clears the tombstone of a poll that was created again.
func (c *SnapshotCache) Revive(pollID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tombstones, pollID)
}

// Deleted reports whether pollID is tombstoned.
func (c *SnapshotCache) Deleted(pollID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deletedLocked(pollID)
}

func (c *SnapshotCache) deletedLocked(pollID string) bool {
	until, ok := c.tombstones[pollID]
	return ok && !c.clock.Now().After(until)
}

// Size returns the number of entries, including expired ones.
func (c *SnapshotCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictExpired removes expired entries and returns how many were removed.
func (c *SnapshotCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
			evicted++
		}
	}
	for id, until := range c.tombstones {
		if now.After(until) {
			delete(c.tombstones, id)
		}
	}

	if c.metrics != nil {
		c.metrics.Evictions.Add(float64(evicted))
		c.metrics.Entries.Set(float64(len(c.entries)))
	}
	return evicted
}

// StartEvictionTimer evicts expired entries every interval until the
// returned stop function is called.
func (c *SnapshotCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.EvictExpired(); evicted > 0 {
					slog.Debug("Evicted expired poll snapshots", "count", evicted, "remaining", c.Size())
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// mergeTallies returns fresh with each option's vote raised to the cached
// count when that is higher. Options only present in cached are kept.
func mergeTallies(cached, fresh []domain.Option) []domain.Option {
	out := slices.Clone(fresh)
	seen := make(map[string]struct{}, len(out))
	for i, opt := range out {
		seen[opt.ID] = struct{}{}
		if prev, ok := domain.FindOption(cached, opt.ID); ok && prev.Vote > opt.Vote {
			out[i].Vote = prev.Vote
		}
	}
	for _, opt := range cached {
		if _, ok := seen[opt.ID]; !ok {
			out = append(out, opt)
		}
	}
	return out
}

func clonePoll(p domain.Poll) domain.Poll {
	p.Options = slices.Clone(p.Options)
	return p
}
