package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/platform/keylock"
	"golang.org/x/sync/singleflight"
)

// Fanout delivers encoded messages to rooms or single connections.
type Fanout interface {
	Broadcast(room domain.RoomKey, msg []byte) int
	Send(connID uuid.UUID, msg []byte) error
	CloseRoom(room domain.RoomKey, notice []byte, reason string) int
}

// Router translates domain events into broadcasts. Events for one poll are
// routed one at a time in arrival order.
type Router struct {
	fanout  Fanout
	cache   *SnapshotCache
	source  domain.PollSource
	locks   *keylock.Striped
	fetches singleflight.Group
	clock   clockwork.Clock
	metrics *metrics.RouterMetrics
}

// NewRouter creates a router. source and routerMetrics may be nil; without a
// source, snapshots come from the cache only.
func NewRouter(fanout Fanout, cache *SnapshotCache, source domain.PollSource, clock clockwork.Clock, routerMetrics *metrics.RouterMetrics) *Router {
	return &Router{
		fanout:  fanout,
		cache:   cache,
		source:  source,
		locks:   keylock.New(keylock.DefaultStripes),
		clock:   clock,
		metrics: routerMetrics,
	}
}

// Route delivers one event to its rooms. It returns once every broadcast has
// been queued, not once clients have received it.
func (r *Router) Route(_ context.Context, event domain.Event) (err error) {
	if event == nil {
		return domain.ErrUnknownEvent
	}
	start := r.clock.Now()
	defer func() { r.observe(event, start, err) }()

	unlock := r.locks.Lock(event.PollKey())
	defer unlock()

	switch e := event.(type) {
	case domain.VoteCast:
		return r.routeVote(e)
	case domain.PollCreated:
		return r.routeCreated(e)
	case domain.PollDeleted:
		return r.routeDeleted(e)
	case domain.PollSnapshot:
		return r.routeSnapshot(e)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownEvent, event)
	}
}

func (r *Router) routeVote(e domain.VoteCast) error {
	option, ok := domain.FindOption(e.Tallies, e.OptionID)
	if !ok {
		return fmt.Errorf("%w: poll %s option %s", domain.ErrUnknownOption, e.PollID, e.OptionID)
	}

	if _, ok := r.cache.MergeTallies(e.PollID, e.Tallies); !ok {
		slog.Debug("Dropped vote for deleted poll", "poll_id", e.PollID)
		return nil
	}

	return r.broadcast(domain.PollRoom(e.PollID), domain.VoteUpdateMessage{
		Type:         domain.MessageVoteUpdate,
		PollID:       e.PollID,
		OptionID:     option.ID,
		NewVoteCount: option.Vote,
		OptionValue:  option.Value,
		AllOptions:   e.Tallies,
	})
}

func (r *Router) routeCreated(e domain.PollCreated) error {
	r.cache.Revive(e.Poll.ID)
	poll := r.cache.Put(e.Poll)
	return r.broadcast(domain.LobbyRoom, domain.NewPollMessage{Type: domain.MessageNewPoll, Poll: poll})
}

func (r *Router) routeDeleted(e domain.PollDeleted) error {
	r.cache.Forget(e.PollID)

	msg, err := json.Marshal(domain.PollDeletedMessage{Type: domain.MessagePollDeleted, PollID: e.PollID})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", domain.MessagePollDeleted, err)
	}

	r.recordRecipients(r.fanout.Broadcast(domain.LobbyRoom, msg))
	closed := r.fanout.CloseRoom(domain.PollRoom(e.PollID), msg, "poll deleted")
	if closed > 0 {
		slog.Info("Closed room of deleted poll", "poll_id", e.PollID, "connections", closed)
	}
	return nil
}

func (r *Router) routeSnapshot(e domain.PollSnapshot) error {
	options, ok := r.cache.MergeTallies(e.PollID, e.Options)
	if !ok {
		return fmt.Errorf("poll %s: %w", e.PollID, domain.ErrPollNotFound)
	}

	msg, err := json.Marshal(domain.PollDataMessage{Type: domain.MessagePollData, PollID: e.PollID, Options: options})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", domain.MessagePollData, err)
	}
	if err := r.fanout.Send(e.ConnectionID, msg); err != nil {
		return fmt.Errorf("failed to send snapshot of poll %s: %w", e.PollID, err)
	}
	r.recordRecipients(1)
	return nil
}

func (r *Router) broadcast(room domain.RoomKey, payload any) error {
	msg, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", room, err)
	}
	r.recordRecipients(r.fanout.Broadcast(room, msg))
	return nil
}

// Resync sends the current state of a poll to one connection. It tries the
// cache first, then the backend.
func (r *Router) Resync(ctx context.Context, connID uuid.UUID, pollID string) error {
	poll, err := r.snapshot(ctx, pollID)
	if err != nil {
		return err
	}
	return r.Route(ctx, domain.PollSnapshot{PollID: pollID, Options: poll.Options, ConnectionID: connID})
}

func (r *Router) snapshot(ctx context.Context, pollID string) (domain.Poll, error) {
	if r.cache.Deleted(pollID) {
		return domain.Poll{}, fmt.Errorf("poll %s: %w", pollID, domain.ErrPollNotFound)
	}
	if poll, ok := r.cache.Get(pollID); ok {
		return poll, nil
	}
	if r.source == nil {
		return domain.Poll{}, fmt.Errorf("poll %s: %w", pollID, domain.ErrSnapshotMissing)
	}

	v, err, shared := r.fetches.Do(pollID, func() (any, error) {
		poll, err := r.source.GetPoll(ctx, pollID)
		if err != nil {
			return nil, err
		}
		return r.cache.Put(*poll), nil
	})
	if err != nil {
		return domain.Poll{}, fmt.Errorf("failed to fetch poll %s: %w", pollID, err)
	}
	if shared {
		slog.Debug("Collapsed concurrent snapshot fetch", "poll_id", pollID)
	}
	return clonePoll(v.(domain.Poll)), nil
}

// Warm loads every poll the backend knows into the cache.
func (r *Router) Warm(ctx context.Context) (int, error) {
	if r.source == nil {
		return 0, nil
	}
	polls, err := r.source.ListPolls(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list polls: %w", err)
	}
	for _, p := range polls {
		r.cache.Put(p)
	}
	return len(polls), nil
}

func (r *Router) recordRecipients(n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.Recipients.Observe(float64(n))
	}
}

func (r *Router) observe(event domain.Event, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, domain.ErrUnknownOption), errors.Is(err, domain.ErrUnknownEvent), errors.Is(err, domain.ErrPollNotFound):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	typ := string(event.Type())
	r.metrics.EventsRouted.WithLabelValues(typ, result).Inc()
	r.metrics.RoutingDuration.WithLabelValues(typ).Observe(r.clock.Since(start).Seconds())
}
