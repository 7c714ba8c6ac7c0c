package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/app"
	"github.com/pscheid92/livepoll/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// EventBus fans events out to every instance. Route publishes; Run receives
// from the channel and hands each event to the local sink, so an instance
// also sees its own events through Redis.
type EventBus struct {
	rdb     *goredis.Client
	channel string
	local   domain.EventSink
	metrics *metrics.EventBusMetrics
	ready   chan struct{}
}

var _ domain.EventSink = (*EventBus)(nil)

// NewEventBus creates a bus on channel delivering to local. busMetrics may be nil.
func NewEventBus(rdb *goredis.Client, channel string, local domain.EventSink, busMetrics *metrics.EventBusMetrics) *EventBus {
	return &EventBus{
		rdb:     rdb,
		channel: channel,
		local:   local,
		metrics: busMetrics,
		ready:   make(chan struct{}),
	}
}

// Route publishes event to every instance, this one included.
func (b *EventBus) Route(ctx context.Context, event domain.Event) error {
	payload, err := app.EncodeEvent(event)
	if err != nil {
		b.countPublished("rejected")
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.countPublished("error")
		return fmt.Errorf("failed to publish event: %w", err)
	}
	b.countPublished("ok")
	return nil
}

// Ready is closed once Run's subscription is confirmed by Redis.
func (b *EventBus) Ready() <-chan struct{} { return b.ready }

// Run subscribes to the channel and routes received events locally until ctx
// is cancelled or the subscription closes.
func (b *EventBus) Run(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	close(b.ready)
	slog.Info("Event bus subscribed", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *EventBus) handle(ctx context.Context, payload string) {
	event, err := app.DecodeEvent([]byte(payload))
	if err != nil {
		slog.Warn("Dropping malformed event from bus", "channel", b.channel, "error", err)
		b.countReceived("malformed")
		return
	}

	if err := b.local.Route(ctx, event); err != nil {
		slog.Warn("Failed to route event from bus", "type", event.Type(), "poll_id", event.PollKey(), "error", err)
		b.countReceived("error")
		return
	}
	b.countReceived("ok")
}

func (b *EventBus) countPublished(result string) {
	if b.metrics != nil {
		b.metrics.Published.WithLabelValues(result).Inc()
	}
}

func (b *EventBus) countReceived(result string) {
	if b.metrics != nil {
		b.metrics.Received.WithLabelValues(result).Inc()
	}
}
