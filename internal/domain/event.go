package domain

import (
	"context"

	"github.com/google/uuid"
)

// EventType identifies a domain event on the wire and in metrics.
type EventType string

const (
	EventVoteCast     EventType = "vote_cast"
	EventPollCreated  EventType = "poll_created"
	EventPollDeleted  EventType = "poll_deleted"
	EventPollSnapshot EventType = "poll_snapshot"
)

// Event is a state change reported by the external application layer.
type Event interface {
	Type() EventType
	PollKey() string
}

// VoteCast reports the outcome of an atomic vote increment.
type VoteCast struct {
	PollID   string
	OptionID string
	Tallies  []Option
}

// PollCreated announces a new poll to the lobby.
type PollCreated struct {
	Poll Poll
}

// PollDeleted announces the removal of a poll.
type PollDeleted struct {
	PollID string
}

// PollSnapshot is the full current state of a poll for one connection.
type PollSnapshot struct {
	PollID       string
	Options      []Option
	ConnectionID uuid.UUID
}

func (VoteCast) Type() EventType     { return EventVoteCast }
func (PollCreated) Type() EventType  { return EventPollCreated }
func (PollDeleted) Type() EventType  { return EventPollDeleted }
func (PollSnapshot) Type() EventType { return EventPollSnapshot }

func (e VoteCast) PollKey() string     { return e.PollID }
func (e PollCreated) PollKey() string  { return e.Poll.ID }
func (e PollDeleted) PollKey() string  { return e.PollID }
func (e PollSnapshot) PollKey() string { return e.PollID }

// EventSink accepts domain events. The router routes them to local rooms;
// the event bus relays them to every instance first.
type EventSink interface {
	Route(ctx context.Context, event Event) error
}
