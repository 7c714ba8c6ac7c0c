package app

import (
	"encoding/json"
	"fmt"

	"github.com/pscheid92/livepoll/internal/domain"
)

// Envelope is the wire form of a domain event on the ingest endpoint and the event bus.
type Envelope struct {
	Type     domain.EventType `json:"type"`
	PollID   string           `json:"poll_id,omitempty"`
	OptionID string           `json:"option_id,omitempty"`
	Options  []domain.Option  `json:"options,omitempty"`
	Poll     *domain.Poll     `json:"poll,omitempty"`
}

// EncodeEvent marshals an event into its envelope.
func EncodeEvent(event domain.Event) ([]byte, error) {
	var env Envelope
	switch e := event.(type) {
	case domain.VoteCast:
		env = Envelope{Type: e.Type(), PollID: e.PollID, OptionID: e.OptionID, Options: e.Tallies}
	case domain.PollCreated:
		poll := e.Poll
		env = Envelope{Type: e.Type(), PollID: poll.ID, Poll: &poll}
	case domain.PollDeleted:
		env = Envelope{Type: e.Type(), PollID: e.PollID}
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownEvent, event)
	}
	return json.Marshal(env)
}

// DecodeEvent parses and validates an envelope. Snapshots are never accepted
// from outside; they are produced per connection.
func DecodeEvent(data []byte) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	return env.Event()
}

// Event validates the envelope and returns the domain event it carries.
func (env Envelope) Event() (domain.Event, error) {
	switch env.Type {
	case domain.EventVoteCast:
		if env.PollID == "" || env.OptionID == "" || len(env.Options) == 0 {
			return nil, fmt.Errorf("%w: vote_cast needs poll_id, option_id and options", domain.ErrInvalidEvent)
		}
		return domain.VoteCast{PollID: env.PollID, OptionID: env.OptionID, Tallies: env.Options}, nil

	case domain.EventPollCreated:
		if env.Poll == nil || env.Poll.ID == "" {
			return nil, fmt.Errorf("%w: poll_created needs a poll with an id", domain.ErrInvalidEvent)
		}
		return domain.PollCreated{Poll: *env.Poll}, nil

	case domain.EventPollDeleted:
		if env.PollID == "" {
			return nil, fmt.Errorf("%w: poll_deleted needs poll_id", domain.ErrInvalidEvent)
		}
		return domain.PollDeleted{PollID: env.PollID}, nil

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Type)
	}
}
