package domain

import "context"

// Option is a single answer of a poll with its current vote tally.
type Option struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Vote  int64  `json:"vote"`
}

// Poll is the shape the backend API and the browser client agree on.
type Poll struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	Description string   `json:"description,omitempty"`
	Options     []Option `json:"options"`
}

// FindOption returns the option with the given id.
func FindOption(options []Option, optionID string) (Option, bool) {
	for _, o := range options {
		if o.ID == optionID {
			return o, true
		}
	}
	return Option{}, false
}

// PollSource reads current poll state from the external backend.
type PollSource interface {
	GetPoll(ctx context.Context, pollID string) (*Poll, error)
	ListPolls(ctx context.Context) ([]Poll, error)
}
