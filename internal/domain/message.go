package domain

// Outbound message types sent to WebSocket clients.
const (
	MessageVoteUpdate      = "vote_update"
	MessageNewPoll         = "new_poll"
	MessagePollDeleted     = "poll_deleted"
	MessageConnectionCount = "connection_count"
	MessagePollData        = "poll_data"
	MessagePong            = "pong"
)

// Inbound message types accepted from WebSocket clients.
const (
	MessagePing = "ping"
)

type VoteUpdateMessage struct {
	Type         string   `json:"type"`
	PollID       string   `json:"poll_id"`
	OptionID     string   `json:"option_id"`
	NewVoteCount int64    `json:"new_vote_count"`
	OptionValue  string   `json:"option_value"`
	AllOptions   []Option `json:"all_options"`
}

type NewPollMessage struct {
	Type string `json:"type"`
	Poll Poll   `json:"poll"`
}

type PollDeletedMessage struct {
	Type   string `json:"type"`
	PollID string `json:"poll_id"`
}

type ConnectionCountMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type PollDataMessage struct {
	Type    string   `json:"type"`
	PollID  string   `json:"poll_id"`
	Options []Option `json:"options"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// InboundMessage is the envelope of anything a client sends.
type InboundMessage struct {
	Type string `json:"type"`
}
