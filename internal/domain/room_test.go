package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPollRoom_NeverCollidesWithLobby(t *testing.T) {
	room := PollRoom("lobby")

	assert.NotEqual(t, LobbyRoom, room)
	assert.False(t, room.IsLobby())
	assert.True(t, LobbyRoom.IsLobby())
}

func TestRoomKey_PollID(t *testing.T) {
	id, ok := PollRoom("p1").PollID()
	assert.True(t, ok)
	assert.Equal(t, "p1", id)

	_, ok = LobbyRoom.PollID()
	assert.False(t, ok)
}

func TestFindOption(t *testing.T) {
	options := []Option{{ID: "yes", Value: "Yes", Vote: 1}, {ID: "no", Value: "No"}}

	opt, ok := FindOption(options, "yes")
	assert.True(t, ok)
	assert.Equal(t, int64(1), opt.Vote)

	_, ok = FindOption(options, "maybe")
	assert.False(t, ok)
}
