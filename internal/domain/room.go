package domain

import "strings"

// RoomKey names a group of connections that receive the same broadcasts.
type RoomKey string

// LobbyRoom receives poll lifecycle events (created, deleted), never vote updates.
const LobbyRoom RoomKey = "lobby"

const pollRoomPrefix = "poll:"

// PollRoom returns the room key for a poll's subscribers. The prefix keeps a
// poll literally named "lobby" out of the lobby.
func PollRoom(pollID string) RoomKey {
	return RoomKey(pollRoomPrefix + pollID)
}

// IsLobby reports whether the key is the lobby sentinel.
func (k RoomKey) IsLobby() bool {
	return k == LobbyRoom
}

// PollID returns the poll id of a poll room key.
func (k RoomKey) PollID() (string, bool) {
	return strings.CutPrefix(string(k), pollRoomPrefix)
}

func (k RoomKey) String() string {
	return string(k)
}
