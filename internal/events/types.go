// Package events defines the domain event types and the fan-out bus that
// delivers them to consumers (UI, chat relay, automation, history recorder).
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	EventLobbyListChanged       EventType = "lobby_list_changed"
	EventLobbyJoined            EventType = "lobby_joined"
	EventLobbyLeft              EventType = "lobby_left"
	EventChatReceived           EventType = "chat_received"
	EventPlayerJoined           EventType = "player_joined"
	EventPlayerLeft             EventType = "player_left"
	EventConnectionStateChanged EventType = "connection_state_changed"
	EventProtocolError          EventType = "protocol_error"

	// EventShutdown asks the application to stop.
	EventShutdown EventType = "shutdown"

	// EventAny subscribes a consumer to every event type.
	EventAny EventType = "*"
)

// Event represents a single domain event. Events are immutable once
// constructed; consumers receive them by value and must not retain
// mutable references into payloads.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// LobbyListChangedPayload summarizes one reconciliation pass over a
// lobby list update.
type LobbyListChangedPayload struct {
	Added   []string
	Updated []string
	Removed []string
	Total   int
}

// LobbyJoinedPayload is emitted when the session joins a lobby.
type LobbyJoinedPayload struct {
	LobbyID   string
	LobbyName string
}

// LobbyLeftPayload is emitted when the session leaves its lobby, whether
// by intent, removal, or join failure.
type LobbyLeftPayload struct {
	LobbyID string
	Reason  string
}

// ChatDirection distinguishes who originated a chat line.
type ChatDirection int

const (
	ChatIncoming ChatDirection = iota
	ChatOutgoing
	ChatSystem
)

// String returns the string representation of a ChatDirection.
func (d ChatDirection) String() string {
	switch d {
	case ChatOutgoing:
		return "outgoing"
	case ChatSystem:
		return "system"
	default:
		return "incoming"
	}
}

// ChatReceivedPayload carries one chat line for a lobby.
type ChatReceivedPayload struct {
	LobbyID    string
	SenderID   string
	SenderName string
	Text       string
	Direction  ChatDirection
	Timestamp  time.Time
}

// PlayerJoinedPayload is emitted when a player appears in a lobby.
type PlayerJoinedPayload struct {
	LobbyID    string
	PlayerID   string
	PlayerName string
	AuthKind   string
}

// PlayerLeftPayload is emitted when a player leaves or their lobby is
// removed.
type PlayerLeftPayload struct {
	LobbyID    string
	PlayerID   string
	PlayerName string
}

// ConnectionStateChangedPayload is emitted on every session state
// transition. Attempt carries the reconnect attempt number so consumers
// can show retry progress; Err is set when the transition was caused by
// a terminal or transport error.
type ConnectionStateChangedPayload struct {
	State    string
	Previous string
	Attempt  int
	Err      string
}

// ProtocolErrorPayload is emitted when a frame is dropped: decode
// failures and semantically invalid updates.
type ProtocolErrorPayload struct {
	Variant string
	Reason  string
}
