// Package protocol implements the wire codecs for the two Battlezone lobby
// server protocols: the JSON-over-WebSocket protocol used by Battlezone 98
// Redux, and the RakNet-style binary UDP protocol used by Battlezone Combat
// Commander. Both decode into a shared protocol-neutral Message union.
package protocol

import (
	"fmt"
	"strings"
)

// Variant identifies which wire protocol a session speaks.
type Variant int

const (
	VariantWebSocket Variant = iota // BZ98R: JSON text frames over WebSocket
	VariantRakNet                   // BZCC: binary UDP datagrams
)

// variantStrings maps Variant values to their string representation.
var variantStrings = map[Variant]string{
	VariantWebSocket: "websocket",
	VariantRakNet:    "raknet",
}

// String returns the string representation of a Variant.
func (v Variant) String() string {
	if s, ok := variantStrings[v]; ok {
		return s
	}
	return "unknown"
}

// ParseVariant converts a config string into a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "websocket", "ws", "bz98r":
		return VariantWebSocket, nil
	case "raknet", "udp", "bzcc":
		return VariantRakNet, nil
	default:
		return VariantWebSocket, fmt.Errorf("unknown protocol variant %q", s)
	}
}

// MessageKind tags the variants of the Message union.
type MessageKind int

const (
	MsgUnknown MessageKind = iota
	MsgAuthResult
	MsgLobbyList    // full lobby list snapshot
	MsgLobbyChanged // partial update for one or more lobbies
	MsgLobbyRemoved
	MsgJoinResult
	MsgCreateResult
	MsgChat
	MsgMemberChanged
	MsgUserDataChanged
	MsgLobbyDataChanged
	MsgHeartbeat
	MsgServerPong
)

// messageKindStrings maps MessageKind values to their string representation.
var messageKindStrings = map[MessageKind]string{
	MsgUnknown:          "unknown",
	MsgAuthResult:       "auth_result",
	MsgLobbyList:        "lobby_list",
	MsgLobbyChanged:     "lobby_changed",
	MsgLobbyRemoved:     "lobby_removed",
	MsgJoinResult:       "join_result",
	MsgCreateResult:     "create_result",
	MsgChat:             "chat",
	MsgMemberChanged:    "member_changed",
	MsgUserDataChanged:  "user_data_changed",
	MsgLobbyDataChanged: "lobby_data_changed",
	MsgHeartbeat:        "heartbeat",
	MsgServerPong:       "server_pong",
}

// String returns the string representation of a MessageKind.
func (k MessageKind) String() string {
	if s, ok := messageKindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// Message is the protocol-neutral decoded form of a single wire frame.
// The Payload type is determined by Kind.
type Message struct {
	Kind    MessageKind
	Payload interface{}
}

// AuthResultPayload carries the server's response to an Authorization intent.
type AuthResultPayload struct {
	Success bool
	SelfID  string
	Reason  string
}

// LobbyListPayload carries a full or partial lobby list update.
// Full is true for complete snapshots: lobbies absent from a full snapshot
// are candidates for stale removal.
type LobbyListPayload struct {
	Lobbies map[string]WireLobby
	Full    bool
}

// LobbyRemovedPayload signals a lobby leaving the directory.
type LobbyRemovedPayload struct {
	LobbyID string
}

// JoinResultPayload carries the result of a join or create attempt.
type JoinResultPayload struct {
	Success bool
	LobbyID string
	Reason  string
}

// ChatPayload carries a single chat line.
type ChatPayload struct {
	SenderID string
	LobbyID  string
	Text     string
}

// MemberChangedPayload signals a player joining or leaving a lobby.
type MemberChangedPayload struct {
	LobbyID  string
	MemberID string
	Removed  bool
}

// UserDataChangedPayload signals a metadata update for a player.
type UserDataChangedPayload struct {
	MemberID string
}

// LobbyDataChangedPayload signals a metadata update for a lobby.
type LobbyDataChangedPayload struct {
	LobbyID string
}

// ServerPongPayload carries the decoded RakNet unconnected-pong response.
type ServerPongPayload struct {
	ServerGUID uint64
	SendTime   uint64
	Info       string
}

// DecodeError indicates a malformed or unrecognized frame. It is always
// non-fatal: callers log it and discard the frame without touching the
// world model.
type DecodeError struct {
	Variant Variant
	Reason  string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error (%s): %s", e.Variant, e.Reason)
}

// decodeErrorf builds a DecodeError with a formatted reason.
func decodeErrorf(v Variant, format string, args ...interface{}) error {
	return &DecodeError{Variant: v, Reason: fmt.Sprintf(format, args...)}
}
