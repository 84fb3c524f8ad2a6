package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
)

// WireID is a lobby or account identifier as seen on the wire. The lobby
// server is inconsistent about whether ids arrive as JSON numbers or
// strings, so WireID accepts both and normalizes to a string.
type WireID string

// UnmarshalJSON accepts both string and numeric id representations.
func (w *WireID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*w = WireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*w = WireID(n.String())
	return nil
}

// String returns the normalized string form.
func (w WireID) String() string { return string(w) }

// Int returns the numeric form of the id and whether conversion succeeded.
func (w WireID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(w), 10, 64)
	return n, err == nil
}

// WireLobby is the JSON shape of a lobby entry as sent by the BZ98R
// directory server.
type WireLobby struct {
	ID            WireID              `json:"id"`
	Owner         WireID              `json:"owner"`
	MemberLimit   int                 `json:"memberLimit"`
	IsLocked      bool                `json:"isLocked"`
	IsPrivate     bool                `json:"isPrivate"`
	ClientVersion string              `json:"clientVersion"`
	CreatedTime   json.Number         `json:"createdTime"`
	Metadata      map[string]string   `json:"metadata"`
	Users         map[string]WireUser `json:"users"`
}

// WireUser is the JSON shape of a lobby member.
type WireUser struct {
	Name         string            `json:"name"`
	IPAddress    string            `json:"ipAddress"`
	AuthType     string            `json:"authType"`
	WANAddress   string            `json:"wanAddress"`
	LANAddresses []string          `json:"lanAddresses"`
	Metadata     map[string]string `json:"metadata"`
}

// ChatLobbyPrefix is prepended to chat-lounge lobby names by the official
// client ("~chat~pub~~MyLobby").
const ChatLobbyPrefix = "~chat~pub~~"

// DisplayName strips the chat-lobby prefix from a raw lobby name.
func DisplayName(raw string) string {
	if idx := strings.LastIndex(raw, "~~"); idx >= 0 {
		return raw[idx+2:]
	}
	return raw
}

// Name returns the lobby's display name from its metadata.
func (l *WireLobby) Name() string {
	return DisplayName(l.Metadata["name"])
}

// MapName extracts the map identifier from the '*'-separated gameSettings
// or ready metadata strings. The host's ready string wins when present.
func (l *WireLobby) MapName() string {
	for _, key := range []string{"ready", "gameSettings"} {
		parts := strings.Split(l.Metadata[key], "*")
		if len(parts) >= 2 && parts[1] != "" && parts[1] != "unknown" {
			return parts[1]
		}
	}
	return ""
}

// ModID extracts the workshop mod identifier from gameSettings, or ""
// for the stock game.
func (l *WireLobby) ModID() string {
	parts := strings.Split(l.Metadata["gameSettings"], "*")
	if len(parts) > 3 && parts[3] != "0" {
		return parts[3]
	}
	return ""
}

// Launched reports whether the lobby's match has started.
func (l *WireLobby) Launched() bool {
	return l.Metadata["launched"] == "1"
}

// DisplayName resolves a member's name, falling back to metadata when the
// root name field is missing or the server's "unknown" placeholder.
func (u *WireUser) DisplayName() string {
	if u.Name != "" && u.Name != "unknown" {
		return u.Name
	}
	return u.Metadata["name"]
}

// AuthKind classifies the platform of an account id. BZ98R account ids
// carry a platform prefix: 'S' for Steam, 'G' for GOG.
type AuthKind int

const (
	AuthUnknown AuthKind = iota
	AuthSteam
	AuthGOG
)

// String returns the string representation of an AuthKind.
func (a AuthKind) String() string {
	switch a {
	case AuthSteam:
		return "steam"
	case AuthGOG:
		return "gog"
	default:
		return "unknown"
	}
}

// AuthKindForID classifies an account id by its platform prefix.
func AuthKindForID(accountID string) AuthKind {
	switch {
	case strings.HasPrefix(accountID, "S"):
		return AuthSteam
	case strings.HasPrefix(accountID, "G"):
		return AuthGOG
	default:
		return AuthUnknown
	}
}

// PlatformAccountID strips the platform prefix from an account id,
// returning the bare Steam/GOG id.
func PlatformAccountID(accountID string) string {
	if AuthKindForID(accountID) == AuthUnknown {
		return accountID
	}
	return accountID[1:]
}
