package protocol

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client identity constants matching the official BZ98R web client. The
// directory server rejects Authorization requests with an unrecognized
// client version.
const (
	ClientVersion = "2.2.301"
	APIVersion    = "0.0"
	AuthTypeWeb   = "web"
)

// WebSocketCodec encodes and decodes the BZ98R JSON frame protocol.
// Incoming frames are {"type": ..., "data": ...}; outgoing intents are
// {"type": ..., "content": ...}.
type WebSocketCodec struct {
	logger zerolog.Logger
}

// NewWebSocketCodec creates a codec for the BZ98R protocol.
func NewWebSocketCodec() *WebSocketCodec {
	return &WebSocketCodec{
		logger: log.With().Str("component", "ws_codec").Logger(),
	}
}

// wsIncoming is the envelope of a server-to-client frame.
type wsIncoming struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wsOutgoing is the envelope of a client-to-server intent.
type wsOutgoing struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content"`
}

// Decode converts one raw WebSocket text frame into a Message.
func (c *WebSocketCodec) Decode(frame []byte) (*Message, error) {
	var env wsIncoming
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, decodeErrorf(VariantWebSocket, "invalid frame envelope: %v", err)
	}

	switch env.Type {
	case "OnAuthorization":
		return c.decodeAuthResult(env.Data)

	case "OnLobbyList", "OnGetLobbyList", "OnLobbyListChanged":
		return c.decodeLobbyList(env.Data, true)

	case "OnLobbyChanged", "OnLobbyUpdate":
		return c.decodeLobbyList(env.Data, false)

	case "OnLobbyRemoved":
		var body struct {
			ID WireID `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, decodeErrorf(VariantWebSocket, "OnLobbyRemoved: %v", err)
		}
		return &Message{Kind: MsgLobbyRemoved, Payload: LobbyRemovedPayload{LobbyID: body.ID.String()}}, nil

	case "OnLobbyJoined":
		return c.decodeJoinResult(env.Data, MsgJoinResult)

	case "OnLobbyCreated":
		return c.decodeJoinResult(env.Data, MsgCreateResult)

	case "OnChatMessage":
		return c.decodeChat(env.Data)

	case "OnLobbyMemberListChanged":
		var body struct {
			Member  WireID `json:"member"`
			LobbyID WireID `json:"lobbyId"`
			Removed bool   `json:"removed"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, decodeErrorf(VariantWebSocket, "OnLobbyMemberListChanged: %v", err)
		}
		return &Message{Kind: MsgMemberChanged, Payload: MemberChangedPayload{
			LobbyID:  body.LobbyID.String(),
			MemberID: body.Member.String(),
			Removed:  body.Removed,
		}}, nil

	case "OnUserDataChanged":
		var body struct {
			Member WireID `json:"member"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, decodeErrorf(VariantWebSocket, "OnUserDataChanged: %v", err)
		}
		return &Message{Kind: MsgUserDataChanged, Payload: UserDataChangedPayload{MemberID: body.Member.String()}}, nil

	case "OnLobbyDataChanged":
		var body struct {
			ChangedLobby WireID `json:"changedLobby"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, decodeErrorf(VariantWebSocket, "OnLobbyDataChanged: %v", err)
		}
		return &Message{Kind: MsgLobbyDataChanged, Payload: LobbyDataChangedPayload{LobbyID: body.ChangedLobby.String()}}, nil

	case "OnPing", "OnPong", "Pong":
		return &Message{Kind: MsgHeartbeat}, nil

	default:
		c.logger.Debug().Str("type", env.Type).Msg("unrecognized frame type")
		return nil, decodeErrorf(VariantWebSocket, "unrecognized frame type %q", env.Type)
	}
}

// decodeAuthResult handles OnAuthorization.
func (c *WebSocketCodec) decodeAuthResult(data json.RawMessage) (*Message, error) {
	var body struct {
		Success bool   `json:"success"`
		ID      WireID `json:"id"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, decodeErrorf(VariantWebSocket, "OnAuthorization: %v", err)
	}
	return &Message{Kind: MsgAuthResult, Payload: AuthResultPayload{
		Success: body.Success,
		SelfID:  body.ID.String(),
		Reason:  body.Reason,
	}}, nil
}

// decodeLobbyList handles both full snapshots (OnLobbyList) and partial
// updates (OnLobbyChanged). The server wraps the lobby map in a "lobbies"
// key for list frames, or sends a single lobby under "lobby".
func (c *WebSocketCodec) decodeLobbyList(data json.RawMessage, full bool) (*Message, error) {
	var wrapped struct {
		Lobbies map[string]WireLobby `json:"lobbies"`
		Lobby   *WireLobby           `json:"lobby"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.Lobbies != nil {
			return &Message{Kind: kindForList(full), Payload: LobbyListPayload{Lobbies: wrapped.Lobbies, Full: full}}, nil
		}
		if wrapped.Lobby != nil {
			return &Message{Kind: MsgLobbyChanged, Payload: LobbyListPayload{
				Lobbies: map[string]WireLobby{wrapped.Lobby.ID.String(): *wrapped.Lobby},
			}}, nil
		}
	}

	// Older servers send the lobby map directly as the frame body.
	var direct map[string]WireLobby
	if err := json.Unmarshal(data, &direct); err != nil {
		return nil, decodeErrorf(VariantWebSocket, "lobby list body: %v", err)
	}
	return &Message{Kind: kindForList(full), Payload: LobbyListPayload{Lobbies: direct, Full: full}}, nil
}

func kindForList(full bool) MessageKind {
	if full {
		return MsgLobbyList
	}
	return MsgLobbyChanged
}

// decodeJoinResult handles OnLobbyJoined and OnLobbyCreated, which share
// a body shape.
func (c *WebSocketCodec) decodeJoinResult(data json.RawMessage, kind MessageKind) (*Message, error) {
	var body struct {
		Success *bool  `json:"success"`
		ID      WireID `json:"id"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, decodeErrorf(VariantWebSocket, "join result: %v", err)
	}
	// Absent success field means success; the server only includes it on failure.
	ok := body.Success == nil || *body.Success
	return &Message{Kind: kind, Payload: JoinResultPayload{
		Success: ok,
		LobbyID: body.ID.String(),
		Reason:  body.Reason,
	}}, nil
}

// decodeChat handles OnChatMessage. Newer servers send speakerId, older
// ones send author.
func (c *WebSocketCodec) decodeChat(data json.RawMessage) (*Message, error) {
	var body struct {
		Author    WireID `json:"author"`
		SpeakerID WireID `json:"speakerId"`
		LobbyID   WireID `json:"lobbyId"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, decodeErrorf(VariantWebSocket, "OnChatMessage: %v", err)
	}
	sender := body.Author.String()
	if sender == "" {
		sender = body.SpeakerID.String()
	}
	return &Message{Kind: MsgChat, Payload: ChatPayload{
		SenderID: sender,
		LobbyID:  body.LobbyID.String(),
		Text:     body.Text,
	}}, nil
}

// ---- Outgoing intent encoders ----

// encode marshals an outgoing envelope. Marshal failures can only come from
// programmer error in the content types, so they are surfaced as-is.
func (c *WebSocketCodec) encode(msgType string, content interface{}) ([]byte, error) {
	return json.Marshal(wsOutgoing{Type: msgType, Content: content})
}

// EncodeAuthorization builds the login frame sent immediately after connect.
func (c *WebSocketCodec) EncodeAuthorization(key, playerName string) ([]byte, error) {
	content := map[string]string{
		"authtype":      AuthTypeWeb,
		"key":           key,
		"id":            "0",
		"apiVer":        APIVersion,
		"clientVersion": ClientVersion,
	}
	if playerName != "" {
		content["name"] = playerName
		content["playerName"] = playerName
	}
	return c.encode("Authorization", content)
}

// EncodeEnterLounge requests lounge membership, which subscribes the
// session to lobby list updates.
func (c *WebSocketCodec) EncodeEnterLounge() ([]byte, error) {
	return c.encode("DoEnterLounge", true)
}

// EncodeGetLobbyList explicitly requests a full lobby list snapshot.
func (c *WebSocketCodec) EncodeGetLobbyList() ([]byte, error) {
	return c.encode("GetLobbyList", true)
}

// EncodeJoinLobby builds a join intent. The server expects numeric ids
// where the id is numeric.
func (c *WebSocketCodec) EncodeJoinLobby(lobbyID, password string) ([]byte, error) {
	var id interface{} = lobbyID
	if n, ok := WireID(lobbyID).Int(); ok {
		id = n
	}
	return c.encode("DoJoinLobby", map[string]interface{}{"id": id, "password": password})
}

// EncodeExitLobby builds a leave intent for the given lobby.
func (c *WebSocketCodec) EncodeExitLobby(lobbyID string) ([]byte, error) {
	var id interface{} = lobbyID
	if n, ok := WireID(lobbyID).Int(); ok {
		id = n
	}
	return c.encode("DoExitLobby", id)
}

// EncodeSendChat builds a chat intent for the joined lobby.
func (c *WebSocketCodec) EncodeSendChat(text string) ([]byte, error) {
	return c.encode("DoSendChat", text)
}

// EncodeCreateLobby builds a create intent. The name receives the chat
// lobby prefix the official client uses.
func (c *WebSocketCodec) EncodeCreateLobby(name string, memberLimit int, password string, private bool) ([]byte, error) {
	return c.encode("CreateLobby", map[string]interface{}{
		"name":        ChatLobbyPrefix + name,
		"isPrivate":   private,
		"memberLimit": memberLimit,
		"password":    password,
	})
}

// EncodePing builds the liveness probe frame.
func (c *WebSocketCodec) EncodePing() ([]byte, error) {
	return c.encode("Ping", true)
}

// EncodeDoPing builds the second keepalive frame the official client
// sends alongside Ping on every tick.
func (c *WebSocketCodec) EncodeDoPing() ([]byte, error) {
	return c.encode("DoPing", true)
}

// EncodeSetPlayerData builds a single player metadata update.
func (c *WebSocketCodec) EncodeSetPlayerData(key, value string) ([]byte, error) {
	return c.encode("SetPlayerData", map[string]string{"key": key, "value": value})
}

// EncodeSetLobbyData builds a single lobby metadata update (host only).
func (c *WebSocketCodec) EncodeSetLobbyData(key, value string) ([]byte, error) {
	return c.encode("SetLobbyData", map[string]string{"key": key, "value": value})
}

// PlayerDataUpdates returns the SetPlayerData sequence the official client
// sends after a successful Authorization.
func (c *WebSocketCodec) PlayerDataUpdates(playerName string) [][2]string {
	return [][2]string{
		{"name", playerName},
		{"playerName", playerName},
		{"clientVersion", ClientVersion},
		{"authType", AuthTypeWeb},
	}
}

// LobbyDataUpdates returns the SetLobbyData sequence sent after creating
// a lobby, mirroring the official client's defaults.
func (c *WebSocketCodec) LobbyDataUpdates(name string) [][2]string {
	return [][2]string{
		{"clientVersion", ClientVersion},
		{"GameVersion", ClientVersion},
		{"gameType", "1"},
		{"gameSettings", "*"},
		{"name", ChatLobbyPrefix + name},
	}
}
