package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAuthResult(t *testing.T) {
	codec := NewWebSocketCodec()

	msg, err := codec.Decode([]byte(`{"type":"OnAuthorization","data":{"success":true,"id":12345}}`))
	require.NoError(t, err)
	require.Equal(t, MsgAuthResult, msg.Kind)

	p := msg.Payload.(AuthResultPayload)
	assert.True(t, p.Success)
	assert.Equal(t, "12345", p.SelfID, "numeric ids normalize to strings")
}

func TestDecodeLobbyListWrappedAndDirect(t *testing.T) {
	codec := NewWebSocketCodec()

	wrapped := `{"type":"OnLobbyList","data":{"lobbies":{"7":{"id":7,"memberLimit":4,"metadata":{"name":"~chat~pub~~Alpha"}}}}}`
	msg, err := codec.Decode([]byte(wrapped))
	require.NoError(t, err)
	require.Equal(t, MsgLobbyList, msg.Kind)

	p := msg.Payload.(LobbyListPayload)
	assert.True(t, p.Full)
	require.Contains(t, p.Lobbies, "7")
	alpha := p.Lobbies["7"]
	assert.Equal(t, "Alpha", alpha.Name())

	// Older servers send the map as the frame body directly.
	direct := `{"type":"OnGetLobbyList","data":{"9":{"id":9,"metadata":{"name":"Beta"}}}}`
	msg, err = codec.Decode([]byte(direct))
	require.NoError(t, err)
	p = msg.Payload.(LobbyListPayload)
	assert.Contains(t, p.Lobbies, "9")
}

func TestDecodeSingleLobbyUpdateIsPartial(t *testing.T) {
	codec := NewWebSocketCodec()

	frame := `{"type":"OnLobbyChanged","data":{"lobby":{"id":3,"metadata":{"name":"Gamma"}}}}`
	msg, err := codec.Decode([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, MsgLobbyChanged, msg.Kind)

	p := msg.Payload.(LobbyListPayload)
	assert.False(t, p.Full, "single lobby updates must never trigger stale removal")
	assert.Contains(t, p.Lobbies, "3")
}

func TestDecodeJoinResultSuccessOmitted(t *testing.T) {
	codec := NewWebSocketCodec()

	msg, err := codec.Decode([]byte(`{"type":"OnLobbyJoined","data":{"id":42}}`))
	require.NoError(t, err)
	p := msg.Payload.(JoinResultPayload)
	assert.True(t, p.Success, "absent success field means success")
	assert.Equal(t, "42", p.LobbyID)

	msg, err = codec.Decode([]byte(`{"type":"OnLobbyJoined","data":{"success":false,"reason":"full"}}`))
	require.NoError(t, err)
	p = msg.Payload.(JoinResultPayload)
	assert.False(t, p.Success)
	assert.Equal(t, "full", p.Reason)
}

func TestDecodeChatSenderFallback(t *testing.T) {
	codec := NewWebSocketCodec()

	msg, err := codec.Decode([]byte(`{"type":"OnChatMessage","data":{"speakerId":"S77","text":"gg"}}`))
	require.NoError(t, err)
	p := msg.Payload.(ChatPayload)
	assert.Equal(t, "S77", p.SenderID)
	assert.Equal(t, "gg", p.Text)
}

func TestDecodeMalformedFrames(t *testing.T) {
	codec := NewWebSocketCodec()

	cases := []string{
		`not json`,
		`{"type":"OnSomethingNew","data":{}}`,
		`{"type":"OnLobbyList","data":"nope"}`,
	}
	for _, frame := range cases {
		_, err := codec.Decode([]byte(frame))
		var de *DecodeError
		require.ErrorAs(t, err, &de, "frame %q", frame)
		assert.Equal(t, VariantWebSocket, de.Variant)
	}
}

func TestEncodeAuthorization(t *testing.T) {
	codec := NewWebSocketCodec()

	frame, err := codec.EncodeAuthorization("S123", "Pilot")
	require.NoError(t, err)

	var env struct {
		Type    string            `json:"type"`
		Content map[string]string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "Authorization", env.Type)
	assert.Equal(t, "web", env.Content["authtype"])
	assert.Equal(t, "S123", env.Content["key"])
	assert.Equal(t, ClientVersion, env.Content["clientVersion"])
	assert.Equal(t, "Pilot", env.Content["playerName"])
}

func TestEncodeJoinLobbyNumericID(t *testing.T) {
	codec := NewWebSocketCodec()

	frame, err := codec.EncodeJoinLobby("42", "hunter2")
	require.NoError(t, err)

	var env struct {
		Type    string                 `json:"type"`
		Content map[string]interface{} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "DoJoinLobby", env.Type)
	assert.Equal(t, float64(42), env.Content["id"], "numeric ids are sent as JSON numbers")
	assert.Equal(t, "hunter2", env.Content["password"])
}

func TestEncodeCreateLobbyAddsPrefix(t *testing.T) {
	codec := NewWebSocketCodec()

	frame, err := codec.EncodeCreateLobby("My Room", 4, "", false)
	require.NoError(t, err)

	var env struct {
		Content map[string]interface{} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, ChatLobbyPrefix+"My Room", env.Content["name"])
}

func TestWireLobbyMetadataParsing(t *testing.T) {
	l := WireLobby{Metadata: map[string]string{
		"name":         "~chat~pub~~The Pit",
		"gameSettings": "x*bigbattle.bzn*0*1234567*",
		"ready":        "1*canyon.bzn*",
		"launched":     "1",
	}}

	assert.Equal(t, "The Pit", l.Name())
	assert.Equal(t, "canyon.bzn", l.MapName(), "the host ready string wins over gameSettings")
	assert.Equal(t, "1234567", l.ModID())
	assert.True(t, l.Launched())
}

func TestAccountIDClassification(t *testing.T) {
	assert.Equal(t, AuthSteam, AuthKindForID("S76561198000000000"))
	assert.Equal(t, AuthGOG, AuthKindForID("G12345"))
	assert.Equal(t, AuthUnknown, AuthKindForID("12345"))

	assert.Equal(t, "76561198000000000", PlatformAccountID("S76561198000000000"))
	assert.Equal(t, "12345", PlatformAccountID("12345"))
}
