package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPong(guid, sendTime uint64, info string, magic [16]byte) []byte {
	b := NewPacketBuilder()
	b.WriteByte(RakUnconnectedPong)
	b.WriteUint64(sendTime)
	b.WriteUint64(guid)
	b.WriteBytes(magic[:])
	b.WriteBytes([]byte(info))
	return b.Build()
}

func TestEncodePingLayout(t *testing.T) {
	codec := NewRakNetCodec(0xDEADBEEF)

	ping := codec.EncodePing()
	require.Len(t, ping, 33)

	assert.Equal(t, RakUnconnectedPing, ping[0])
	assert.Equal(t, RakMagic[:], ping[9:25])
	assert.Equal(t, uint64(0xDEADBEEF), binary.BigEndian.Uint64(ping[25:33]))
}

func TestDecodePong(t *testing.T) {
	codec := NewRakNetCodec(1)

	msg, err := codec.Decode(buildPong(0xABCD, 777, "BZCC Server|map:dunes", RakMagic))
	require.NoError(t, err)
	require.Equal(t, MsgServerPong, msg.Kind)

	p := msg.Payload.(ServerPongPayload)
	assert.Equal(t, uint64(0xABCD), p.ServerGUID)
	assert.Equal(t, uint64(777), p.SendTime)
	assert.Equal(t, "BZCC Server|map:dunes", p.Info)
}

func TestDecodePongEmptyInfo(t *testing.T) {
	codec := NewRakNetCodec(1)

	msg, err := codec.Decode(buildPong(1, 1, "", RakMagic))
	require.NoError(t, err)
	assert.Empty(t, msg.Payload.(ServerPongPayload).Info)
}

func TestDecodeTruncatedPong(t *testing.T) {
	codec := NewRakNetCodec(1)

	full := buildPong(1, 1, "x", RakMagic)
	for _, n := range []int{1, 8, 16, 32} {
		_, err := codec.Decode(full[:n])
		var de *DecodeError
		require.ErrorAs(t, err, &de, "length %d", n)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	codec := NewRakNetCodec(1)

	var wrong [16]byte
	_, err := codec.Decode(buildPong(1, 1, "x", wrong))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecodeUnknownMessageID(t *testing.T) {
	codec := NewRakNetCodec(1)

	_, err := codec.Decode([]byte{0x42, 0x00})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, VariantRakNet, de.Variant)
}

func TestDecodePingEchoIsHeartbeat(t *testing.T) {
	codec := NewRakNetCodec(1)

	msg, err := codec.Decode(codec.EncodePing())
	require.NoError(t, err)
	assert.Equal(t, MsgHeartbeat, msg.Kind)
}
