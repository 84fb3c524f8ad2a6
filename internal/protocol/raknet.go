package protocol

import (
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RakNet offline message ids used by the BZCC directory protocol.
const (
	RakUnconnectedPing byte = 0x01
	RakUnconnectedPong byte = 0x1C
)

// RakMagic is the 16-byte offline message marker that follows the
// timestamp in unconnected ping/pong datagrams.
var RakMagic = [16]byte{
	0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE,
	0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78,
}

// Unconnected pong layout: [id:1][send_time:8][server_guid:8][magic:16][info...]
const (
	rakPongInfoOffset = 1 + 8 + 8 + 16
	rakPingSize       = 1 + 8 + 16 + 8
)

// RakNetCodec encodes unconnected pings and decodes pong responses for the
// BZCC directory server. The monitor never joins a BZCC session, so
// encoding is one-directional: ping is the only outgoing datagram.
type RakNetCodec struct {
	clientGUID uint64
	logger     zerolog.Logger
}

// NewRakNetCodec creates a codec with the given client GUID. The GUID
// only needs to be stable for the lifetime of a session.
func NewRakNetCodec(clientGUID uint64) *RakNetCodec {
	return &RakNetCodec{
		clientGUID: clientGUID,
		logger:     log.With().Str("component", "raknet_codec").Logger(),
	}
}

// EncodePing builds an unconnected ping datagram.
// Layout: [0x01][time_ms:8 BE][magic:16][client_guid:8 BE].
func (c *RakNetCodec) EncodePing() []byte {
	b := NewPacketBuilder()
	b.WriteByte(RakUnconnectedPing)
	b.WriteUint64(uint64(time.Now().UnixMilli()))
	b.WriteBytes(RakMagic[:])
	b.WriteUint64(c.clientGUID)
	return b.Build()
}

// Decode converts one reassembled datagram into a Message. Unknown message
// ids and truncated payloads yield a DecodeError; the caller logs and
// discards them.
func (c *RakNetCodec) Decode(datagram []byte) (*Message, error) {
	if len(datagram) == 0 {
		return nil, decodeErrorf(VariantRakNet, "empty datagram")
	}

	switch datagram[0] {
	case RakUnconnectedPong:
		return c.decodePong(datagram)
	case RakUnconnectedPing:
		// Echo of our own probe, or another client's. Treated as liveness.
		return &Message{Kind: MsgHeartbeat}, nil
	default:
		c.logger.Debug().
			Uint8("id", datagram[0]).
			Int("len", len(datagram)).
			Msg("unknown message id")
		return nil, decodeErrorf(VariantRakNet, "unknown message id 0x%02X", datagram[0])
	}
}

// decodePong parses an unconnected pong. The trailing bytes after the
// magic are the server's advertisement string.
func (c *RakNetCodec) decodePong(datagram []byte) (*Message, error) {
	if len(datagram) < rakPongInfoOffset {
		return nil, decodeErrorf(VariantRakNet, "truncated pong: %d bytes (need %d)", len(datagram), rakPongInfoOffset)
	}

	sendTime := binary.BigEndian.Uint64(datagram[1:9])
	serverGUID := binary.BigEndian.Uint64(datagram[9:17])

	var magic [16]byte
	copy(magic[:], datagram[17:33])
	if magic != RakMagic {
		return nil, decodeErrorf(VariantRakNet, "bad offline message magic")
	}

	return &Message{Kind: MsgServerPong, Payload: ServerPongPayload{
		ServerGUID: serverGUID,
		SendTime:   sendTime,
		Info:       string(datagram[rakPongInfoOffset:]),
	}}, nil
}
