package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/protocol"
)

func framed(seq uint32, payload []byte) []byte {
	return protocol.NewPacketBuilder().
		WriteByte(datagramValidFlag).
		WriteUint24(seq).
		WriteBytes(payload).
		Build()
}

func splitPart(seq uint32, splitID uint16, count, index byte, payload []byte) []byte {
	return protocol.NewPacketBuilder().
		WriteByte(datagramValidFlag | splitFlag).
		WriteUint24(seq).
		WriteUint16(splitID).
		WriteByte(count).
		WriteByte(index).
		WriteBytes(payload).
		Build()
}

func TestOfflineMessagePassesThrough(t *testing.T) {
	a := NewAssembler(0)

	ping := []byte{0x01, 0xAA, 0xBB}
	msgs, err := a.Ingest(ping, time.Now())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ping, msgs[0])
}

func TestFramedDatagramStripsHeader(t *testing.T) {
	a := NewAssembler(0)

	msgs, err := a.Ingest(framed(7, []byte("hello")), time.Now())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("hello"), msgs[0])
}

func TestDuplicateSequenceDropped(t *testing.T) {
	a := NewAssembler(0)
	now := time.Now()

	msgs, err := a.Ingest(framed(7, []byte("first")), now)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = a.Ingest(framed(7, []byte("retransmit")), now)
	require.NoError(t, err)
	assert.Empty(t, msgs, "retransmitted sequence must be suppressed")

	msgs, err = a.Ingest(framed(8, []byte("next")), now)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDuplicateForgottenAfterRetention(t *testing.T) {
	a := NewAssembler(time.Second)
	start := time.Now()

	_, err := a.Ingest(framed(7, []byte("x")), start)
	require.NoError(t, err)

	msgs, err := a.Ingest(framed(7, []byte("y")), start.Add(3*time.Second))
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "sequence memory must expire with the retention window")
}

func TestSplitReassemblyOutOfOrder(t *testing.T) {
	a := NewAssembler(0)
	now := time.Now()

	msgs, err := a.Ingest(splitPart(1, 42, 3, 2, []byte("cc")), now)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = a.Ingest(splitPart(2, 42, 3, 0, []byte("aa")), now)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = a.Ingest(splitPart(3, 42, 3, 1, []byte("bb")), now)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("aabbcc"), msgs[0], "parts must concatenate by index, not arrival order")
}

func TestSplitPartRetransmitIgnored(t *testing.T) {
	a := NewAssembler(0)
	now := time.Now()

	_, err := a.Ingest(splitPart(1, 9, 2, 0, []byte("aa")), now)
	require.NoError(t, err)

	// Same part, new sequence number: buffered copy wins.
	msgs, err := a.Ingest(splitPart(2, 9, 2, 0, []byte("XX")), now)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = a.Ingest(splitPart(3, 9, 2, 1, []byte("bb")), now)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("aabb"), msgs[0])
}

func TestAbandonedSplitExpires(t *testing.T) {
	a := NewAssembler(time.Second)
	start := time.Now()

	_, err := a.Ingest(splitPart(1, 5, 2, 0, []byte("aa")), start)
	require.NoError(t, err)

	// Retention passes before the second part shows up; the fragment is
	// discarded, so the late part starts a fresh (incomplete) assembly.
	msgs, err := a.Ingest(splitPart(2, 5, 2, 1, []byte("bb")), start.Add(3*time.Second))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMalformedDatagrams(t *testing.T) {
	a := NewAssembler(0)
	now := time.Now()

	cases := [][]byte{
		{},
		{datagramValidFlag, 0x01},                            // truncated header
		{datagramValidFlag, 0x01, 0x00, 0x00},                // framed but empty payload
		splitPart(1, 1, 0, 0, []byte("x")),                   // zero part count
		splitPart(2, 1, 2, 5, []byte("x")),                   // index out of range
		{datagramValidFlag | splitFlag, 1, 0, 0, 0, 1, 2, 0}, // split with no payload
	}
	for i, dg := range cases {
		_, err := a.Ingest(dg, now)
		assert.Error(t, err, "case %d", i)
	}
}
