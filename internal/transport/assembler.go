package transport

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/protocol"
)

// RakNet-style datagrams have no built-in message delimiting. Framed
// datagrams carry a header with a sequence number and optional split-part
// info; the assembler rebuilds complete application messages from them,
// tolerating reordering and dropping duplicates.
//
// Framed datagram layout:
//
//	[flags:1][seq:uint24 LE] then, when flags&splitFlag is set,
//	[split_id:2 BE][split_count:1][split_index:1], then the payload.
//
// Datagrams whose first byte lacks the valid-datagram bit are offline
// messages (unconnected ping/pong) and pass through unframed.
const (
	datagramValidFlag byte = 0x80
	splitFlag         byte = 0x10

	headerSize      = 4 // flags + uint24 sequence
	splitHeaderSize = headerSize + 4

	// maxPendingSplits bounds memory held for incomplete messages.
	maxPendingSplits = 64
)

// DefaultRetentionWindow is how long sequence numbers are remembered for
// duplicate detection, and how long an incomplete split is kept before
// being discarded.
const DefaultRetentionWindow = 3 * time.Second

// Assembler reassembles application messages from raw datagrams. It is
// not safe for concurrent use; the owning transport calls it from its
// single receive loop.
type Assembler struct {
	retention time.Duration

	seen    map[uint32]time.Time
	pending map[uint16]*pendingSplit

	lastPrune time.Time
}

type pendingSplit struct {
	parts    [][]byte
	received int
	started  time.Time
}

// NewAssembler creates an assembler with the given duplicate/partial
// retention window. A zero window selects DefaultRetentionWindow.
func NewAssembler(retention time.Duration) *Assembler {
	if retention <= 0 {
		retention = DefaultRetentionWindow
	}
	return &Assembler{
		retention: retention,
		seen:      make(map[uint32]time.Time),
		pending:   make(map[uint16]*pendingSplit),
	}
}

// Ingest processes one datagram and returns any application messages it
// completed: usually zero or one, but a datagram that finishes a split can
// release exactly one multi-part message. Malformed datagrams return an
// error and are dropped by the caller.
func (a *Assembler) Ingest(datagram []byte, now time.Time) ([][]byte, error) {
	a.prune(now)

	if len(datagram) == 0 {
		return nil, fmt.Errorf("empty datagram")
	}

	// Offline messages bypass framing entirely.
	if datagram[0]&datagramValidFlag == 0 {
		return [][]byte{datagram}, nil
	}

	if len(datagram) < headerSize {
		return nil, fmt.Errorf("truncated datagram header: %d bytes", len(datagram))
	}

	flags := datagram[0]
	seq := protocol.ReadUint24(datagram[1:4])

	// Duplicate suppression within the retention window.
	if _, dup := a.seen[seq]; dup {
		return nil, nil
	}
	a.seen[seq] = now

	if flags&splitFlag == 0 {
		if len(datagram) == headerSize {
			return nil, fmt.Errorf("framed datagram with empty payload (seq %d)", seq)
		}
		return [][]byte{datagram[headerSize:]}, nil
	}

	return a.ingestSplit(datagram, now, seq)
}

// ingestSplit buffers one part of a split message and releases the whole
// message once every part has arrived, in any order.
func (a *Assembler) ingestSplit(datagram []byte, now time.Time, seq uint32) ([][]byte, error) {
	if len(datagram) <= splitHeaderSize {
		return nil, fmt.Errorf("truncated split header (seq %d)", seq)
	}

	splitID := binary.BigEndian.Uint16(datagram[4:6])
	count := int(datagram[6])
	index := int(datagram[7])

	if count == 0 || index >= count {
		return nil, fmt.Errorf("invalid split part %d/%d (seq %d)", index, count, seq)
	}

	ps, ok := a.pending[splitID]
	if !ok {
		if len(a.pending) >= maxPendingSplits {
			return nil, fmt.Errorf("too many pending split messages, dropping split %d", splitID)
		}
		ps = &pendingSplit{parts: make([][]byte, count), started: now}
		a.pending[splitID] = ps
	}

	if len(ps.parts) != count {
		delete(a.pending, splitID)
		return nil, fmt.Errorf("split %d part count changed mid-assembly", splitID)
	}
	if ps.parts[index] != nil {
		// Re-sent part, already buffered.
		return nil, nil
	}

	part := make([]byte, len(datagram)-splitHeaderSize)
	copy(part, datagram[splitHeaderSize:])
	ps.parts[index] = part
	ps.received++

	if ps.received < count {
		return nil, nil
	}

	delete(a.pending, splitID)
	var total int
	for _, p := range ps.parts {
		total += len(p)
	}
	msg := make([]byte, 0, total)
	for _, p := range ps.parts {
		msg = append(msg, p...)
	}
	return [][]byte{msg}, nil
}

// prune drops expired duplicate records and abandoned partial messages.
func (a *Assembler) prune(now time.Time) {
	if now.Sub(a.lastPrune) < a.retention/2 {
		return
	}
	a.lastPrune = now

	cutoff := now.Add(-a.retention)
	for seq, t := range a.seen {
		if t.Before(cutoff) {
			delete(a.seen, seq)
		}
	}
	for id, ps := range a.pending {
		if ps.started.Before(cutoff) {
			delete(a.pending, id)
		}
	}
}

