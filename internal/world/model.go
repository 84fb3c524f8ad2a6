// Package world maintains the authoritative in-memory snapshot of all
// known lobbies, players, and chat history. All mutation happens from the
// owning session's single writer goroutine; read queries return copies so
// consumers can never reach into live state.
package world

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/protocol"
)

// Defaults for the tunable model parameters.
const (
	DefaultStaleThreshold = 2   // full updates a lobby may be absent before removal
	DefaultChatCapacity   = 500 // chat messages retained per lobby
)

// Lobby is a hosted game session advertised by the directory server.
type Lobby struct {
	ID            string
	Name          string
	MapID         string
	ModID         string
	OwnerID       string
	PlayerCount   int
	Capacity      int
	Locked        bool
	Private       bool
	Launched      bool
	ClientVersion string
	Variant       protocol.Variant
	SeenAt        time.Time
}

// Player is a platform account seen in a lobby. LobbyID is a weak
// reference: it always names a lobby currently present in the model.
type Player struct {
	ID        string
	Name      string
	AuthKind  protocol.AuthKind
	IPAddress string // only populated for members of the monitored lobby
	LobbyID   string
}

// ChatMessage is one chat line, bound to the lobby it was spoken in.
type ChatMessage struct {
	Timestamp  time.Time
	SenderID   string
	SenderName string
	LobbyID    string
	Text       string
	Direction  events.ChatDirection
}

// ListChanges reports the outcome of one lobby list reconciliation pass.
type ListChanges struct {
	Added   []string
	Updated []string
	Removed []string
	Joined  []Player
	Left    []Player
	Total   int
}

// Empty reports whether the pass changed nothing.
func (c ListChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0 &&
		len(c.Joined) == 0 && len(c.Left) == 0
}

// ProtocolViolationError indicates a semantically inconsistent update,
// such as chat for a lobby the model has never seen. The update is
// dropped and logged; it is never fatal.
type ProtocolViolationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// Model is the id-indexed arena of lobbies, players and chat rings.
// Cascading removal of a lobby is a handful of index deletions, so no
// dangling references can survive it.
type Model struct {
	mu sync.RWMutex

	lobbies map[string]*Lobby
	players map[string]*Player
	members map[string]map[string]struct{} // lobby id -> member player ids
	chat    map[string]*chatRing

	// absentCount tracks consecutive full updates each lobby was missing
	// from; reaching staleThreshold removes the lobby.
	absentCount    map[string]int
	staleThreshold int
	chatCapacity   int
}

// NewModel creates a model. Zero threshold/capacity select the defaults.
func NewModel(staleThreshold, chatCapacity int) *Model {
	if staleThreshold < 1 {
		staleThreshold = DefaultStaleThreshold
	}
	if chatCapacity < 1 {
		chatCapacity = DefaultChatCapacity
	}
	return &Model{
		lobbies:        make(map[string]*Lobby),
		players:        make(map[string]*Player),
		members:        make(map[string]map[string]struct{}),
		chat:           make(map[string]*chatRing),
		absentCount:    make(map[string]int),
		staleThreshold: staleThreshold,
		chatCapacity:   chatCapacity,
	}
}

// ApplyLobbyList reconciles a full or partial lobby list update. Full
// updates advance the stale debounce for absent lobbies; partial updates
// only upsert the entries they carry.
func (m *Model) ApplyLobbyList(entries map[string]protocol.WireLobby, full bool, variant protocol.Variant) ListChanges {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ch ListChanges
	now := time.Now()

	for id, wire := range entries {
		if id == "" {
			id = wire.ID.String()
		}
		if id == "" {
			continue
		}

		_, existed := m.lobbies[id]
		m.lobbies[id] = lobbyFromWire(id, &wire, variant, now)
		delete(m.absentCount, id)

		if existed {
			ch.Updated = append(ch.Updated, id)
		} else {
			ch.Added = append(ch.Added, id)
		}

		joined, left := m.reconcileMembers(id, wire.Users)
		ch.Joined = append(ch.Joined, joined...)
		ch.Left = append(ch.Left, left...)
	}

	if full {
		for id := range m.lobbies {
			if _, present := entries[id]; present {
				continue
			}
			m.absentCount[id]++
			if m.absentCount[id] >= m.staleThreshold {
				left := m.removeLobbyLocked(id)
				ch.Removed = append(ch.Removed, id)
				ch.Left = append(ch.Left, left...)
			}
		}
	}

	ch.Total = len(m.lobbies)
	sort.Strings(ch.Added)
	sort.Strings(ch.Updated)
	sort.Strings(ch.Removed)
	return ch
}

// reconcileMembers diffs a lobby's wire user map against known members.
func (m *Model) reconcileMembers(lobbyID string, users map[string]protocol.WireUser) (joined, left []Player) {
	current := m.members[lobbyID]
	next := make(map[string]struct{}, len(users))

	for uid, wu := range users {
		next[uid] = struct{}{}
		p := &Player{
			ID:        uid,
			Name:      wu.DisplayName(),
			AuthKind:  protocol.AuthKindForID(uid),
			IPAddress: wu.IPAddress,
			LobbyID:   lobbyID,
		}
		if _, known := current[uid]; !known {
			joined = append(joined, *p)
		}
		m.players[uid] = p
	}

	for uid := range current {
		if _, still := next[uid]; !still {
			if p, ok := m.players[uid]; ok && p.LobbyID == lobbyID {
				left = append(left, *p)
				delete(m.players, uid)
			}
		}
	}

	m.members[lobbyID] = next
	return joined, left
}

// ApplyServerAd upserts the single server advertisement a RakNet pong
// carries. BZCC exposes one advertised session per directory address.
func (m *Model) ApplyServerAd(id, info string) ListChanges {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ch ListChanges
	if _, existed := m.lobbies[id]; existed {
		ch.Updated = append(ch.Updated, id)
	} else {
		ch.Added = append(ch.Added, id)
	}

	m.lobbies[id] = &Lobby{
		ID:      id,
		Name:    info,
		Variant: protocol.VariantRakNet,
		SeenAt:  time.Now(),
	}
	delete(m.absentCount, id)
	ch.Total = len(m.lobbies)
	return ch
}

// RemoveLobby removes a lobby immediately (OnLobbyRemoved), cascading to
// its players and chat history. Returns the players that were removed.
func (m *Model) RemoveLobby(id string) ([]Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lobbies[id]; !ok {
		return nil, false
	}
	return m.removeLobbyLocked(id), true
}

// removeLobbyLocked performs the cascading index deletions.
func (m *Model) removeLobbyLocked(id string) []Player {
	var left []Player
	for uid := range m.members[id] {
		if p, ok := m.players[uid]; ok {
			left = append(left, *p)
			delete(m.players, uid)
		}
	}
	delete(m.members, id)
	delete(m.lobbies, id)
	delete(m.chat, id)
	delete(m.absentCount, id)
	return left
}

// ApplyChat appends a chat message to its lobby's ring.
func (m *Model) ApplyChat(msg ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lobbies[msg.LobbyID]; !ok {
		return &ProtocolViolationError{Reason: fmt.Sprintf("chat for unknown lobby %q", msg.LobbyID)}
	}

	ring, ok := m.chat[msg.LobbyID]
	if !ok {
		ring = newChatRing(m.chatCapacity)
		m.chat[msg.LobbyID] = ring
	}
	ring.push(msg)
	return nil
}

// ApplyMemberChange records a join/leave delivered as an incremental
// member event rather than a list update.
func (m *Model) ApplyMemberChange(lobbyID, playerID string, removed bool) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lobbies[lobbyID]; !ok {
		return Player{}, &ProtocolViolationError{Reason: fmt.Sprintf("member change for unknown lobby %q", lobbyID)}
	}

	if removed {
		p, ok := m.players[playerID]
		if !ok || p.LobbyID != lobbyID {
			return Player{ID: playerID, LobbyID: lobbyID}, nil
		}
		out := *p
		delete(m.players, playerID)
		delete(m.members[lobbyID], playerID)
		return out, nil
	}

	p := &Player{
		ID:       playerID,
		Name:     protocol.PlatformAccountID(playerID),
		AuthKind: protocol.AuthKindForID(playerID),
		LobbyID:  lobbyID,
	}
	m.players[playerID] = p
	if m.members[lobbyID] == nil {
		m.members[lobbyID] = make(map[string]struct{})
	}
	m.members[lobbyID][playerID] = struct{}{}
	return *p, nil
}

// Reset drops all state. Called when a session reconnects and will
// receive a fresh full snapshot.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lobbies = make(map[string]*Lobby)
	m.players = make(map[string]*Player)
	m.members = make(map[string]map[string]struct{})
	m.chat = make(map[string]*chatRing)
	m.absentCount = make(map[string]int)
}

// ---- Read queries. All return copies. ----

// Lobbies returns a snapshot of all known lobbies, sorted by id.
func (m *Model) Lobbies() []Lobby {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lobby returns a snapshot of one lobby.
func (m *Model) Lobby(id string) (Lobby, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.lobbies[id]
	if !ok {
		return Lobby{}, false
	}
	return *l, true
}

// HasLobby reports whether a lobby is currently present.
func (m *Model) HasLobby(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lobbies[id]
	return ok
}

// Players returns a snapshot of a lobby's members, sorted by id.
func (m *Model) Players(lobbyID string) []Player {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Player, 0, len(m.members[lobbyID]))
	for uid := range m.members[lobbyID] {
		if p, ok := m.players[uid]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Player returns a snapshot of one player.
func (m *Model) Player(id string) (Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// ChatHistory returns a lobby's buffered chat, oldest first.
func (m *Model) ChatHistory(lobbyID string) []ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ring, ok := m.chat[lobbyID]
	if !ok {
		return nil
	}
	return ring.snapshot()
}

// FindLobbyByMember returns the lobby the given account is a member of.
// Used to track which lobby the session itself is in.
func (m *Model) FindLobbyByMember(accountID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.players[accountID]; ok {
		return p.LobbyID, true
	}
	return "", false
}

// Counts returns the number of lobbies and players currently tracked.
func (m *Model) Counts() (lobbies, players int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lobbies), len(m.players)
}

// lobbyFromWire converts the wire shape into the domain shape.
func lobbyFromWire(id string, w *protocol.WireLobby, variant protocol.Variant, now time.Time) *Lobby {
	owner := w.Owner.String()
	if owner == "-1" {
		owner = ""
	}
	return &Lobby{
		ID:            id,
		Name:          w.Name(),
		MapID:         w.MapName(),
		ModID:         w.ModID(),
		OwnerID:       owner,
		PlayerCount:   len(w.Users),
		Capacity:      w.MemberLimit,
		Locked:        w.IsLocked,
		Private:       w.IsPrivate,
		Launched:      w.Launched(),
		ClientVersion: w.ClientVersion,
		Variant:       variant,
		SeenAt:        now,
	}
}
