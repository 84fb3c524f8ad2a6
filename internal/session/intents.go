package session

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned from intent submission.
var (
	// ErrNotConnected is returned when an intent requires an active
	// connection and the session has none.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAlreadyInLobby is returned by Join and Create while the
	// session still occupies a lobby.
	ErrAlreadyInLobby = errors.New("session: already in a lobby")

	// ErrUnsupportedIntent is returned for lobby operations on a
	// variant that only supports passive monitoring.
	ErrUnsupportedIntent = errors.New("session: intent not supported by this game variant")

	// ErrSessionClosed is returned when the session loop is no longer
	// accepting intents.
	ErrSessionClosed = errors.New("session: closed")
)

// NotSubscribedError is returned by lobby-scoped intents (chat, leave)
// when the session is not joined to any lobby, including after the
// joined lobby vanished from the server list.
type NotSubscribedError struct {
	Op string
}

func (e *NotSubscribedError) Error() string {
	return fmt.Sprintf("session: %s requires a joined lobby", e.Op)
}

type intentKind int

const (
	intentChat intentKind = iota
	intentJoin
	intentLeave
	intentCreate
	intentRefresh
	intentDisconnect
)

func (k intentKind) String() string {
	switch k {
	case intentChat:
		return "chat"
	case intentJoin:
		return "join"
	case intentLeave:
		return "leave"
	case intentCreate:
		return "create"
	case intentRefresh:
		return "refresh"
	case intentDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// intent is a request posted into the session's writer goroutine. The
// loop validates it against current state and replies on resp.
type intent struct {
	kind     intentKind
	lobbyID  string
	password string
	text     string
	name     string
	queuedAt time.Time
	resp     chan error
}

// stale reports whether the intent sat in the queue past the submission
// timeout. The writer loop rejects stale intents instead of executing
// them, so a chat queued during an outage is never sent minutes later.
func (it intent) stale() bool {
	return time.Since(it.queuedAt) > intentTimeout
}

const intentTimeout = 10 * time.Second

// submit posts an intent to the writer goroutine and waits for its
// verdict.
func (s *Session) submit(it intent) error {
	it.queuedAt = time.Now()
	it.resp = make(chan error, 1)
	select {
	case s.intents <- it:
	case <-s.done:
		return ErrSessionClosed
	case <-time.After(intentTimeout):
		return ErrNotConnected
	}
	select {
	case err := <-it.resp:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// SendChat posts a chat line to the joined lobby.
func (s *Session) SendChat(text string) error {
	return s.submit(intent{kind: intentChat, text: text})
}

// JoinLobby asks the server to add this session to a lobby. The join
// outcome arrives asynchronously as a LobbyJoined event or a protocol
// error event.
func (s *Session) JoinLobby(lobbyID, password string) error {
	return s.submit(intent{kind: intentJoin, lobbyID: lobbyID, password: password})
}

// LeaveLobby exits the joined lobby and returns to the lounge.
func (s *Session) LeaveLobby() error {
	return s.submit(intent{kind: intentLeave})
}

// CreateLobby asks the server to open a new chat lobby owned by this
// session.
func (s *Session) CreateLobby(name string) error {
	return s.submit(intent{kind: intentCreate, name: name})
}

// RefreshLobbies requests a fresh full lobby list from the server.
func (s *Session) RefreshLobbies() error {
	return s.submit(intent{kind: intentRefresh})
}

// Disconnect stops the session loop without reconnecting. The session
// cannot be reused afterwards.
func (s *Session) Disconnect() error {
	err := s.submit(intent{kind: intentDisconnect})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}
