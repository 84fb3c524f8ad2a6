// Package session drives one connection to a lobby directory server: it
// owns the transport, decodes frames into world model mutations, emits
// domain events, and supervises reconnection. All state mutation happens
// on the session's single writer goroutine; intents from other goroutines
// are posted into it and validated there.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/protocol"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/transport"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/world"
)

// State is the connection lifecycle state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
	StateClosed
)

// stateStrings maps State values to their string representation.
var stateStrings = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDegraded:     "degraded",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
}

// String returns the string representation of a State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// Timing defaults.
const (
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultHeartbeatTimeout  = 45 * time.Second
	DefaultDegradedGrace     = 30 * time.Second
	DefaultPollInterval      = 5 * time.Second
)

// Options configures one session.
type Options struct {
	Variant    protocol.Variant
	Address    string
	PlayerName string
	AuthKey    string

	// Reconnect controls the supervisor. Zero values pick the defaults;
	// set ReconnectDisabled to stop after the first failure.
	Backoff           BackoffPolicy
	ReconnectDisabled bool

	// HeartbeatInterval is how often a liveness probe is sent. For the
	// RakNet variant this is also the server ad poll rate.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the silence after which the session degrades.
	HeartbeatTimeout time.Duration
	// DegradedGrace is how long a degraded session waits for traffic
	// before tearing the connection down and reconnecting.
	DegradedGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		if o.Variant == protocol.VariantRakNet {
			o.HeartbeatInterval = DefaultPollInterval
		} else {
			o.HeartbeatInterval = DefaultHeartbeatInterval
		}
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.DegradedGrace <= 0 {
		o.DegradedGrace = DefaultDegradedGrace
	}
	return o
}

// TransportFactory builds a fresh transport for each connect attempt.
type TransportFactory func() transport.Transport

// Session is one monitored connection to a lobby directory server.
type Session struct {
	id     string
	opts   Options
	model  *world.Model
	bus    *events.EventBus
	logger zerolog.Logger

	newTransport TransportFactory
	wsCodec      *protocol.WebSocketCodec
	rakCodec     *protocol.RakNetCodec

	intents chan intent
	done    chan struct{}
	once    sync.Once

	mu         sync.RWMutex
	state      State
	selfID     string
	joinedID   string // lobby the session currently occupies
	lastErr    error
	resub      string // lobby to rejoin once, after a reconnect
	createName string // lobby name awaiting an OnLobbyCreated result
}

// New creates a session. The factory is called once per connect attempt
// so every attempt gets a fresh transport handle.
func New(opts Options, model *world.Model, bus *events.EventBus, factory TransportFactory) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:           id,
		opts:         opts,
		model:        model,
		bus:          bus,
		newTransport: factory,
		wsCodec:      protocol.NewWebSocketCodec(),
		rakCodec:     protocol.NewRakNetCodec(uint64(uuid.New().ID())<<32 | uint64(uuid.New().ID())),
		intents:      make(chan intent, 16),
		done:         make(chan struct{}),
		state:        StateDisconnected,
		logger: log.With().
			Str("component", "session").
			Str("session_id", id[:8]).
			Str("variant", opts.Variant.String()).
			Str("addr", opts.Address).
			Logger(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SelfID returns the account id assigned by the server, empty until the
// first successful authorization.
func (s *Session) SelfID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfID
}

// JoinedLobby returns the id of the lobby the session occupies, or "".
func (s *Session) JoinedLobby() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinedID
}

// LastError returns the most recent connection or protocol error.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Variant returns the wire protocol this session speaks.
func (s *Session) Variant() protocol.Variant { return s.opts.Variant }

// Address returns the directory server address.
func (s *Session) Address() string { return s.opts.Address }

// control-flow sentinels internal to the run loop.
var (
	errManualDisconnect = errors.New("manual disconnect")
	errShutdown         = errors.New("shutdown")
)

// Run drives the session until the context is cancelled, Disconnect is
// called, or the reconnect budget is exhausted. It must be called exactly
// once.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	sup := NewSupervisor(s.opts.Backoff)

	for {
		if err := ctx.Err(); err != nil {
			s.transition(StateClosed, sup.Attempt(), nil)
			return nil
		}

		s.transition(StateConnecting, sup.Attempt(), nil)
		tr := s.newTransport()
		if err := tr.Connect(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("connect failed")
			s.setLastErr(err)
			if stop := s.awaitRetry(ctx, sup, err); stop != nil {
				return s.finish(stop)
			}
			continue
		}

		sup.Reset()
		s.model.Reset()
		s.transition(StateConnected, 0, nil)
		s.logger.Info().Msg("connected")

		err := s.runConnected(ctx, tr)
		tr.Close()

		switch {
		case errors.Is(err, errShutdown) || ctx.Err() != nil:
			s.transition(StateClosed, 0, nil)
			return nil
		case errors.Is(err, errManualDisconnect):
			s.transition(StateDisconnected, 0, nil)
			return nil
		default:
			if transport.IsClosed(err) {
				s.logger.Warn().Err(err).Msg("connection closed by peer")
			} else {
				s.logger.Warn().Err(err).Msg("connection lost")
			}
			s.setLastErr(err)
			s.rememberSubscription()
			if stop := s.awaitRetry(ctx, sup, err); stop != nil {
				return s.finish(stop)
			}
		}
	}
}

// finish maps a stop sentinel to Run's return value.
func (s *Session) finish(stop error) error {
	if errors.Is(stop, errShutdown) || errors.Is(stop, errManualDisconnect) {
		return nil
	}
	return stop
}

// awaitRetry asks the supervisor for the next backoff delay and sleeps
// through it, still answering intents. A non-nil return means Run should
// stop with that sentinel or error.
func (s *Session) awaitRetry(ctx context.Context, sup *Supervisor, cause error) error {
	if s.opts.ReconnectDisabled {
		s.transition(StateDisconnected, sup.Attempt(), cause)
		return cause
	}

	delay, ok := sup.Next()
	if !ok {
		s.logger.Error().Int("attempts", sup.Attempt()).Msg("reconnect attempts exhausted")
		s.transition(StateDisconnected, sup.Attempt(), cause)
		return cause
	}

	s.transition(StateReconnecting, sup.Attempt(), cause)
	s.logger.Info().
		Int("attempt", sup.Attempt()).
		Dur("delay", delay).
		Msg("reconnecting after backoff")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.transition(StateClosed, sup.Attempt(), nil)
			return errShutdown
		case it := <-s.intents:
			if it.kind == intentDisconnect {
				it.resp <- nil
				s.transition(StateDisconnected, sup.Attempt(), nil)
				return errManualDisconnect
			}
			it.resp <- ErrNotConnected
		case <-timer.C:
			return nil
		}
	}
}

// frameMsg is what the receive pump forwards into the writer goroutine.
type frameMsg struct {
	data []byte
	err  error
}

// runConnected is the writer loop for one established connection. It is
// the only code that mutates the world model.
func (s *Session) runConnected(ctx context.Context, tr transport.Transport) error {
	quit := make(chan struct{})
	defer close(quit)
	frames := make(chan frameMsg, 32)
	go s.receivePump(tr, frames, quit)

	if err := s.login(tr); err != nil {
		return err
	}

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	lastSeen := time.Now()
	var degradedSince time.Time

	for {
		select {
		case <-ctx.Done():
			return errShutdown

		case it := <-s.intents:
			if it.stale() && it.kind != intentDisconnect {
				// Sat in the queue through an outage; reject rather
				// than execute a long-obsolete request.
				it.resp <- ErrNotConnected
				continue
			}
			manual, err := s.handleIntent(it, tr)
			it.resp <- err
			if manual {
				return errManualDisconnect
			}

		case fm := <-frames:
			if fm.err != nil {
				if transport.IsTimeout(fm.err) {
					continue // silence is handled by the heartbeat check
				}
				return fm.err
			}
			lastSeen = time.Now()
			if s.State() == StateDegraded {
				degradedSince = time.Time{}
				s.transition(StateConnected, 0, nil)
				s.logger.Info().Msg("traffic resumed, connection recovered")
			}
			s.handleFrame(fm.data, tr)

		case <-heartbeat.C:
			s.sendHeartbeat(tr)
			silent := time.Since(lastSeen)
			switch s.State() {
			case StateConnected:
				if silent > s.opts.HeartbeatTimeout {
					degradedSince = time.Now()
					s.transition(StateDegraded, 0, nil)
					s.logger.Warn().Dur("silent", silent).Msg("no server traffic, connection degraded")
				}
			case StateDegraded:
				if time.Since(degradedSince) > s.opts.DegradedGrace {
					return &transport.TimeoutError{Op: "heartbeat", After: silent}
				}
			}
		}
	}
}

// receivePump reads frames off the transport and forwards them to the
// writer goroutine. It never touches session state itself.
func (s *Session) receivePump(tr transport.Transport, frames chan<- frameMsg, quit <-chan struct{}) {
	for {
		data, err := tr.ReceiveFrame()
		fm := frameMsg{data: data, err: err}
		select {
		case frames <- fm:
		case <-quit:
			return
		}
		if err != nil && !transport.IsTimeout(err) {
			return
		}
	}
}

// login performs the variant's post-connect sequence.
func (s *Session) login(tr transport.Transport) error {
	switch s.opts.Variant {
	case protocol.VariantWebSocket:
		frame, err := s.wsCodec.EncodeAuthorization(s.opts.AuthKey, s.opts.PlayerName)
		if err != nil {
			return err
		}
		return tr.SendFrame(frame)
	case protocol.VariantRakNet:
		return tr.SendFrame(s.rakCodec.EncodePing())
	}
	return nil
}

// sendHeartbeat sends the variant's liveness probes. The directory server
// expects both Ping and DoPing on each keepalive tick.
func (s *Session) sendHeartbeat(tr transport.Transport) {
	switch s.opts.Variant {
	case protocol.VariantWebSocket:
		s.sendAll(tr, s.wsCodec.EncodePing, s.wsCodec.EncodeDoPing)
	case protocol.VariantRakNet:
		if err := tr.SendFrame(s.rakCodec.EncodePing()); err != nil {
			s.logger.Warn().Err(err).Msg("heartbeat send failed")
		}
	}
}

// handleIntent validates and executes one intent on the writer goroutine.
func (s *Session) handleIntent(it intent, tr transport.Transport) (manual bool, err error) {
	if it.kind == intentDisconnect {
		return true, nil
	}

	if s.opts.Variant == protocol.VariantRakNet && it.kind != intentRefresh {
		return false, ErrUnsupportedIntent
	}

	switch it.kind {
	case intentChat:
		joined := s.JoinedLobby()
		if joined == "" {
			return false, &NotSubscribedError{Op: "chat"}
		}
		frame, err := s.wsCodec.EncodeSendChat(it.text)
		if err != nil {
			return false, err
		}
		if err := tr.SendFrame(frame); err != nil {
			return false, err
		}
		s.recordChat(joined, s.SelfID(), s.opts.PlayerName, it.text, events.ChatOutgoing)
		return false, nil

	case intentJoin:
		if s.JoinedLobby() != "" {
			return false, ErrAlreadyInLobby
		}
		frame, err := s.wsCodec.EncodeJoinLobby(it.lobbyID, it.password)
		if err != nil {
			return false, err
		}
		return false, tr.SendFrame(frame)

	case intentLeave:
		joined := s.JoinedLobby()
		if joined == "" {
			return false, &NotSubscribedError{Op: "leave"}
		}
		frame, err := s.wsCodec.EncodeExitLobby(joined)
		if err != nil {
			return false, err
		}
		if err := tr.SendFrame(frame); err != nil {
			return false, err
		}
		s.setJoined("")
		s.bus.Emit(events.Event{
			Type:    events.EventLobbyLeft,
			Source:  s.id,
			Payload: events.LobbyLeftPayload{LobbyID: joined, Reason: "left"},
		})
		// Re-enter the lounge so list updates keep flowing.
		if f, err := s.wsCodec.EncodeEnterLounge(); err == nil {
			tr.SendFrame(f)
		}
		return false, nil

	case intentCreate:
		if s.JoinedLobby() != "" {
			return false, ErrAlreadyInLobby
		}
		frame, err := s.wsCodec.EncodeCreateLobby(it.name, 4, "", false)
		if err != nil {
			return false, err
		}
		if err := tr.SendFrame(frame); err != nil {
			return false, err
		}
		s.mu.Lock()
		s.createName = it.name
		s.mu.Unlock()
		return false, nil

	case intentRefresh:
		if s.opts.Variant == protocol.VariantRakNet {
			return false, tr.SendFrame(s.rakCodec.EncodePing())
		}
		frame, err := s.wsCodec.EncodeGetLobbyList()
		if err != nil {
			return false, err
		}
		return false, tr.SendFrame(frame)
	}

	return false, nil
}

// handleFrame decodes one raw frame and applies it. Decode failures are
// logged and emitted as protocol error events; the connection stays up.
func (s *Session) handleFrame(data []byte, tr transport.Transport) {
	var msg *protocol.Message
	var err error
	switch s.opts.Variant {
	case protocol.VariantWebSocket:
		msg, err = s.wsCodec.Decode(data)
	case protocol.VariantRakNet:
		msg, err = s.rakCodec.Decode(data)
	}
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			s.logger.Debug().Str("reason", de.Reason).Msg("dropped undecodable frame")
			s.bus.Emit(events.Event{
				Type:    events.EventProtocolError,
				Source:  s.id,
				Payload: events.ProtocolErrorPayload{Variant: de.Variant.String(), Reason: de.Reason},
			})
		} else {
			s.logger.Warn().Err(err).Msg("frame decode failed")
		}
		return
	}

	s.applyMessage(msg, tr)
}

// applyMessage routes a decoded message into model mutations and events.
func (s *Session) applyMessage(msg *protocol.Message, tr transport.Transport) {
	switch msg.Kind {
	case protocol.MsgAuthResult:
		s.applyAuthResult(msg.Payload.(protocol.AuthResultPayload), tr)

	case protocol.MsgLobbyList, protocol.MsgLobbyChanged:
		p := msg.Payload.(protocol.LobbyListPayload)
		s.applyListChanges(s.model.ApplyLobbyList(p.Lobbies, p.Full, s.opts.Variant))

	case protocol.MsgLobbyRemoved:
		p := msg.Payload.(protocol.LobbyRemovedPayload)
		left, ok := s.model.RemoveLobby(p.LobbyID)
		if !ok {
			return
		}
		ch := world.ListChanges{Removed: []string{p.LobbyID}, Left: left}
		lobbies, _ := s.model.Counts()
		ch.Total = lobbies
		s.applyListChanges(ch)

	case protocol.MsgJoinResult:
		s.applyJoinResult(msg.Payload.(protocol.JoinResultPayload), false, tr)

	case protocol.MsgCreateResult:
		s.applyJoinResult(msg.Payload.(protocol.JoinResultPayload), true, tr)

	case protocol.MsgChat:
		p := msg.Payload.(protocol.ChatPayload)
		s.applyChat(p)

	case protocol.MsgMemberChanged:
		s.applyMemberChange(msg.Payload.(protocol.MemberChangedPayload))

	case protocol.MsgUserDataChanged, protocol.MsgLobbyDataChanged:
		s.logger.Debug().Str("kind", msg.Kind.String()).Msg("metadata update")

	case protocol.MsgHeartbeat:
		// Liveness only; lastSeen was already advanced.

	case protocol.MsgServerPong:
		p := msg.Payload.(protocol.ServerPongPayload)
		ch := s.model.ApplyServerAd(s.opts.Address, p.Info)
		s.applyListChanges(ch)
	}
}

// applyAuthResult completes the WebSocket login: enter the lounge,
// request the list, publish player metadata, and redo any subscription
// that survived a reconnect.
func (s *Session) applyAuthResult(p protocol.AuthResultPayload, tr transport.Transport) {
	if !p.Success {
		s.logger.Error().Str("reason", p.Reason).Msg("authorization rejected")
		s.setLastErr(&world.ProtocolViolationError{Reason: "authorization rejected: " + p.Reason})
		s.bus.Emit(events.Event{
			Type:    events.EventProtocolError,
			Source:  s.id,
			Payload: events.ProtocolErrorPayload{Variant: s.opts.Variant.String(), Reason: "authorization rejected: " + p.Reason},
		})
		return
	}

	s.mu.Lock()
	s.selfID = p.SelfID
	resub := s.resub
	s.resub = ""
	s.mu.Unlock()

	s.logger.Info().Str("self_id", p.SelfID).Msg("authorized")

	s.sendAll(tr,
		func() ([]byte, error) { return s.wsCodec.EncodeEnterLounge() },
		func() ([]byte, error) { return s.wsCodec.EncodeGetLobbyList() },
	)
	for _, kv := range s.wsCodec.PlayerDataUpdates(s.opts.PlayerName) {
		if frame, err := s.wsCodec.EncodeSetPlayerData(kv[0], kv[1]); err == nil {
			tr.SendFrame(frame)
		}
	}

	if resub != "" {
		s.logger.Info().Str("lobby_id", resub).Msg("rejoining lobby after reconnect")
		if frame, err := s.wsCodec.EncodeJoinLobby(resub, ""); err == nil {
			tr.SendFrame(frame)
		}
	}
}

// applyJoinResult handles both join and create outcomes.
func (s *Session) applyJoinResult(p protocol.JoinResultPayload, created bool, tr transport.Transport) {
	if !p.Success {
		s.logger.Warn().Str("reason", p.Reason).Bool("created", created).Msg("lobby join refused")
		s.bus.Emit(events.Event{
			Type:    events.EventLobbyLeft,
			Source:  s.id,
			Payload: events.LobbyLeftPayload{LobbyID: p.LobbyID, Reason: "join refused: " + p.Reason},
		})
		return
	}

	if s.JoinedLobby() != p.LobbyID {
		s.adoptLobby(p.LobbyID)
	}
	s.logger.Info().Str("lobby_id", p.LobbyID).Bool("created", created).Msg("joined lobby")

	if created {
		s.mu.Lock()
		createName := s.createName
		s.createName = ""
		s.mu.Unlock()
		if createName != "" {
			for _, kv := range s.wsCodec.LobbyDataUpdates(createName) {
				if frame, err := s.wsCodec.EncodeSetLobbyData(kv[0], kv[1]); err == nil {
					tr.SendFrame(frame)
				}
			}
		}
	}
}

// applyChat records an incoming chat line. Chat without a lobby id
// belongs to the joined lobby.
func (s *Session) applyChat(p protocol.ChatPayload) {
	lobbyID := p.LobbyID
	if lobbyID == "" {
		lobbyID = s.JoinedLobby()
	}
	if lobbyID == "" {
		s.logger.Debug().Str("sender", p.SenderID).Msg("chat outside any lobby, dropped")
		return
	}

	direction := events.ChatIncoming
	if p.SenderID != "" && p.SenderID == s.SelfID() {
		direction = events.ChatOutgoing
	}

	name := protocol.PlatformAccountID(p.SenderID)
	if pl, ok := s.model.Player(p.SenderID); ok {
		name = pl.Name
	}
	s.recordChat(lobbyID, p.SenderID, name, p.Text, direction)
}

// recordChat applies a chat line to the model and emits it. Violations
// (unknown lobby) are reported and dropped.
func (s *Session) recordChat(lobbyID, senderID, senderName, text string, direction events.ChatDirection) {
	msg := world.ChatMessage{
		Timestamp:  time.Now(),
		SenderID:   senderID,
		SenderName: senderName,
		LobbyID:    lobbyID,
		Text:       text,
		Direction:  direction,
	}
	if err := s.model.ApplyChat(msg); err != nil {
		s.logger.Warn().Err(err).Msg("chat dropped")
		s.bus.Emit(events.Event{
			Type:    events.EventProtocolError,
			Source:  s.id,
			Payload: events.ProtocolErrorPayload{Variant: s.opts.Variant.String(), Reason: err.Error()},
		})
		return
	}
	s.bus.Emit(events.Event{
		Type:   events.EventChatReceived,
		Source: s.id,
		Payload: events.ChatReceivedPayload{
			LobbyID:    lobbyID,
			SenderID:   senderID,
			SenderName: senderName,
			Text:       text,
			Direction:  direction,
			Timestamp:  msg.Timestamp,
		},
	})
}

// applyMemberChange handles incremental member join/leave frames.
func (s *Session) applyMemberChange(p protocol.MemberChangedPayload) {
	player, err := s.model.ApplyMemberChange(p.LobbyID, p.MemberID, p.Removed)
	if err != nil {
		s.logger.Warn().Err(err).Msg("member change dropped")
		s.bus.Emit(events.Event{
			Type:    events.EventProtocolError,
			Source:  s.id,
			Payload: events.ProtocolErrorPayload{Variant: s.opts.Variant.String(), Reason: err.Error()},
		})
		return
	}

	if p.Removed {
		s.bus.Emit(events.Event{
			Type:    events.EventPlayerLeft,
			Source:  s.id,
			Payload: events.PlayerLeftPayload{LobbyID: p.LobbyID, PlayerID: player.ID, PlayerName: player.Name},
		})
		if p.MemberID == s.SelfID() && p.LobbyID == s.JoinedLobby() {
			s.setJoined("")
			s.bus.Emit(events.Event{
				Type:    events.EventLobbyLeft,
				Source:  s.id,
				Payload: events.LobbyLeftPayload{LobbyID: p.LobbyID, Reason: "removed"},
			})
		}
		return
	}

	s.bus.Emit(events.Event{
		Type:   events.EventPlayerJoined,
		Source: s.id,
		Payload: events.PlayerJoinedPayload{
			LobbyID:    p.LobbyID,
			PlayerID:   player.ID,
			PlayerName: player.Name,
			AuthKind:   player.AuthKind.String(),
		},
	})
}

// applyListChanges fans one reconciliation result out as events and
// checks whether the joined lobby survived it.
func (s *Session) applyListChanges(ch world.ListChanges) {
	if ch.Empty() {
		return
	}

	s.bus.Emit(events.Event{
		Type:   events.EventLobbyListChanged,
		Source: s.id,
		Payload: events.LobbyListChangedPayload{
			Added:   ch.Added,
			Updated: ch.Updated,
			Removed: ch.Removed,
			Total:   ch.Total,
		},
	})

	for _, p := range ch.Joined {
		s.bus.Emit(events.Event{
			Type:   events.EventPlayerJoined,
			Source: s.id,
			Payload: events.PlayerJoinedPayload{
				LobbyID:    p.LobbyID,
				PlayerID:   p.ID,
				PlayerName: p.Name,
				AuthKind:   p.AuthKind.String(),
			},
		})
	}
	for _, p := range ch.Left {
		s.bus.Emit(events.Event{
			Type:    events.EventPlayerLeft,
			Source:  s.id,
			Payload: events.PlayerLeftPayload{LobbyID: p.LobbyID, PlayerID: p.ID, PlayerName: p.Name},
		})
	}

	joined := s.JoinedLobby()
	if joined == "" {
		// The server may place us in a lobby without a join result, or the
		// result frame may be lost; membership in the user maps is
		// authoritative either way.
		if self := s.SelfID(); self != "" {
			if id, ok := s.model.FindLobbyByMember(self); ok {
				s.adoptLobby(id)
			}
		}
		return
	}
	for _, id := range ch.Removed {
		if id == joined {
			s.setJoined("")
			s.bus.Emit(events.Event{
				Type:    events.EventLobbyLeft,
				Source:  s.id,
				Payload: events.LobbyLeftPayload{LobbyID: id, Reason: "lobby removed"},
			})
			s.logger.Info().Str("lobby_id", id).Msg("joined lobby vanished from server list")
			return
		}
	}
}

// sendAll encodes and sends a sequence of frames, stopping on nothing:
// individual failures are logged and the rest still go out.
func (s *Session) sendAll(tr transport.Transport, encoders ...func() ([]byte, error)) {
	for _, enc := range encoders {
		frame, err := enc()
		if err != nil {
			s.logger.Warn().Err(err).Msg("frame encode failed")
			continue
		}
		if err := tr.SendFrame(frame); err != nil {
			s.logger.Warn().Err(err).Msg("frame send failed")
		}
	}
}

// adoptLobby marks a lobby as the session's own and announces it.
func (s *Session) adoptLobby(id string) {
	s.setJoined(id)
	name := ""
	if l, ok := s.model.Lobby(id); ok {
		name = l.Name
	}
	s.bus.Emit(events.Event{
		Type:    events.EventLobbyJoined,
		Source:  s.id,
		Payload: events.LobbyJoinedPayload{LobbyID: id, LobbyName: name},
	})
}

// rememberSubscription saves the joined lobby so the next successful
// connect can rejoin it exactly once.
func (s *Session) rememberSubscription() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinedID != "" {
		s.resub = s.joinedID
		s.joinedID = ""
	}
}

// transition updates the state and emits a ConnectionStateChanged event.
func (s *Session) transition(next State, attempt int, cause error) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	s.logger.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("state transition")

	errStr := ""
	if cause != nil {
		errStr = cause.Error()
	}
	s.bus.Emit(events.Event{
		Type:   events.EventConnectionStateChanged,
		Source: s.id,
		Payload: events.ConnectionStateChangedPayload{
			State:    next.String(),
			Previous: prev.String(),
			Attempt:  attempt,
			Err:      errStr,
		},
	})
}

func (s *Session) setJoined(id string) {
	s.mu.Lock()
	s.joinedID = id
	s.mu.Unlock()
}

func (s *Session) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// shutdown marks the session as finished and fails all waiting intents.
func (s *Session) shutdown() {
	s.once.Do(func() { close(s.done) })
}
