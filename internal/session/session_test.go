package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/protocol"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/transport"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/world"
)

// fakeTransport feeds canned frames to the session and records what it
// sends.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	connectErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 32),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return &transport.ConnectError{Addr: "fake", Err: f.connectErr}
	}
	return nil
}

func (f *fakeTransport) SendFrame(data []byte) error {
	select {
	case <-f.closed:
		return &transport.ClosedError{}
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.mu.Lock()
	f.sent = append(f.sent, cp)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ReceiveFrame() ([]byte, error) {
	select {
	case data := <-f.incoming:
		return data, nil
	case <-f.closed:
		return nil, &transport.ClosedError{}
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "fake" }

// push delivers a server frame to the session.
func (f *fakeTransport) push(frame string) {
	f.incoming <- []byte(frame)
}

// sentTypes decodes the envelope type of every recorded outgoing frame.
func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, frame := range f.sent {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(frame, &env) == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func countOf(types []string, want string) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

type harness struct {
	sess    *Session
	model   *world.Model
	bus     *events.EventBus
	cancel  context.CancelFunc
	runDone chan error

	mu         sync.Mutex
	transports []*fakeTransport
}

// start runs a session against a factory that hands out fresh fake
// transports, recording each one.
func start(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		model:   world.NewModel(2, 50),
		bus:     events.NewEventBus(),
		runDone: make(chan error, 1),
	}
	factory := func() transport.Transport {
		ft := newFakeTransport()
		h.mu.Lock()
		h.transports = append(h.transports, ft)
		h.mu.Unlock()
		return ft
	}

	h.sess = New(opts, h.model, h.bus, factory)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.runDone <- h.sess.Run(ctx)
		close(h.runDone)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runDone:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
		h.bus.Stop()
	})
	return h
}

// transport returns the nth transport handed out, waiting for it to exist.
func (h *harness) transport(t *testing.T, n int) *fakeTransport {
	t.Helper()
	var ft *fakeTransport
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.transports) > n {
			ft = h.transports[n]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "transport %d was never dialed", n)
	return ft
}

func wsOptions() Options {
	return Options{
		Variant:    protocol.VariantWebSocket,
		Address:    "fake:1337",
		PlayerName: "Tester",
		AuthKey:    "S1",
		Backoff:    BackoffPolicy{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond},
	}
}

// authorize walks a fresh connection through the login handshake.
func authorize(t *testing.T, h *harness, ft *fakeTransport) {
	t.Helper()
	require.Eventually(t, func() bool {
		return countOf(ft.sentTypes(), "Authorization") == 1
	}, 2*time.Second, 5*time.Millisecond, "no Authorization sent")

	ft.push(`{"type":"OnAuthorization","data":{"success":true,"id":"S1"}}`)

	require.Eventually(t, func() bool {
		types := ft.sentTypes()
		return countOf(types, "DoEnterLounge") == 1 && countOf(types, "GetLobbyList") == 1
	}, 2*time.Second, 5*time.Millisecond, "login sequence incomplete")
}

func TestConnectAndLogin(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	assert.Equal(t, StateConnected, h.sess.State())
	assert.Equal(t, "S1", h.sess.SelfID())
	assert.GreaterOrEqual(t, countOf(ft.sentTypes(), "SetPlayerData"), 1)
}

func TestLobbyListPopulatesModel(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"1":{"id":1,"metadata":{"name":"~chat~pub~~Alpha"},"users":{"S9":{"name":"host"}}}}}}`)

	require.Eventually(t, func() bool {
		return h.model.HasLobby("1")
	}, 2*time.Second, 5*time.Millisecond)

	lobby, _ := h.model.Lobby("1")
	assert.Equal(t, "Alpha", lobby.Name)
	assert.Len(t, h.model.Players("1"), 1)
}

func TestChatWithoutLobbyFails(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	err := h.sess.SendChat("hello")
	var nse *NotSubscribedError
	require.ErrorAs(t, err, &nse)
}

func TestJoinThenChat(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"1":{"id":1,"metadata":{"name":"~chat~pub~~Alpha"}}}}}`)
	require.NoError(t, h.sess.JoinLobby("1", ""))
	ft.push(`{"type":"OnLobbyJoined","data":{"id":1}}`)

	require.Eventually(t, func() bool {
		return h.sess.JoinedLobby() == "1"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.sess.SendChat("hello"))
	assert.Equal(t, 1, countOf(ft.sentTypes(), "DoSendChat"))

	// The sent line lands in the lobby's chat history as outgoing.
	require.Eventually(t, func() bool {
		return len(h.model.ChatHistory("1")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, events.ChatOutgoing, h.model.ChatHistory("1")[0].Direction)

	assert.ErrorIs(t, h.sess.JoinLobby("2", ""), ErrAlreadyInLobby)
}

func TestMembershipAdoptsLobby(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	// No join result arrives, but the list shows our own account inside a
	// lobby's user map.
	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"7":{"id":7,"metadata":{"name":"~chat~pub~~Hangout"},"users":{"S1":{"name":"Tester"}}}}}}`)

	require.Eventually(t, func() bool {
		return h.sess.JoinedLobby() == "7"
	}, 2*time.Second, 5*time.Millisecond, "membership in the user map must adopt the lobby")
}

func TestStaleJoinedLobbyDropsSubscription(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"1":{"id":1,"metadata":{"name":"~chat~pub~~Alpha"}}}}}`)
	require.NoError(t, h.sess.JoinLobby("1", ""))
	ft.push(`{"type":"OnLobbyJoined","data":{"id":1}}`)
	require.Eventually(t, func() bool {
		return h.sess.JoinedLobby() == "1"
	}, 2*time.Second, 5*time.Millisecond)

	// One full update without the lobby: debounced, still joined.
	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"2":{"id":2,"metadata":{"name":"other"}}}}}`)
	// Second consecutive absence removes it and drops the subscription.
	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"2":{"id":2,"metadata":{"name":"other"}}}}}`)

	require.Eventually(t, func() bool {
		return h.sess.JoinedLobby() == ""
	}, 2*time.Second, 5*time.Millisecond, "vanished lobby must clear the subscription")

	err := h.sess.SendChat("anyone?")
	var nse *NotSubscribedError
	require.ErrorAs(t, err, &nse)
}

func TestDecodeErrorKeepsConnection(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	protoErrs := make(chan struct{}, 1)
	h.bus.Subscribe(events.EventProtocolError, "test", func(_ context.Context, _ events.Event) error {
		select {
		case protoErrs <- struct{}{}:
		default:
		}
		return nil
	})

	ft.push(`this is not json`)

	select {
	case <-protoErrs:
	case <-time.After(2 * time.Second):
		t.Fatal("no protocol error event emitted")
	}

	// A valid frame right after still lands.
	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"1":{"id":1,"metadata":{"name":"x"}}}}}`)
	require.Eventually(t, func() bool {
		return h.model.HasLobby("1")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, h.sess.State())
}

func TestReconnectResubscribesExactlyOnce(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"1":{"id":1,"metadata":{"name":"~chat~pub~~Alpha"}}}}}`)
	require.NoError(t, h.sess.JoinLobby("1", ""))
	ft.push(`{"type":"OnLobbyJoined","data":{"id":1}}`)
	require.Eventually(t, func() bool {
		return h.sess.JoinedLobby() == "1"
	}, 2*time.Second, 5*time.Millisecond)

	// Connection drops.
	ft.Close()

	ft2 := h.transport(t, 1)
	authorize(t, h, ft2)

	// The join intent is replayed on the new connection, exactly once.
	require.Eventually(t, func() bool {
		return countOf(ft2.sentTypes(), "DoJoinLobby") == 1
	}, 2*time.Second, 5*time.Millisecond, "subscription was not replayed")

	ft2.push(`{"type":"OnLobbyJoined","data":{"id":1}}`)
	require.Eventually(t, func() bool {
		return h.sess.JoinedLobby() == "1"
	}, 2*time.Second, 5*time.Millisecond)

	// A second authorization (server quirk) must not replay it again.
	ft2.push(`{"type":"OnAuthorization","data":{"success":true,"id":"S1"}}`)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, countOf(ft2.sentTypes(), "DoJoinLobby"))
}

func TestReconnectResetsModel(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	ft.push(`{"type":"OnLobbyList","data":{"lobbies":{"1":{"id":1,"metadata":{"name":"x"}}}}}`)
	require.Eventually(t, func() bool { return h.model.HasLobby("1") }, 2*time.Second, 5*time.Millisecond)

	ft.Close()
	ft2 := h.transport(t, 1)
	authorize(t, h, ft2)

	lobbies, _ := h.model.Counts()
	assert.Zero(t, lobbies, "stale pre-reconnect state must not survive")
}

func TestConnectFailureStopsWhenReconnectDisabled(t *testing.T) {
	h := &harness{
		model:   world.NewModel(2, 50),
		bus:     events.NewEventBus(),
		runDone: make(chan error, 1),
	}
	defer h.bus.Stop()

	opts := wsOptions()
	opts.ReconnectDisabled = true

	factory := func() transport.Transport {
		ft := newFakeTransport()
		ft.connectErr = context.DeadlineExceeded
		return ft
	}
	h.sess = New(opts, h.model, h.bus, factory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { h.runDone <- h.sess.Run(ctx) }()

	select {
	case err := <-h.runDone:
		var ce *transport.ConnectError
		require.ErrorAs(t, err, &ce)
	case <-time.After(2 * time.Second):
		t.Fatal("session kept running with reconnect disabled")
	}
	assert.Equal(t, StateDisconnected, h.sess.State())
}

func TestAttemptBudgetExhaustion(t *testing.T) {
	opts := wsOptions()
	opts.Backoff.MaxAttempts = 3

	model := world.NewModel(2, 50)
	bus := events.NewEventBus()
	defer bus.Stop()

	dialed := 0
	factory := func() transport.Transport {
		dialed++
		ft := newFakeTransport()
		ft.connectErr = context.DeadlineExceeded
		return ft
	}
	sess := New(opts, model, bus, factory)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session never gave up")
	}
	// Initial attempt plus three retries.
	assert.Equal(t, 4, dialed)
	assert.Equal(t, StateDisconnected, sess.State())
}

func TestDisconnectStopsSession(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	require.NoError(t, h.sess.Disconnect())

	select {
	case err := <-h.runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
	assert.Equal(t, StateDisconnected, h.sess.State())

	assert.ErrorIs(t, h.sess.SendChat("late"), ErrSessionClosed)
}

func TestStateChangeEventsCarryAttempts(t *testing.T) {
	model := world.NewModel(2, 50)
	bus := events.NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var states []events.ConnectionStateChangedPayload
	bus.Subscribe(events.EventConnectionStateChanged, "test", func(_ context.Context, e events.Event) error {
		mu.Lock()
		states = append(states, e.Payload.(events.ConnectionStateChangedPayload))
		mu.Unlock()
		return nil
	})

	opts := wsOptions()
	opts.Backoff.MaxAttempts = 2
	factory := func() transport.Transport {
		ft := newFakeTransport()
		ft.connectErr = context.DeadlineExceeded
		return ft
	}
	sess := New(opts, model, bus, factory)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session never gave up")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 4
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var attempts []int
	for _, s := range states {
		if s.State == "reconnecting" {
			attempts = append(attempts, s.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, attempts, "reconnecting events must number the attempts")
}

func degradedOptions() Options {
	o := wsOptions()
	o.HeartbeatInterval = 10 * time.Millisecond
	o.HeartbeatTimeout = 30 * time.Millisecond
	o.DegradedGrace = 5 * time.Second
	return o
}

func TestSilenceDegradesAndTrafficRecovers(t *testing.T) {
	h := start(t, degradedOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	// No server traffic past the heartbeat timeout degrades the
	// connection without tearing it down.
	require.Eventually(t, func() bool {
		return h.sess.State() == StateDegraded
	}, 2*time.Second, 5*time.Millisecond, "silent connection never degraded")

	// Each keepalive tick sends both probe frames.
	types := ft.sentTypes()
	assert.GreaterOrEqual(t, countOf(types, "Ping"), 1)
	assert.GreaterOrEqual(t, countOf(types, "DoPing"), 1)

	// Any decoded frame counts as traffic and recovers the connection.
	require.Eventually(t, func() bool {
		ft.push(`{"type":"Pong","data":true}`)
		return h.sess.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond, "traffic did not recover the connection")
}

func TestDegradedGraceExpiryReconnects(t *testing.T) {
	opts := degradedOptions()
	opts.DegradedGrace = 50 * time.Millisecond

	h := start(t, opts)

	var mu sync.Mutex
	var states []string
	h.bus.Subscribe(events.EventConnectionStateChanged, "test", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.ConnectionStateChangedPayload)
		mu.Lock()
		states = append(states, p.State)
		mu.Unlock()
		return nil
	})

	ft := h.transport(t, 0)
	authorize(t, h, ft)

	// Stay silent through the timeout and the grace window until the
	// session gives up on the first transport and dials a fresh one.
	ft2 := h.transport(t, 1)
	authorize(t, h, ft2)

	require.Eventually(t, func() bool {
		ft2.push(`{"type":"Pong","data":true}`)
		return h.sess.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond, "session never re-established")

	var te *transport.TimeoutError
	require.ErrorAs(t, h.sess.LastError(), &te, "grace expiry must surface as a heartbeat timeout")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return countOf(states, "degraded") >= 1 && countOf(states, "reconnecting") >= 1
	}, 2*time.Second, 5*time.Millisecond, "degraded and reconnecting transitions must be announced")
}

func TestStaleQueuedIntentIsRejected(t *testing.T) {
	h := start(t, wsOptions())
	ft := h.transport(t, 0)
	authorize(t, h, ft)

	// An intent that sat in the queue past the submission timeout must
	// not fire a long-obsolete chat at the server.
	it := intent{
		kind:     intentChat,
		text:     "from another era",
		queuedAt: time.Now().Add(-intentTimeout - time.Second),
		resp:     make(chan error, 1),
	}
	h.sess.intents <- it

	select {
	case err := <-it.resp:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("stale intent was never answered")
	}
	assert.Zero(t, countOf(ft.sentTypes(), "DoSendChat"))
}
