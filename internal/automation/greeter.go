// Package automation implements chat automation for the hosted lobby:
// greeting players as they join and posting periodic announcements.
package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/config"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/session"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/util"
)

// greetCooldown suppresses repeat greetings for a player who rejoins
// quickly, e.g. while bouncing between lobbies.
const greetCooldown = 10 * time.Minute

// Greeter watches lobby membership and speaks on the session's behalf.
// It only acts inside the lobby the session has joined.
type Greeter struct {
	cfg    config.GreeterConfig
	bus    *events.EventBus
	sess   *session.Session
	logger zerolog.Logger

	mu          sync.Mutex
	greeted     map[string]time.Time
	announceIdx int
}

// NewGreeter creates a greeter from the given configuration.
func NewGreeter(cfg config.GreeterConfig, bus *events.EventBus, sess *session.Session) *Greeter {
	return &Greeter{
		cfg:     cfg,
		bus:     bus,
		sess:    sess,
		logger:  util.ComponentLogger("greeter"),
		greeted: make(map[string]time.Time),
	}
}

// Start subscribes to join events and runs the announcement loop until
// the context is cancelled.
func (g *Greeter) Start(ctx context.Context) error {
	if !g.cfg.Enabled {
		return fmt.Errorf("greeter is disabled")
	}

	g.bus.Subscribe(events.EventPlayerJoined, "greeter.playerJoined", g.onPlayerJoined)
	defer g.bus.Unsubscribe(events.EventPlayerJoined, "greeter.playerJoined")

	if g.cfg.AnnounceIntervalSec <= 0 || len(g.cfg.Announcements) == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(time.Duration(g.cfg.AnnounceIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.announce()
		}
	}
}

// onPlayerJoined greets a newcomer in the joined lobby.
func (g *Greeter) onPlayerJoined(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerJoinedPayload)
	if !ok {
		return nil
	}

	joined := g.sess.JoinedLobby()
	if joined == "" || p.LobbyID != joined {
		return nil
	}
	if p.PlayerID == g.sess.SelfID() {
		return nil
	}

	g.mu.Lock()
	last, seen := g.greeted[p.PlayerID]
	if seen && time.Since(last) < greetCooldown {
		g.mu.Unlock()
		return nil
	}
	g.greeted[p.PlayerID] = time.Now()
	g.mu.Unlock()

	name := p.PlayerName
	if name == "" {
		name = p.PlayerID
	}

	text := g.cfg.Greeting
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, name)
	}
	if text == "" {
		return nil
	}

	if err := g.sess.SendChat(text); err != nil {
		g.logger.Debug().Err(err).Str("player", name).Msg("greeting not sent")
		return nil
	}
	g.logger.Info().Str("player", name).Msg("greeted player")
	return nil
}

// announce posts the next configured announcement, round robin.
func (g *Greeter) announce() {
	if g.sess.JoinedLobby() == "" {
		return
	}

	g.mu.Lock()
	text := g.cfg.Announcements[g.announceIdx%len(g.cfg.Announcements)]
	g.announceIdx++
	g.mu.Unlock()

	if err := g.sess.SendChat(text); err != nil {
		g.logger.Debug().Err(err).Msg("announcement not sent")
	}
}
