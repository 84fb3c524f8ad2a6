// bzmonitor - Battlezone Lobby Monitor
//
// An external monitor and chat bridge for the Battlezone multiplayer
// lobby servers. It maintains a session with the BZ98R WebSocket
// directory or the BZCC RakNet directory, mirrors the lobby list and
// chat into an in-memory world model, and exposes them over a REST API,
// an interactive CLI, MQTT, and a SQLite history log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/api"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/automation"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/cli"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/config"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/protocol"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/relay"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/session"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/store"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/transport"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/util"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/world"
)

const (
	AppName    = "bzmonitor"
	AppVersion = "1.0.0"
	Banner     = `
  _          __  __             _ _
 | |__  ____|  \/  | ___  _ __ (_) |_ ___  _ __
 | '_ \|_  /| |\/| |/ _ \| '_ \| | __/ _ \| '__|
 | |_) |/ / | |  | | (_) | | | | | || (_) | |
 |_.__//___||_|  |_|\___/|_| |_|_|\__\___/|_|  v%s
 Battlezone Lobby Monitor
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Logger with defaults first, reconfigured after config load.
	if err := util.InitLogger(config.DefaultConfig().Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting lobby monitor")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := util.InitLogger(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	game := cfg.GetGame()
	variant, err := protocol.ParseVariant(game.Variant)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid game variant")
	}
	addr := cfg.ServerAddress()

	proxyCfg := transport.ProxyConfig{
		Enabled:      cfg.Proxy.Enabled,
		Address:      cfg.Proxy.Address,
		Username:     cfg.Proxy.Username,
		Password:     cfg.Proxy.Password,
		SafetySwitch: cfg.Proxy.Enabled,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A misconfigured proxy must fail before the first frame leaves the
	// host, not after.
	if cfg.Proxy.Enabled && cfg.Proxy.VerifyOnStart {
		verifyCtx, verifyCancel := context.WithTimeout(ctx, 15*time.Second)
		err := proxyCfg.Verify(verifyCtx, addr)
		verifyCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("proxy verification failed, refusing to start")
		}
		log.Info().Str("proxy", cfg.Proxy.Address).Msg("proxy verified")
	}

	eventBus := events.NewEventBus()
	model := world.NewModel(cfg.World.StaleThreshold, cfg.World.ChatCapacity)

	factory := func() transport.Transport {
		if variant == protocol.VariantRakNet {
			return transport.NewRakNetTransport(addr, proxyCfg, time.Duration(game.HeartbeatIntervalSec)*time.Second)
		}
		return transport.NewWebSocketTransport(addr, proxyCfg, time.Duration(game.HeartbeatIntervalSec)*time.Second)
	}

	sess := session.New(session.Options{
		Variant:    variant,
		Address:    addr,
		PlayerName: game.PlayerName,
		AuthKey:    game.AuthKey,
		Backoff: session.BackoffPolicy{
			Base:        time.Duration(cfg.Reconnect.BaseDelaySec) * time.Second,
			Cap:         time.Duration(cfg.Reconnect.MaxDelaySec) * time.Second,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		ReconnectDisabled: !cfg.Reconnect.Enabled,
		HeartbeatInterval: time.Duration(game.HeartbeatIntervalSec) * time.Second,
		HeartbeatTimeout:  time.Duration(game.HeartbeatTimeoutSec) * time.Second,
		DegradedGrace:     time.Duration(game.DegradedGraceSec) * time.Second,
	}, model, eventBus, factory)

	apiServer := api.NewServer(cfg, eventBus, model, sess)

	var recorder *store.Recorder
	if cfg.History.Enabled {
		recorder, err = store.NewRecorder(cfg.History, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize history recorder, history disabled")
		} else {
			apiServer.SetRecorder(recorder)
		}
	}

	var chatRelay *relay.ChatRelay
	if cfg.Relay.Enabled {
		chatRelay, err = relay.NewChatRelay(cfg.GetRelay(), eventBus, sess)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT relay, relay disabled")
		}
	}

	cliHandler := cli.NewCLI(eventBus, model, sess)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Session loop: the one component whose exit ends the program.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("server", addr).Str("variant", variant.String()).Msg("starting session")
		if err := sess.Run(ctx); err != nil {
			errCh <- fmt.Errorf("session: %w", err)
			return
		}
		if ctx.Err() == nil {
			errCh <- fmt.Errorf("session stopped")
		}
	}()

	if cfg.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("path", cfg.History.Path).Msg("starting history recorder")
			if err := recorder.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("history recorder failed (non-fatal)")
			}
		}()
	}

	if chatRelay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT chat relay")
			if err := chatRelay.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT relay failed (non-fatal)")
			}
		}()
	}

	if cfg.Greeter.Enabled {
		greeter := automation.NewGreeter(cfg.Greeter, eventBus, sess)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting lobby greeter")
			if err := greeter.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("greeter failed (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// The CLI's quit command requests shutdown through the bus.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(_ context.Context, _ events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("lobby monitor stopped")
}
