// Package relay bridges lobby chat and presence onto an MQTT broker, so
// external consumers (Discord bridges, dashboards) can follow the lobby
// without speaking the game protocols. Messages arriving on the inbound
// command topic are posted back into the session as chat.
package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/config"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/session"
)

// Topic suffixes under the configured prefix.
const (
	TopicChat       = "chat"
	TopicPresence   = "presence"
	TopicLobbies    = "lobbies"
	TopicConnection = "connection"
	TopicSay        = "say" // inbound: text published here is sent to the joined lobby
)

// ChatRelay publishes chat and presence events to MQTT and relays
// inbound messages into the session.
type ChatRelay struct {
	mu sync.Mutex

	cfg    config.RelayConfig
	bus    *events.EventBus
	sess   *session.Session
	client mqtt.Client
}

// NewChatRelay creates a relay from the given configuration.
func NewChatRelay(cfg config.RelayConfig, bus *events.EventBus, sess *session.Session) (*ChatRelay, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("chat relay is disabled")
	}

	r := &ChatRelay{cfg: cfg, bus: bus, sess: sess}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		hostname, _ := os.Hostname()
		opts.SetClientID(fmt.Sprintf("bzmonitor-%s", hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT relay connected")
		r.subscribeInbound(client)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT relay connection lost")
	})

	r.client = mqtt.NewClient(opts)
	return r, nil
}

// Start connects to the broker, wires the event handlers, and blocks
// until the context is cancelled.
func (r *ChatRelay) Start(ctx context.Context) error {
	log.Info().
		Str("broker", r.cfg.BrokerURL).
		Int("port", r.cfg.Port).
		Str("prefix", r.cfg.TopicPrefix).
		Msg("connecting to MQTT broker")

	token := r.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	r.subscribeEvents()

	<-ctx.Done()

	r.unsubscribeEvents()
	r.client.Disconnect(5000)
	log.Info().Msg("MQTT relay disconnected")
	return nil
}

// subscribeEvents registers the bus handlers that feed MQTT.
func (r *ChatRelay) subscribeEvents() {
	r.bus.Subscribe(events.EventChatReceived, "relay.chat", r.onChat)
	r.bus.Subscribe(events.EventPlayerJoined, "relay.playerJoined", r.onPresence("joined"))
	r.bus.Subscribe(events.EventPlayerLeft, "relay.playerLeft", r.onPresence("left"))
	r.bus.Subscribe(events.EventLobbyListChanged, "relay.lobbyList", r.onLobbyList)
	r.bus.Subscribe(events.EventConnectionStateChanged, "relay.connection", r.onConnection)
}

func (r *ChatRelay) unsubscribeEvents() {
	r.bus.Unsubscribe(events.EventChatReceived, "relay.chat")
	r.bus.Unsubscribe(events.EventPlayerJoined, "relay.playerJoined")
	r.bus.Unsubscribe(events.EventPlayerLeft, "relay.playerLeft")
	r.bus.Unsubscribe(events.EventLobbyListChanged, "relay.lobbyList")
	r.bus.Unsubscribe(events.EventConnectionStateChanged, "relay.connection")
}

// subscribeInbound listens on the say topic for text to relay into the
// joined lobby. Re-run on every broker reconnect.
func (r *ChatRelay) subscribeInbound(client mqtt.Client) {
	topic := r.topic(TopicSay)
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		text := string(msg.Payload())
		if text == "" {
			return
		}
		if err := r.sess.SendChat(text); err != nil {
			log.Warn().Err(err).Msg("inbound relay message not delivered")
		}
	})
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
		}
	}()
}

// publish sends a JSON message to a topic under the prefix.
func (r *ChatRelay) publish(suffix string, payload interface{}) {
	if !r.client.IsConnected() {
		return
	}

	msg := map[string]interface{}{
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", suffix).Msg("failed to marshal MQTT message")
		return
	}

	token := r.client.Publish(r.topic(suffix), 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", suffix).Msg("MQTT publish failed")
		}
	}()
}

func (r *ChatRelay) topic(suffix string) string {
	return r.cfg.TopicPrefix + "/" + suffix
}

// Event handlers

func (r *ChatRelay) onChat(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ChatReceivedPayload)
	if !ok {
		return nil
	}
	// Outgoing lines originate from the relay or the operator; echoing
	// them back would loop.
	if p.Direction == events.ChatOutgoing {
		return nil
	}
	r.publish(TopicChat, p)
	return nil
}

func (r *ChatRelay) onPresence(kind string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		r.publish(TopicPresence, map[string]interface{}{
			"event":   kind,
			"payload": event.Payload,
		})
		return nil
	}
}

func (r *ChatRelay) onLobbyList(ctx context.Context, event events.Event) error {
	r.publish(TopicLobbies, event.Payload)
	return nil
}

func (r *ChatRelay) onConnection(ctx context.Context, event events.Event) error {
	r.publish(TopicConnection, event.Payload)
	return nil
}
