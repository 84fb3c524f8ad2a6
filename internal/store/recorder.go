package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/config"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/util"
)

const schema = `
	CREATE TABLE IF NOT EXISTS chat_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lobby_id TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		sender_name TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL DEFAULT 'incoming',
		text TEXT NOT NULL,
		spoken_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_log_lobby ON chat_log(lobby_id, spoken_at);

	CREATE TABLE IF NOT EXISTS lobby_sightings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lobby_id TEXT NOT NULL,
		event TEXT NOT NULL,
		seen_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS player_sightings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id TEXT NOT NULL,
		player_name TEXT NOT NULL DEFAULT '',
		lobby_id TEXT NOT NULL,
		event TEXT NOT NULL,
		seen_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_player_sightings_player ON player_sightings(player_id, seen_at);

	CREATE TABLE IF NOT EXISTS connection_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		state TEXT NOT NULL,
		previous TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		changed_at TIMESTAMP NOT NULL
	);
`

// ChatRecord is one persisted chat line.
type ChatRecord struct {
	ID         int64     `json:"id"`
	LobbyID    string    `json:"lobby_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Direction  string    `json:"direction"`
	Text       string    `json:"text"`
	SpokenAt   time.Time `json:"spoken_at"`
}

// Recorder subscribes to the event bus and writes history rows.
type Recorder struct {
	cfg    config.HistoryConfig
	bus    *events.EventBus
	db     *Database
	logger zerolog.Logger
}

// NewRecorder opens the history database and prepares the schema.
func NewRecorder(cfg config.HistoryConfig, bus *events.EventBus) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("history recorder is disabled")
	}

	db, err := OpenDatabase(cfg.Path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Recorder{
		cfg:    cfg,
		bus:    bus,
		db:     db,
		logger: util.ComponentLogger("recorder"),
	}, nil
}

// Start subscribes to events and blocks until the context is cancelled,
// pruning old rows once a day.
func (r *Recorder) Start(ctx context.Context) error {
	r.bus.Subscribe(events.EventChatReceived, "recorder.chat", r.onChat)
	r.bus.Subscribe(events.EventLobbyListChanged, "recorder.lobbyList", r.onLobbyList)
	r.bus.Subscribe(events.EventPlayerJoined, "recorder.playerJoined", r.onPlayer("joined"))
	r.bus.Subscribe(events.EventPlayerLeft, "recorder.playerLeft", r.onPlayer("left"))
	r.bus.Subscribe(events.EventConnectionStateChanged, "recorder.connection", r.onConnection)
	defer func() {
		r.bus.Unsubscribe(events.EventChatReceived, "recorder.chat")
		r.bus.Unsubscribe(events.EventLobbyListChanged, "recorder.lobbyList")
		r.bus.Unsubscribe(events.EventPlayerJoined, "recorder.playerJoined")
		r.bus.Unsubscribe(events.EventPlayerLeft, "recorder.playerLeft")
		r.bus.Unsubscribe(events.EventConnectionStateChanged, "recorder.connection")
	}()

	r.prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.db.Close()
		case <-ticker.C:
			r.prune()
		}
	}
}

// prune deletes rows past the retention window.
func (r *Recorder) prune() {
	if r.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -r.cfg.RetentionDays)

	for _, q := range []string{
		"DELETE FROM chat_log WHERE spoken_at < ?",
		"DELETE FROM lobby_sightings WHERE seen_at < ?",
		"DELETE FROM player_sightings WHERE seen_at < ?",
		"DELETE FROM connection_log WHERE changed_at < ?",
	} {
		if _, err := r.db.Exec(q, cutoff); err != nil {
			r.logger.Warn().Err(err).Msg("history prune failed")
		}
	}
}

// Event handlers

func (r *Recorder) onChat(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ChatReceivedPayload)
	if !ok {
		return nil
	}
	_, err := r.db.Exec(
		"INSERT INTO chat_log (lobby_id, sender_id, sender_name, direction, text, spoken_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.LobbyID, p.SenderID, p.SenderName, p.Direction.String(), p.Text, p.Timestamp,
	)
	return err
}

func (r *Recorder) onLobbyList(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.LobbyListChangedPayload)
	if !ok {
		return nil
	}
	now := time.Now()
	for _, id := range p.Added {
		r.db.Exec("INSERT INTO lobby_sightings (lobby_id, event, seen_at) VALUES (?, 'appeared', ?)", id, now)
	}
	for _, id := range p.Removed {
		r.db.Exec("INSERT INTO lobby_sightings (lobby_id, event, seen_at) VALUES (?, 'vanished', ?)", id, now)
	}
	return nil
}

func (r *Recorder) onPlayer(kind string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		var playerID, playerName, lobbyID string
		switch p := event.Payload.(type) {
		case events.PlayerJoinedPayload:
			playerID, playerName, lobbyID = p.PlayerID, p.PlayerName, p.LobbyID
		case events.PlayerLeftPayload:
			playerID, playerName, lobbyID = p.PlayerID, p.PlayerName, p.LobbyID
		default:
			return nil
		}
		_, err := r.db.Exec(
			"INSERT INTO player_sightings (player_id, player_name, lobby_id, event, seen_at) VALUES (?, ?, ?, ?, ?)",
			playerID, playerName, lobbyID, kind, time.Now(),
		)
		return err
	}
}

func (r *Recorder) onConnection(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ConnectionStateChangedPayload)
	if !ok {
		return nil
	}
	_, err := r.db.Exec(
		"INSERT INTO connection_log (state, previous, attempt, error, changed_at) VALUES (?, ?, ?, ?, ?)",
		p.State, p.Previous, p.Attempt, p.Err, time.Now(),
	)
	return err
}

// ChatCount returns the total number of recorded chat lines.
func (r *Recorder) ChatCount() (int64, error) {
	var n int64
	err := r.db.QueryRow("SELECT COUNT(*) FROM chat_log").Scan(&n)
	return n, err
}

// RecentChat returns the newest chat lines for a lobby, oldest first.
func (r *Recorder) RecentChat(lobbyID string, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(
		`SELECT id, lobby_id, sender_id, sender_name, direction, text, spoken_at
		 FROM chat_log WHERE lobby_id = ? ORDER BY spoken_at DESC LIMIT ?`,
		lobbyID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		if err := rows.Scan(&rec.ID, &rec.LobbyID, &rec.SenderID, &rec.SenderName,
			&rec.Direction, &rec.Text, &rec.SpokenAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
