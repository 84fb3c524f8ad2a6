// Package util provides utility functions used throughout the lobby monitor.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/config"
)

const logFilePrefix = "bzmonitor_"

// InitLogger configures the zerolog global logger from the monitor's
// logging section: JSON to a daily file under cfg.Directory, plus a
// console writer when cfg.Console is set. Safe to call again after the
// config file has been loaded.
func InitLogger(cfg config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	logFile, path, err := openLogFile(cfg)
	if err != nil {
		return err
	}

	writers := []io.Writer{logFile}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "bzmonitor").
		Caller().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", path).
		Msg("logger initialized")

	go pruneLogFiles(cfg.Directory, cfg.MaxBackups)
	return nil
}

// openLogFile opens today's log file, first rotating it aside when it
// has grown past the configured size cap.
func openLogFile(cfg config.LoggingConfig) (*os.File, string, error) {
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	path := filepath.Join(cfg.Directory, logFilePrefix+time.Now().Format("2006-01-02")+".log")

	if cfg.MaxSizeMB > 0 {
		if fi, err := os.Stat(path); err == nil && fi.Size() > int64(cfg.MaxSizeMB)*1024*1024 {
			rotated := strings.TrimSuffix(path, ".log") + "_" + time.Now().Format("150405") + ".log"
			if err := os.Rename(path, rotated); err == nil {
				log.Debug().Str("file", rotated).Msg("rotated oversized log file")
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, path, nil
}

// pruneLogFiles keeps the newest maxBackups monitor log files and
// removes the rest, oldest first.
func pruneLogFiles(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	type logEntry struct {
		name    string
		modTime time.Time
	}
	var files []logEntry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), logFilePrefix) ||
			filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logEntry{name: entry.Name(), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for i := 0; i < len(files)-maxBackups; i++ {
		path := filepath.Join(directory, files[i].name)
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
