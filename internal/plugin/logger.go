package plugin

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/infra/store"
)

// LoggerName is the bridge name of the logger plugin.
const LoggerName = "AbsLogger"

// LogStore keeps UI log lines. *store.DB implements it.
type LogStore interface {
	AppendLog(level, tag, message string) error
	Logs(limit int) ([]store.LogEntry, error)
	ClearLogs() error
}

// Logger records log lines sent by the UI.
type Logger struct {
	store LogStore
}

// NewLogger creates the logger plugin.
func NewLogger(store LogStore) *Logger {
	return &Logger{store: store}
}

// Name implements Plugin.
func (l *Logger) Name() string { return LoggerName }

// Load implements Plugin.
func (l *Logger) Load(Host) error { return nil }

// Invoke implements Plugin.
func (l *Logger) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	switch method {
	case "debug", "info", "warn", "error":
		msg, err := stringArg(args, "message")
		if err != nil {
			return nil, err
		}
		tag := optionalString(args, "tag")

		level, _ := zerolog.ParseLevel(method)
		log.WithLevel(level).Str("source", "ui").Str("tag", tag).Msg(msg)

		return nil, l.store.AppendLog(method, tag, msg)

	case "getAllLogs":
		entries, err := l.store.Logs(optionalInt(args, "limit", 100))
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []store.LogEntry{}
		}
		return map[string]any{"value": entries}, nil

	case "clearLogs":
		return nil, l.store.ClearLogs()

	default:
		return nil, unknownMethod(LoggerName, method)
	}
}
