// Package logging wires zerolog as the runtime's structured logger.
//
// Every Lumina component takes a zerolog.Logger value at construction rather
// than reaching for a package-level global; Init only builds the root
// logger handed to Lifecycle at bootstrap.
package logging

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Init builds the root logger from level ("debug", "info", "warn",
// "error") and format ("json" or "text"). An empty logPath logs to
// stdout; otherwise logs are appended to that file, falling back to
// stdout if it cannot be opened.
func Init(logPath, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "logging: failed to open log file %q: %v\n", logPath, err)
		}
	}
	if strings.EqualFold(format, "text") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	lvl := zerolog.InfoLevel
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)

	return logger
}

type ctxKey struct{}

// WithContext attaches l to ctx so downstream calls can recover it with
// FromContext without threading a zerolog.Logger through every signature.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext recovers a logger attached by WithContext, or a bare
// stdout logger if none was attached.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return l
		}
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// ForSession returns a child logger scoped to a session/character pair,
// the same tagging convention internal/observability/ctxlogger.go uses
// for trace enrichment.
func ForSession(base zerolog.Logger, sessionID, characterID string) zerolog.Logger {
	ctx := base.With()
	if sessionID != "" {
		ctx = ctx.Str("session_id", sessionID)
	}
	if characterID != "" {
		ctx = ctx.Str("character_id", characterID)
	}
	return ctx.Logger()
}

// ForTrace returns a child logger tagged with a trace id, mirroring
// LoggerWithTrace's OTel-span enrichment but accepting a plain string so
// callers outside a traced span can still correlate log lines.
func ForTrace(base zerolog.Logger, traceID string) zerolog.Logger {
	if traceID == "" {
		return base
	}
	return base.With().Str("trace_id", traceID).Logger()
}
