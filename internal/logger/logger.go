// Package logger builds the slog logger shared by every component.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"chatclient/internal/config"
)

// Setup returns a logger writing to w in the given format ("text" or
// "json") at the given level.
func Setup(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler), nil
}

// SetupDefault installs the logger as slog's default. A nil writer means
// stderr, which keeps stdout free for the chat view.
func SetupDefault(w io.Writer, cfg *config.LogConfig) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	l, err := Setup(w, cfg.Level, cfg.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}
