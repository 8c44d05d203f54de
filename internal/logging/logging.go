package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"chat-relay/internal/config"
)

const (
	maxLogSizeMB  = 5
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// Init configures the global zerolog logger and returns it.
func Init(cfg config.LogConfig) (zerolog.Logger, error) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out, err := newWriter(cfg)
	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger, err
}

func newWriter(cfg config.LogConfig) (io.Writer, error) {
	var sink io.Writer = os.Stderr
	path := strings.TrimSpace(cfg.File)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return os.Stderr, errors.Wrap(err, "create log directory")
		}
		sink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
			Compress:   true,
		}
	}
	if strings.EqualFold(cfg.Format, "json") {
		return sink, nil
	}
	return zerolog.ConsoleWriter{
		Out:        sink,
		NoColor:    path != "",
		TimeFormat: time.RFC3339,
	}, nil
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
