package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	App    string `mapstructure:"app"`
}

var (
	global zerolog.Logger
	once   sync.Once
)

func init() {
	// Safe default before Init() is called.
	global = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// New creates a configured zerolog.Logger.
func New(cfg Config) zerolog.Logger {
	var w io.Writer = os.Stderr
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	lvl := parseLevel(cfg.Level)
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()

	if cfg.App != "" {
		logger = logger.With().Str(FieldApp, cfg.App).Logger()
	}

	return logger
}

// Init initialises the global logger. Call once at client startup.
// It also bridges stdlib log to zerolog so stray log.Printf calls
// produce structured output.
func Init(cfg Config) {
	once.Do(func() {
		global = New(cfg)

		stdlog.SetFlags(0)
		stdlog.SetOutput(global.With().Str("source", "stdlog").Logger())
	})
}

// L returns the global logger.
func L() zerolog.Logger {
	return global
}

// With returns the global logger tagged with a component name.
func With(component string) zerolog.Logger {
	return global.With().Str(FieldComponent, component).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
