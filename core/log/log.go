// Package log wires the op-logging backend shared by every core/
// subsystem, following the gopkg.in/op/go-logging.v1 usage pattern
// carried throughout the runtime (disk.go, cborplugin, decoy). A
// lumberjack-backed file sink gives it rotation without reaching
// for a second logging framework.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	logging "gopkg.in/op/go-logging.v1"
)

// Config controls where log output goes and how verbose it is.
type Config struct {
	// Level is one of DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL.
	Level string
	// File, if non-empty, receives rotated log output instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu       sync.Mutex
	initDone bool
)

// Init installs a backend built from cfg. Safe to call once at process
// startup; subsequent calls are no-ops so tests and library embedders
// that call it defensively don't double-register backends.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if initDone {
		return nil
	}

	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
			Compress:   true,
		}
	}

	backend := logging.NewLogBackend(w, "", 0)
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	formatted := logging.NewBackendFormatter(backend, format)

	level, err := logging.LogLevel(orString(cfg.Level, "INFO"))
	if err != nil {
		return fmt.Errorf("log: invalid level %q: %w", cfg.Level, err)
	}
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")

	logging.SetBackend(leveled)
	initDone = true
	return nil
}

// New returns a named sub-logger, one per subsystem (transport, auth,
// manager, ...).
func New(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
