// Package build provides the logging plumbing shared by troupe binaries:
// a level-controlled root handler over one or more writers, and a registry
// of per-subsystem loggers.
package build

import (
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// ParseLevel converts a textual log level such as "debug" or "info" into a
// btclog level.
func ParseLevel(s string) (btclog.Level, error) {
	level, ok := btclog.LevelFromString(s)
	if !ok {
		return btclog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}

	return level, nil
}

// LoggerManager owns the root log handler and hands out per-subsystem
// loggers whose levels can be adjusted independently at runtime.
type LoggerManager struct {
	// root is the handler all subsystem handlers derive from.
	root btclogv2.Handler

	// mu protects subsystems.
	mu sync.Mutex

	// subsystems maps subsystem tags to their derived handlers so level
	// overrides can find them later.
	subsystems map[string]btclogv2.Handler
}

// NewLoggerManager creates a manager whose root handler writes to every
// supplied writer. Multiple writers are combined with io.MultiWriter, so
// each destination (e.g. stderr plus a mirror log file) receives the same
// records, formatted once and filtered by a single level.
func NewLoggerManager(writers ...io.Writer) *LoggerManager {
	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	return &LoggerManager{
		root:       btclogv2.NewDefaultHandler(out),
		subsystems: make(map[string]btclogv2.Handler),
	}
}

// GenSubLogger returns a logger for the given subsystem tag, creating and
// registering its handler on first use.
func (m *LoggerManager) GenSubLogger(tag string) btclogv2.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	handler, ok := m.subsystems[tag]
	if !ok {
		handler = m.root.SubSystem(tag)
		m.subsystems[tag] = handler
	}

	return btclogv2.NewSLogger(handler)
}

// SetLevels applies level to the root handler and every registered
// subsystem handler.
func (m *LoggerManager) SetLevels(level btclog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.root.SetLevel(level)
	for _, handler := range m.subsystems {
		handler.SetLevel(level)
	}
}

// SetSubLevel overrides the level of a single registered subsystem. It
// returns an error for tags no logger has been generated for.
func (m *LoggerManager) SetSubLevel(tag string, level btclog.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	handler, ok := m.subsystems[tag]
	if !ok {
		return fmt.Errorf("unknown log subsystem %q", tag)
	}

	handler.SetLevel(level)

	return nil
}
