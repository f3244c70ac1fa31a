// Package sleepctl stops the workload and signals the host to sleep, on
// operator command or on the nightly/maintenance schedule.
package sleepctl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wvh-ops/watchdogd/internal/lifecycle"
)

// Lifecycle is the coordinator surface the sleep manager drives.
type Lifecycle interface {
	Handle(ctx context.Context, cmd lifecycle.Command) lifecycle.Reply
	Status() lifecycle.StatusView
}

// Presence reports player presence; sleep is gated on an empty server.
type Presence interface {
	Empty() bool
	Count() int
}

// Broadcaster announces sleep activity to the chat channels.
type Broadcaster interface {
	Broadcast(message string)
}

// Config holds sleep manager settings. The host side watches TriggerFile
// and suspends when it appears.
type Config struct {
	TriggerDir  string
	TriggerFile string
}

// Manager coordinates stopping the workload and writing the host sleep
// trigger.
type Manager struct {
	cfg       Config
	lc        Lifecycle
	presence  Presence
	broadcast Broadcaster
}

// NewManager creates a sleep Manager. presence may be nil, in which case the
// empty-server gate is skipped.
func NewManager(cfg Config, lc Lifecycle, presence Presence, broadcast Broadcaster) *Manager {
	return &Manager{
		cfg:       cfg,
		lc:        lc,
		presence:  presence,
		broadcast: broadcast,
	}
}

// Sleep stops the workload if needed and writes the host sleep trigger.
// It refuses while players are online. The returned string is the operator
// reply; err is non-nil only when the sleep could not be carried out.
func (m *Manager) Sleep(ctx context.Context, reason string) (string, error) {
	if m.presence != nil && !m.presence.Empty() {
		count := m.presence.Count()
		slog.Info("sleep skipped, server not empty", "reason", reason, "players", count)
		return fmt.Sprintf("server is not empty (%d online), not sleeping", count), nil
	}

	view := m.lc.Status()
	if view.State == lifecycle.RunStateOnline || view.State == lifecycle.RunStateStarting {
		reply := m.lc.Handle(ctx, lifecycle.CommandStop)
		if reply.Err != nil {
			return "failed to stop server before sleep: " + reply.Message, reply.Err
		}
	}

	if m.broadcast != nil {
		switch reason {
		case "nightly":
			m.broadcast.Broadcast("💤 Server entering night mode - will wake up at 8 AM!")
		case "maintenance":
			m.broadcast.Broadcast("🔧 Server entering maintenance mode")
		default:
			m.broadcast.Broadcast("💤 Server is going to sleep...")
		}
	}

	if err := m.writeTrigger(); err != nil {
		slog.Error("failed to write sleep trigger", "error", err)
		return "stopped the server but failed to signal host sleep", err
	}

	slog.Info("sleep initiated", "reason", reason)
	return "sleep initiated", nil
}

// writeTrigger creates the trigger file the host's sleep watcher picks up.
func (m *Manager) writeTrigger() error {
	if m.cfg.TriggerFile == "" {
		return fmt.Errorf("sleep trigger file not configured")
	}

	dir := m.cfg.TriggerDir
	if dir == "" {
		dir = filepath.Dir(m.cfg.TriggerFile)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create trigger directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(m.cfg.TriggerFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return fmt.Errorf("create trigger file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write trigger file: %w", err)
	}
	return f.Sync()
}
