// Package playertrack tracks player presence on the game server by parsing
// its log stream. The sleep manager uses it to gate shutdowns on the server
// being empty, and status replies include the live player count.
package playertrack

import (
	"strings"
	"sync"
	"time"
)

const serverInfoMarker = "[Server thread/INFO]"

// Summary is a point-in-time snapshot of player presence.
type Summary struct {
	Online      []string         `json:"online"`
	Count       int              `json:"count"`
	Sessions    map[string]int64 `json:"session_seconds,omitempty"`
	TotalJoins  int64            `json:"total_joins"`
	TotalLeaves int64            `json:"total_leaves"`
	LastEventAt time.Time        `json:"last_event_at,omitzero"`
}

// Tracker maintains the set of online players from join/leave log lines.
type Tracker struct {
	mu          sync.RWMutex
	online      map[string]time.Time
	totalJoins  int64
	totalLeaves int64
	lastEventAt time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		online: make(map[string]time.Time),
	}
}

// ProcessLine inspects one game log line and updates presence state.
// Non-presence lines are ignored.
func (t *Tracker) ProcessLine(line string) {
	if !strings.Contains(line, serverInfoMarker) {
		return
	}

	switch {
	case strings.Contains(line, "joined the game"):
		player, ok := extractPlayer(line, " joined the game")
		if !ok {
			return
		}
		t.mu.Lock()
		t.online[player] = time.Now()
		t.totalJoins++
		t.lastEventAt = time.Now()
		t.mu.Unlock()

	case strings.Contains(line, "left the game"):
		player, ok := extractPlayer(line, " left the game")
		if !ok {
			return
		}
		t.mu.Lock()
		delete(t.online, player)
		t.totalLeaves++
		t.lastEventAt = time.Now()
		t.mu.Unlock()
	}
}

// Empty reports whether no players are online.
func (t *Tracker) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online) == 0
}

// Count returns the number of online players.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}

// Reset clears presence state. Called when the workload goes offline so
// stale entries from a crash don't block the next sleep.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]time.Time)
}

// Snapshot returns a copy of the current presence state.
func (t *Tracker) Snapshot() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	online := make([]string, 0, len(t.online))
	sessions := make(map[string]int64, len(t.online))
	for player, joinedAt := range t.online {
		online = append(online, player)
		sessions[player] = int64(now.Sub(joinedAt).Seconds())
	}
	return Summary{
		Online:      online,
		Count:       len(online),
		Sessions:    sessions,
		TotalJoins:  t.totalJoins,
		TotalLeaves: t.totalLeaves,
		LastEventAt: t.lastEventAt,
	}
}

// extractPlayer pulls the player name out of a presence line. The name sits
// between the log prefix's final ": " and the event suffix.
func extractPlayer(line, suffix string) (string, bool) {
	end := strings.Index(line, suffix)
	if end < 0 {
		return "", false
	}
	head := line[:end]
	sep := strings.LastIndex(head, ": ")
	if sep < 0 {
		return "", false
	}
	player := strings.TrimSpace(head[sep+2:])
	if player == "" || strings.ContainsRune(player, ' ') {
		// Multi-word text here means a chat message quoting the phrase, not
		// a presence event.
		return "", false
	}
	return player, true
}
