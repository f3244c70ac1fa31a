package discord

import (
	"log"
	"sync"
	"time"
)

// DefaultMonitorInterval is how often the console channel is polled for
// commands.
const DefaultMonitorInterval = 2 * time.Second

// MessageSink receives inbound console messages. The reply function routes
// text back to the console channel the command arrived on.
type MessageSink func(text string, reply func(string))

// Monitor polls the console channel and feeds operator messages into a sink.
// Bot-authored messages (including the watchdog's own replies) are skipped.
type Monitor struct {
	client         *Client
	consoleChannel string
	interval       time.Duration
	sink           MessageSink

	lastMessageID string

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewMonitor creates a Monitor over the given console channel.
func NewMonitor(client *Client, consoleChannel string, interval time.Duration, sink MessageSink) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		client:         client,
		consoleChannel: consoleChannel,
		interval:       interval,
		sink:           sink,
		stopCh:         make(chan struct{}),
		stoppedCh:      make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
// It is safe to call Start multiple times; subsequent calls are no-ops.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})
	m.mu.Unlock()

	go m.run()
}

// Stop stops the polling loop. It blocks until the goroutine has exited.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	stoppedCh := m.stoppedCh
	m.mu.Unlock()

	<-stoppedCh
}

func (m *Monitor) run() {
	defer close(m.stoppedCh)

	// Establish the cursor at the most recent message so old channel history
	// is never replayed as commands.
	if messages, err := m.client.MessagesAfter(m.consoleChannel, ""); err != nil {
		log.Printf("[Discord] Failed to establish message cursor: %v", err)
	} else if len(messages) > 0 {
		m.lastMessageID = messages[0].ID
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.pollOnce()
		case <-m.stopCh:
			return
		}
	}
}

// pollOnce fetches and dispatches messages newer than the cursor, oldest
// first so command order matches arrival order.
func (m *Monitor) pollOnce() {
	if m.lastMessageID == "" {
		// Cursor was never established (empty channel or startup failure);
		// retry establishing it rather than replaying history.
		messages, err := m.client.MessagesAfter(m.consoleChannel, "")
		if err != nil {
			log.Printf("[Discord] Failed to establish message cursor: %v", err)
			return
		}
		if len(messages) == 0 {
			return
		}
		m.lastMessageID = messages[0].ID
		return
	}

	messages, err := m.client.MessagesAfter(m.consoleChannel, m.lastMessageID)
	if err != nil {
		log.Printf("[Discord] Failed to fetch messages: %v", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	m.lastMessageID = messages[0].ID

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Author.Bot {
			continue
		}
		m.sink(msg.Content, func(text string) {
			if err := m.client.SendMessage(m.consoleChannel, text); err != nil {
				log.Printf("[Discord] Failed to send reply: %v", err)
			}
		})
	}
}
