package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// channelServer simulates the Discord messages endpoint for one channel.
type channelServer struct {
	mu       sync.Mutex
	messages []ChannelMessage // newest first
	sent     []string
}

func (s *channelServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}

		if r.Method == http.MethodPost {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			s.mu.Lock()
			s.sent = append(s.sent, body["content"])
			s.mu.Unlock()
			w.Write([]byte(`{"id":"reply"}`))
			return
		}

		after := r.URL.Query().Get("after")
		s.mu.Lock()
		defer s.mu.Unlock()

		if after == "" {
			if len(s.messages) == 0 {
				w.Write([]byte(`[]`))
				return
			}
			json.NewEncoder(w).Encode(s.messages[:1])
			return
		}

		var newer []ChannelMessage
		for _, msg := range s.messages {
			if msg.ID > after {
				newer = append(newer, msg)
			}
		}
		if newer == nil {
			newer = []ChannelMessage{}
		}
		json.NewEncoder(w).Encode(newer)
	}
}

func (s *channelServer) push(id, content string, bot bool) {
	msg := ChannelMessage{ID: id, Content: content}
	msg.Author.ID = "user"
	msg.Author.Bot = bot
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]ChannelMessage{msg}, s.messages...)
}

func (s *channelServer) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func startTestMonitor(t *testing.T, cs *channelServer, sink MessageSink) *Monitor {
	t.Helper()
	server := httptest.NewServer(cs.handler())
	t.Cleanup(server.Close)

	client := NewClient(context.Background(), "test-token", server.Client(), testRetryConfig())
	client.SetBaseURL(server.URL)

	monitor := NewMonitor(client, "console", 5*time.Millisecond, sink)
	monitor.Start()
	t.Cleanup(monitor.Stop)
	return monitor
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("Condition never met")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMonitorDeliversNewMessagesInOrder(t *testing.T) {
	cs := &channelServer{}
	cs.push("100", "old history", false)

	var mu sync.Mutex
	var received []string
	startTestMonitor(t, cs, func(text string, reply func(string)) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, text)
	})

	// Give the monitor a moment to establish its cursor at message 100.
	time.Sleep(20 * time.Millisecond)

	cs.push("101", "/start", false)
	cs.push("102", "/status", false)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0] != "/start" || received[1] != "/status" {
		t.Errorf("Messages should arrive oldest first, got %v", received)
	}
	for _, text := range received {
		if text == "old history" {
			t.Error("Channel history must not be replayed")
		}
	}
}

func TestMonitorSkipsBotMessages(t *testing.T) {
	cs := &channelServer{}
	cs.push("100", "seed", false)

	var mu sync.Mutex
	var received []string
	startTestMonitor(t, cs, func(text string, reply func(string)) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, text)
	})

	time.Sleep(20 * time.Millisecond)
	cs.push("101", "starting workload", true) // the watchdog's own reply
	cs.push("102", "/status", false)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "/status" {
		t.Errorf("Bot messages should be skipped, got %v", received)
	}
}

func TestMonitorReplyRoutesToConsoleChannel(t *testing.T) {
	cs := &channelServer{}
	cs.push("100", "seed", false)

	startTestMonitor(t, cs, func(text string, reply func(string)) {
		reply("ack: " + text)
	})

	time.Sleep(20 * time.Millisecond)
	cs.push("101", "/start", false)

	waitFor(t, time.Second, func() bool {
		return len(cs.sentMessages()) >= 1
	})

	sent := cs.sentMessages()
	if sent[0] != "ack: /start" {
		t.Errorf("Reply should reach the console channel, got %v", sent)
	}
}
