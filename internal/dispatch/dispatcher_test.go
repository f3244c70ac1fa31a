package dispatch

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/wvh-ops/watchdogd/internal/lifecycle"
)

type fakeHandler struct {
	commands []lifecycle.Command
	reply    lifecycle.Reply
}

func (f *fakeHandler) Handle(ctx context.Context, cmd lifecycle.Command) lifecycle.Reply {
	f.commands = append(f.commands, cmd)
	return f.reply
}

type fakeSleeper struct {
	calls  int
	reason string
}

func (f *fakeSleeper) Sleep(ctx context.Context, reason string) (string, error) {
	f.calls++
	f.reason = reason
	return "sleep initiated", nil
}

func dispatchText(d *Dispatcher, text string) []string {
	var replies []string
	d.Dispatch(context.Background(), Message{
		Text:  text,
		Reply: func(text string) { replies = append(replies, text) },
	})
	return replies
}

func TestDispatchLifecycleCommands(t *testing.T) {
	tests := []struct {
		text string
		want lifecycle.Command
	}{
		{"/start", lifecycle.CommandStart},
		{"/stop", lifecycle.CommandStop},
		{"/restart", lifecycle.CommandRestart},
		{"/START", lifecycle.CommandStart},
		{"  /start  ", lifecycle.CommandStart},
		{"/start now please", lifecycle.CommandStart},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			handler := &fakeHandler{reply: lifecycle.Reply{Message: "ok"}}
			d := New("/", handler)

			replies := dispatchText(d, tt.text)
			if len(handler.commands) != 1 || handler.commands[0] != tt.want {
				t.Errorf("Expected command %s, got %v", tt.want, handler.commands)
			}
			if len(replies) != 1 {
				t.Errorf("Expected exactly one reply, got %d", len(replies))
			}
		})
	}
}

func TestDispatchIgnoresChatter(t *testing.T) {
	tests := []string{
		"hello everyone",
		"start the server please", // no prefix
		"/",
		"",
		"/unknowncommand",
	}

	for _, text := range tests {
		t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
			handler := &fakeHandler{}
			d := New("/", handler)

			replies := dispatchText(d, text)
			if len(handler.commands) != 0 {
				t.Errorf("Chatter should not reach the handler, got %v", handler.commands)
			}
			if len(replies) != 0 {
				t.Errorf("Chatter should produce no replies, got %v", replies)
			}
		})
	}
}

func TestDispatchCustomPrefix(t *testing.T) {
	handler := &fakeHandler{reply: lifecycle.Reply{Message: "ok"}}
	d := New("!", handler)

	dispatchText(d, "!stop")
	if len(handler.commands) != 1 || handler.commands[0] != lifecycle.CommandStop {
		t.Errorf("Expected stop with custom prefix, got %v", handler.commands)
	}

	dispatchText(d, "/stop")
	if len(handler.commands) != 1 {
		t.Error("Default prefix should not match when a custom prefix is set")
	}
}

func TestDispatchStatusEnriched(t *testing.T) {
	handler := &fakeHandler{reply: lifecycle.Reply{Message: "workload wvh is online"}}
	d := New("/", handler)
	d.SetStatusEnricher(func() string { return "host: cpu 12%" })

	replies := dispatchText(d, "/status")
	if len(replies) != 1 {
		t.Fatalf("Expected one reply, got %d", len(replies))
	}
	if !strings.Contains(replies[0], "online") || !strings.Contains(replies[0], "cpu 12%") {
		t.Errorf("Status reply should carry state and enrichment, got %q", replies[0])
	}
}

func TestDispatchCommandFailureStillReplies(t *testing.T) {
	handler := &fakeHandler{reply: lifecycle.Reply{
		Message: "failed to start workload: runtime unreachable",
		Err:     fmt.Errorf("unavailable"),
	}}
	d := New("/", handler)

	replies := dispatchText(d, "/start")
	if len(replies) != 1 {
		t.Fatalf("Failed command must still produce one reply, got %d", len(replies))
	}
	if !strings.Contains(replies[0], "failed") {
		t.Errorf("Reply should surface the failure, got %q", replies[0])
	}
}

func TestDispatchSleep(t *testing.T) {
	handler := &fakeHandler{}
	sleeper := &fakeSleeper{}
	d := New("/", handler)
	d.SetSleeper(sleeper)

	replies := dispatchText(d, "/sleep")
	if sleeper.calls != 1 {
		t.Fatalf("Expected one sleep call, got %d", sleeper.calls)
	}
	if sleeper.reason != "manual" {
		t.Errorf("Expected manual reason, got %q", sleeper.reason)
	}
	if len(replies) != 1 || replies[0] != "sleep initiated" {
		t.Errorf("Unexpected replies %v", replies)
	}
}

func TestDispatchSleepDisabled(t *testing.T) {
	handler := &fakeHandler{}
	d := New("/", handler)

	replies := dispatchText(d, "/sleep")
	if len(replies) != 1 || !strings.Contains(replies[0], "not enabled") {
		t.Errorf("Expected not-enabled reply, got %v", replies)
	}
}
