package discord

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/wvh-ops/watchdogd/internal/lifecycle"
	"github.com/wvh-ops/watchdogd/internal/otelx"
)

// Sender delivers a message to a channel. Implemented by Client; narrowed
// for tests.
type Sender interface {
	SendMessage(channelID, content string) error
}

// Notifier forwards lifecycle transition events to the announce channels.
// It consumes the coordinator's bounded event stream on its own goroutine,
// so delivery latency and failures never reach the coordinator's critical
// section. Delivery is best-effort: failures are logged and counted only.
type Notifier struct {
	sender   Sender
	channels []string

	wg     sync.WaitGroup
	failed atomic.Int64
	sent   atomic.Int64
}

// NewNotifier creates a Notifier broadcasting to the given channels.
func NewNotifier(sender Sender, channels []string) *Notifier {
	return &Notifier{
		sender:   sender,
		channels: channels,
	}
}

// Run consumes events until the channel is closed. Call as a goroutine;
// Wait blocks until the stream is drained.
func (n *Notifier) Run(events <-chan lifecycle.TransitionEvent) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for event := range events {
			n.Broadcast(formatEvent(event))
		}
	}()
}

// Wait blocks until the event stream has been drained after close.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Broadcast sends a message to every announce channel, best-effort.
func (n *Notifier) Broadcast(message string) {
	for _, channel := range n.channels {
		err := n.sender.SendMessage(channel, message)
		otelx.RecordNotification(context.Background(), err == nil)
		if err != nil {
			n.failed.Add(1)
			log.Printf("[Notifier] Failed to deliver to channel %s: %v", channel, err)
			continue
		}
		n.sent.Add(1)
	}
}

// Warn broadcasts an operational warning, used by the poller for degraded
// health notices.
func (n *Notifier) Warn(message string) {
	n.Broadcast("⚠️ " + message)
}

// Stats returns delivery counters.
func (n *Notifier) Stats() (sent, failed int64) {
	return n.sent.Load(), n.failed.Load()
}

// formatEvent renders a transition event as an operator-facing announcement.
func formatEvent(event lifecycle.TransitionEvent) string {
	switch event.To {
	case lifecycle.RunStateStarting:
		return "🚀 Server is starting up!"
	case lifecycle.RunStateOnline:
		return "✅ Server is online!"
	case lifecycle.RunStateStopping:
		return "🛑 Server is stopping..."
	case lifecycle.RunStateOffline:
		if event.Actor == lifecycle.ActorPoller && event.From == lifecycle.RunStateOnline {
			return "❌ Server went offline unexpectedly"
		}
		if event.Detail != "" {
			return fmt.Sprintf("❌ Server is offline (%s)", event.Detail)
		}
		return "💤 Server has stopped"
	default:
		return fmt.Sprintf("server state changed: %s -> %s", event.From, event.To)
	}
}
