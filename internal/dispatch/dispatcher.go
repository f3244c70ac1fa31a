// Package dispatch maps inbound chat messages to lifecycle commands and
// routes replies back to the channel they arrived on.
package dispatch

import (
	"context"
	"log"
	"strings"

	"github.com/wvh-ops/watchdogd/internal/lifecycle"
)

// DefaultPrefix is the default command prefix.
const DefaultPrefix = "/"

// Message is an inbound chat message with its reply sink.
type Message struct {
	Text  string
	Reply func(text string)
}

// Handler executes lifecycle commands. Implemented by the coordinator.
type Handler interface {
	Handle(ctx context.Context, cmd lifecycle.Command) lifecycle.Reply
}

// Sleeper puts the host to sleep after stopping the workload. Implemented by
// the sleep manager; optional.
type Sleeper interface {
	Sleep(ctx context.Context, reason string) (string, error)
}

// StatusEnricher appends extra detail (host health, player count) to status
// replies. Optional.
type StatusEnricher func() string

// Dispatcher recognizes prefixed commands and forwards them to the handler.
// Messages without the prefix, or with an unknown keyword, are dropped
// silently; the console channel carries ordinary chatter too.
type Dispatcher struct {
	prefix  string
	handler Handler
	sleeper Sleeper
	enrich  StatusEnricher
}

// New creates a Dispatcher with the given command prefix.
func New(prefix string, handler Handler) *Dispatcher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Dispatcher{
		prefix:  prefix,
		handler: handler,
	}
}

// SetSleeper enables the sleep command.
func (d *Dispatcher) SetSleeper(s Sleeper) {
	d.sleeper = s
}

// SetStatusEnricher sets the optional status reply enricher.
func (d *Dispatcher) SetStatusEnricher(enrich StatusEnricher) {
	d.enrich = enrich
}

// Dispatch processes one inbound message. Recognized commands always produce
// exactly one reply; everything else produces none.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	keyword, ok := d.parse(msg.Text)
	if !ok {
		return
	}

	switch keyword {
	case "start", "stop", "restart":
		reply := d.handler.Handle(ctx, lifecycle.Command(keyword))
		if reply.Err != nil {
			log.Printf("[Dispatcher] Command %s failed: %v", keyword, reply.Err)
		}
		msg.Reply(reply.Message)

	case "status":
		reply := d.handler.Handle(ctx, lifecycle.CommandStatus)
		text := reply.Message
		if d.enrich != nil {
			if extra := d.enrich(); extra != "" {
				text += "\n" + extra
			}
		}
		msg.Reply(text)

	case "sleep":
		if d.sleeper == nil {
			msg.Reply("sleep is not enabled on this host")
			return
		}
		text, err := d.sleeper.Sleep(ctx, "manual")
		if err != nil {
			log.Printf("[Dispatcher] Sleep failed: %v", err)
		}
		msg.Reply(text)

	default:
		// Prefixed but unknown keyword: selective processing, drop it.
	}
}

// parse extracts the command keyword from a message, case-insensitively.
// Returns ok=false when the message does not carry the prefix or is empty
// after it.
func (d *Dispatcher) parse(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, d.prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(trimmed, d.prefix)
	fields := strings.Fields(strings.ToLower(rest))
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
