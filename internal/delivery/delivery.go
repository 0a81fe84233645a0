// Package delivery routes finished agent messages to the player's channel.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"argent/internal/faults"
	"argent/internal/logging"
)

// Channels the stock narrative uses.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelWeb   = "web"
)

// Outbound is one message leaving the engine.
type Outbound struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	AgentID   string    `json:"agent_id"`
	Channel   string    `json:"channel"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	At        time.Time `json:"at"`
}

// Receipt reports where a message went.
type Receipt struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
	Fallback   bool   `json:"fallback"`
}

// Sender delivers on one channel.
type Sender interface {
	Send(ctx context.Context, msg Outbound) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Outbound) (string, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Outbound) (string, error) { return f(ctx, msg) }

// Gateway is what the engine delivers through.
type Gateway interface {
	Deliver(ctx context.Context, msg Outbound) (Receipt, error)
}

// Dispatcher routes by channel and falls back when a channel has no
// sender.
type Dispatcher struct {
	mu       sync.RWMutex
	senders  map[string]Sender
	fallback string
}

// NewDispatcher returns a dispatcher with the given fallback channel.
func NewDispatcher(fallback string) *Dispatcher {
	if fallback == "" {
		fallback = ChannelWeb
	}
	return &Dispatcher{senders: make(map[string]Sender), fallback: fallback}
}

// Register attaches a sender to a channel, replacing any previous one.
func (d *Dispatcher) Register(channel string, s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[channel] = s
}

// Deliver sends msg on its channel or the fallback. A sender failure is an
// ExternalServiceError; the engine retries it.
func (d *Dispatcher) Deliver(ctx context.Context, msg Outbound) (Receipt, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	d.mu.RLock()
	s, ok := d.senders[msg.Channel]
	rec := Receipt{Channel: msg.Channel}
	if !ok {
		s, ok = d.senders[d.fallback]
		rec = Receipt{Channel: d.fallback, Fallback: true}
	}
	d.mu.RUnlock()
	if !ok {
		return Receipt{}, fmt.Errorf("no sender for channel %q and no fallback %q", msg.Channel, d.fallback)
	}
	if rec.Fallback {
		logging.DeliveryWarn("channel %q has no sender, falling back to %s for player %s", msg.Channel, d.fallback, msg.PlayerID)
		msg.Channel = d.fallback
	}

	id, err := s.Send(ctx, msg)
	if err != nil {
		return Receipt{}, faults.External("delivery:"+rec.Channel, err)
	}
	rec.ExternalID = id
	logging.Delivery("delivered %s from %s to player %s via %s", msg.ID, msg.AgentID, msg.PlayerID, rec.Channel)
	return rec, nil
}

// LogSender records messages and writes them to the delivery log. It
// backs the web inbox in development and the CLI.
type LogSender struct {
	mu   sync.Mutex
	sent []Outbound
}

// Send records msg.
func (l *LogSender) Send(_ context.Context, msg Outbound) (string, error) {
	l.mu.Lock()
	l.sent = append(l.sent, msg)
	l.mu.Unlock()
	logging.DeliveryDebug("[%s] %s -> %s: %s", msg.Channel, msg.AgentID, msg.PlayerID, msg.Body)
	return msg.ID, nil
}

// Sent returns a copy of everything recorded.
func (l *LogSender) Sent() []Outbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Outbound(nil), l.sent...)
}
