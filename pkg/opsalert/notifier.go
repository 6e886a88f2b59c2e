// Package opsalert posts a best-effort Slack notification when the
// fallback orchestrator exhausts both a tenant's primary and fallback
// vendor for a send. It never affects the response envelope or timing:
// entries are buffered and flushed by a background goroutine, and when the
// buffer is full the new notification is dropped with a logged warning.
package opsalert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	goslack "github.com/slack-go/slack"
)

// Outage describes a vendor-outage event worth notifying an ops channel about.
type Outage struct {
	TenantID       string
	AgentID        string
	SessionID      string
	RequestID      string
	PrimaryVendor  string
	FallbackVendor string // "" if none configured
}

const bufferSize = 64

// Notifier is an async, buffered Slack notifier. Call Start to begin
// processing; Notify never blocks the caller.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
	entries chan Outage
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier. If botToken is empty, the notifier is a
// noop (Notify drops every entry immediately after a debug log).
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger,
		entries: make(chan Outage, bufferSize),
	}
}

// IsEnabled reports whether the notifier has a configured Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// Start begins the background goroutine that posts outages to Slack. It
// runs until ctx is cancelled, draining any buffered entries before returning.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run(ctx)
	}()
}

// Close waits for the background goroutine to drain and exit.
func (n *Notifier) Close() {
	close(n.entries)
	n.wg.Wait()
}

// Notify enqueues an outage notification. It never blocks the caller; if
// the buffer is full, the entry is dropped and a warning is logged.
func (n *Notifier) Notify(o Outage) {
	if !n.IsEnabled() {
		n.logger.Debug("opsalert disabled, skipping outage notification",
			"tenant_id", o.TenantID, "request_id", o.RequestID)
		return
	}

	select {
	case n.entries <- o:
	default:
		n.logger.Warn("opsalert buffer full, dropping outage notification",
			"tenant_id", o.TenantID, "request_id", o.RequestID)
	}
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case o, ok := <-n.entries:
			if !ok {
				return
			}
			n.post(ctx, o)
		case <-ctx.Done():
			for {
				select {
				case o, ok := <-n.entries:
					if !ok {
						return
					}
					n.post(context.Background(), o)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) post(ctx context.Context, o Outage) {
	fallback := o.FallbackVendor
	if fallback == "" {
		fallback = "none"
	}

	text := fmt.Sprintf(":rotating_light: all providers failed for tenant `%s` (primary=%s, fallback=%s, request=%s)",
		o.TenantID, o.PrimaryVendor, fallback, o.RequestID)

	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting outage notification to slack", "error", err, "tenant_id", o.TenantID)
	}
}
