// Package metering implements an in-memory, per-process record of
// token usage recorded after every successful buffered completion,
// with an optional Stripe usage-record push when a Stripe API key and
// a subscription item are configured.
package metering

import (
	"log/slog"
	"sync"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/usagerecord"
)

// Record is one completion's token accounting.
type Record struct {
	User         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// ModelUsage aggregates Records for a single (user, model) pair.
type ModelUsage struct {
	User        string
	Model       string
	Requests    int
	TotalTokens int
}

// Meter accumulates usage in memory and optionally mirrors it to
// Stripe as metered-billing usage records.
type Meter struct {
	mu    sync.RWMutex
	usage map[string]ModelUsage

	enabled              bool
	stripeSubscriptionID string
}

// Option configures a Meter.
type Option func(*Meter)

// WithStripeSubscriptionItem enables pushing a Stripe usage record per
// completion against the given subscription item id. Requires
// stripe.Key to already be set (see NewMeter).
func WithStripeSubscriptionItem(id string) Option {
	return func(m *Meter) { m.stripeSubscriptionID = id }
}

// NewMeter creates a Meter. enabled corresponds to
// USAGE_METERING_ENABLED; when false, Record is a no-op. stripeAPIKey,
// when non-empty, configures the global Stripe client so
// WithStripeSubscriptionItem usage pushes succeed.
func NewMeter(enabled bool, stripeAPIKey string, opts ...Option) *Meter {
	if stripeAPIKey != "" {
		stripe.Key = stripeAPIKey
	}
	m := &Meter{
		enabled: enabled,
		usage:   make(map[string]ModelUsage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func usageKey(user, model string) string { return user + "\x00" + model }

// Record records one completion's usage. It never fails or blocks the
// caller: Stripe push errors are logged and swallowed.
func (m *Meter) Record(rec Record) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	key := usageKey(rec.User, rec.Model)
	existing := m.usage[key]
	existing.User = rec.User
	existing.Model = rec.Model
	existing.Requests++
	existing.TotalTokens += rec.InputTokens + rec.OutputTokens
	m.usage[key] = existing
	m.mu.Unlock()

	if stripe.Key == "" || m.stripeSubscriptionID == "" {
		return
	}
	m.pushStripeUsage(rec)
}

func (m *Meter) pushStripeUsage(rec Record) {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(m.stripeSubscriptionID),
		Quantity:         stripe.Int64(int64(rec.InputTokens + rec.OutputTokens)),
		Action:           stripe.String(stripe.UsageRecordActionIncrement),
	}
	if _, err := usagerecord.New(params); err != nil {
		slog.Error("stripe usage record push failed", "user", rec.User, "model", rec.Model, "error", err)
	}
}

// GetModelUsage returns the accumulated usage for a user and model.
func (m *Meter) GetModelUsage(user, model string) ModelUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if existing, ok := m.usage[usageKey(user, model)]; ok {
		return existing
	}
	return ModelUsage{User: user, Model: model}
}
