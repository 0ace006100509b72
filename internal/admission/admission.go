// Package admission gates submissions before any expensive pipeline work
// starts: fixed-window rate limits keyed by source and by identity, plus a
// pre-flight credit check for identified submitters.
package admission

import (
	"context"
	"strings"
	"time"
)

const (
	ReasonRateLimited       = "rate_limited"
	ReasonInsufficientFunds = "insufficient_funds"
)

// Rule describes one fixed-window limit.
type Rule struct {
	Window time.Duration
	Max    int
}

// DefaultSourceRule blunts bulk submissions from one origin: short window, low max.
func DefaultSourceRule() Rule {
	return Rule{Window: time.Minute, Max: 5}
}

// DefaultIdentityRule blunts sustained spam against one identity regardless of
// source: longer window, slightly higher max.
func DefaultIdentityRule() Rule {
	return Rule{Window: 10 * time.Minute, Max: 12}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string, retryAfter time.Duration) Decision {
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

// BalanceReader is the slice of the ledger the controller needs.
type BalanceReader interface {
	Balance(ctx context.Context, identity string) (int, error)
}

// Controller combines the rate gates with the resource gate.
type Controller struct {
	source   *windowCounter
	identity *windowCounter
	ledger   BalanceReader
}

// NewController builds a Controller. A nil now func uses the wall clock.
func NewController(sourceRule, identityRule Rule, ledger BalanceReader, now func() time.Time) *Controller {
	return &Controller{
		source:   newWindowCounter(sourceRule.Window, sourceRule.Max, now),
		identity: newWindowCounter(identityRule.Window, identityRule.Max, now),
		ledger:   ledger,
	}
}

// Admit runs the rate gates and, for identified submitters, the credit gate.
// Either counter being exhausted denies the request. Anonymous identities skip
// the credit gate entirely; they are never billed.
func (c *Controller) Admit(ctx context.Context, sourceKey, identityKey string, estimatedCost int) (Decision, error) {
	if ok, retryAfter := c.source.Hit(strings.TrimSpace(sourceKey)); !ok {
		return deny(ReasonRateLimited, retryAfter), nil
	}
	if ok, retryAfter := c.identity.Hit(strings.TrimSpace(identityKey)); !ok {
		return deny(ReasonRateLimited, retryAfter), nil
	}

	if c.ledger == nil || estimatedCost <= 0 || IsAnonymous(identityKey) {
		return allow(), nil
	}
	balance, err := c.ledger.Balance(ctx, identityKey)
	if err != nil {
		return Decision{}, err
	}
	if balance < estimatedCost {
		return deny(ReasonInsufficientFunds, 0), nil
	}
	return allow(), nil
}

// AdmitRetry applies only the rate gates. Retries never re-bill, so the credit
// gate does not apply.
func (c *Controller) AdmitRetry(sourceKey, identityKey string) Decision {
	if ok, retryAfter := c.source.Hit(strings.TrimSpace(sourceKey)); !ok {
		return deny(ReasonRateLimited, retryAfter)
	}
	if ok, retryAfter := c.identity.Hit(strings.TrimSpace(identityKey)); !ok {
		return deny(ReasonRateLimited, retryAfter)
	}
	return allow()
}

// IsAnonymous reports whether identity is a guest identity or empty. Guest
// identities use the "guest:" prefix set by the auth middleware.
func IsAnonymous(identity string) bool {
	identity = strings.TrimSpace(identity)
	return identity == "" || strings.HasPrefix(identity, "guest:")
}
