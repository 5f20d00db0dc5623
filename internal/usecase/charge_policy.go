package usecase

import (
	"time"

	"recurrent-billing/internal/domain/model"
)

const DefaultFastChargeThreshold = 24 * time.Hour

// ReactivationPolicy decides which terms a reactivated chain keeps.
type ReactivationPolicy string

const (
	// ReactivationKeepTerms copies the custom amount and any pending type
	// change from the stopped link. The amount is still resolved at charge time.
	ReactivationKeepTerms ReactivationPolicy = "keep_terms"
	// ReactivationReresolve drops the custom amount and pending type change,
	// so the next charge is priced from the subscription type alone.
	ReactivationReresolve ReactivationPolicy = "reresolve"
)

// ChargePolicy holds the timing rules of the charge engine.
type ChargePolicy struct {
	// Backoff[i] is the delay before retry i+1. len(Backoff) is the number of
	// retries a fresh link starts with.
	Backoff             []time.Duration
	FastChargeThreshold time.Duration
	// RenewalLead moves the renewal charge this far ahead of the period end.
	RenewalLead  time.Duration
	Reactivation ReactivationPolicy
}

func (p ChargePolicy) MaxRetries() int { return len(p.Backoff) }

// RetryAt is the charge_at of the retry link after a failure that left
// retriesLeft retries. The first retry uses Backoff[0].
func (p ChargePolicy) RetryAt(now time.Time, retriesLeft int) time.Time {
	idx := p.MaxRetries() - retriesLeft - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		if len(p.Backoff) == 0 {
			return now.Add(p.threshold())
		}
		idx = len(p.Backoff) - 1
	}
	return now.Add(p.Backoff[idx])
}

// IsUrgent reports whether chargeAt is overdue by more than the fast-charge threshold.
func (p ChargePolicy) IsUrgent(now, chargeAt time.Time) bool {
	return now.Sub(chargeAt) > p.threshold()
}

// NextChargeAt is when the link following a payment paid at paidAt is due.
func (p ChargePolicy) NextChargeAt(paidAt time.Time, t *model.SubscriptionType) time.Time {
	return paidAt.Add(t.Period()).Add(-p.RenewalLead)
}

func (p ChargePolicy) threshold() time.Duration {
	if p.FastChargeThreshold <= 0 {
		return DefaultFastChargeThreshold
	}
	return p.FastChargeThreshold
}
