package model

import "time"

type PaymentStatus string

const (
	PaymentStatusForm       PaymentStatus = "form"       // created, gateway round trip not finished
	PaymentStatusPaid       PaymentStatus = "paid"       // money captured
	PaymentStatusFail       PaymentStatus = "fail"       // gateway declined
	PaymentStatusTimeout    PaymentStatus = "timeout"    // never completed at the gateway
	PaymentStatusRefund     PaymentStatus = "refund"     // fully refunded
	PaymentStatusImported   PaymentStatus = "imported"   // migrated from another system
	PaymentStatusPrepaid    PaymentStatus = "prepaid"    // paid outside of any gateway
	PaymentStatusAuthorized PaymentStatus = "authorized" // authorized, capture pending
)

// AdditionalType says whether the additional amount (e.g. a donation) is
// charged once or repeated on every renewal.
type AdditionalType string

const (
	AdditionalTypeNone      AdditionalType = ""
	AdditionalTypeSingle    AdditionalType = "single"
	AdditionalTypeRecurrent AdditionalType = "recurrent"
)

// Payment is one attempted or completed monetary transaction.
type Payment struct {
	ID                 string
	VariableSymbol     string // external-facing reference
	UserID             string
	Amount             int64 // minor units, includes AdditionalAmount
	AdditionalAmount   int64
	AdditionalType     AdditionalType
	Currency           string
	Status             PaymentStatus
	Gateway            string
	SubscriptionID     *string
	SubscriptionTypeID string
	RecurrentCharge    bool   // produced by the charge engine rather than a customer checkout
	ExternalID         string // gateway transaction / session id
	RefundedAmount     int64
	ResultCode         string
	ResultMessage      string
	PaidAt             *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsTerminal reports whether no further status change is allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFail, PaymentStatusTimeout, PaymentStatusRefund,
		PaymentStatusImported, PaymentStatusPrepaid:
		return true
	}
	return false
}

// CanTransitionTo enforces monotone status changes toward a terminal value.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case PaymentStatusForm:
		return true
	case PaymentStatusAuthorized:
		return next == PaymentStatusPaid || next == PaymentStatusFail || next == PaymentStatusTimeout
	case PaymentStatusPaid:
		return next == PaymentStatusRefund
	}
	return false
}

// RefundableAmount is what is left to refund on a paid payment.
func (p *Payment) RefundableAmount() int64 {
	if p.Status != PaymentStatusPaid {
		return 0
	}
	return p.Amount - p.RefundedAmount
}

// RecurrentAdditionalAmount is the part of the additional amount repeated on renewal.
func (p *Payment) RecurrentAdditionalAmount() int64 {
	if p.AdditionalType != AdditionalTypeRecurrent {
		return 0
	}
	return p.AdditionalAmount
}
