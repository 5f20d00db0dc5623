package model

import (
	"time"

	"github.com/google/uuid"

	"recurrent-billing/internal/domain"
)

type RecurrentState string

const (
	RecurrentStatePending      RecurrentState = "pending"       // token stored, first payment only authorized
	RecurrentStateActive       RecurrentState = "active"        // waiting for charge_at
	RecurrentStateCharging     RecurrentState = "charging"      // gateway call in flight
	RecurrentStateCharged      RecurrentState = "charged"       // link done, successor scheduled
	RecurrentStateChargeFailed RecurrentState = "charge_failed" // link failed, retry link scheduled
	RecurrentStateUserStop     RecurrentState = "user_stop"
	RecurrentStateAdminStop    RecurrentState = "admin_stop"
	RecurrentStateSystemStop   RecurrentState = "system_stop"
)

// OpenStates are the states a chain head may be in. At most one record per chain is open.
var OpenStates = []RecurrentState{RecurrentStatePending, RecurrentStateActive, RecurrentStateCharging}

// ChargeableStates may be moved into RecurrentStateCharging by the executor.
var ChargeableStates = []RecurrentState{RecurrentStatePending, RecurrentStateActive}

func (s RecurrentState) IsOpen() bool {
	return s == RecurrentStatePending || s == RecurrentStateActive || s == RecurrentStateCharging
}

func (s RecurrentState) IsTerminal() bool {
	return s == RecurrentStateUserStop || s == RecurrentStateAdminStop || s == RecurrentStateSystemStop
}

// RecurrentPayment is one link of an auto-renewal chain: the standing
// authorization to charge Token again at ChargeAt.
type RecurrentPayment struct {
	ID                     string
	ChainID                string // id of the first link of the chain
	Token                  string // gateway cid
	ParentPaymentID        string
	PaymentID              *string // payment created by this link's charge attempt
	UserID                 string
	SubscriptionTypeID     string
	NextSubscriptionTypeID *string // admin-scheduled type change for the next charge
	CustomAmount           *int64
	Gateway                string
	ChargeAt               time.Time
	ExpiresAt              *time.Time // token expiry
	Retries                int
	State                  RecurrentState
	ResultCode             string
	ResultMessage          string
	AttemptedAt            *time.Time
	Note                   string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewRecurrentPayment starts a new chain from a completed payment.
func NewRecurrentPayment(p *Payment, token string, expiresAt *time.Time, retries int, chargeAt time.Time, state RecurrentState) (*RecurrentPayment, error) {
	if p == nil || token == "" || retries < 0 || !state.IsOpen() || state == RecurrentStateCharging {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	if chargeAt.Before(now) {
		chargeAt = now
	}
	id := uuid.NewString()
	return &RecurrentPayment{
		ID:                 id,
		ChainID:            id,
		Token:              token,
		ParentPaymentID:    p.ID,
		UserID:             p.UserID,
		SubscriptionTypeID: p.SubscriptionTypeID,
		Gateway:            p.Gateway,
		ChargeAt:           chargeAt,
		ExpiresAt:          expiresAt,
		Retries:            retries,
		State:              state,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Successor builds the next link of the same chain. The receiver is not modified.
// parentPaymentID is the payment that precedes the new link.
func (rp *RecurrentPayment) Successor(parentPaymentID, subscriptionTypeID string, retries int, chargeAt time.Time) *RecurrentPayment {
	now := time.Now()
	if chargeAt.Before(now) {
		chargeAt = now
	}
	return &RecurrentPayment{
		ID:                 uuid.NewString(),
		ChainID:            rp.ChainID,
		Token:              rp.Token,
		ParentPaymentID:    parentPaymentID,
		UserID:             rp.UserID,
		SubscriptionTypeID: subscriptionTypeID,
		CustomAmount:       rp.CustomAmount,
		Gateway:            rp.Gateway,
		ChargeAt:           chargeAt,
		ExpiresAt:          rp.ExpiresAt,
		Retries:            retries,
		State:              RecurrentStateActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsChargeable reports whether the executor may attempt a charge at now.
func (rp *RecurrentPayment) IsChargeable(now time.Time) bool {
	if rp.State != RecurrentStateActive && rp.State != RecurrentStatePending {
		return false
	}
	return !rp.ChargeAt.After(now)
}

// CanStop reports whether an admin or the user may stop this link.
func (rp *RecurrentPayment) CanStop() bool {
	return rp.State.IsOpen()
}

// CanReactivate reports whether this link is eligible for reactivation.
// Token validity is checked separately against the gateway.
func (rp *RecurrentPayment) CanReactivate() bool {
	return rp.State == RecurrentStateSystemStop
}

// StateUpdate carries the columns written together with a state transition.
// Nil fields are left unchanged.
type StateUpdate struct {
	Retries       *int
	PaymentID     *string
	AttemptedAt   *time.Time
	ResultCode    *string
	ResultMessage *string
	Note          *string
}

type AuditAction string

const (
	AuditActionStop             AuditAction = "stop"
	AuditActionReactivate       AuditAction = "reactivate"
	AuditActionErase            AuditAction = "erase"
	AuditActionResolveDuplicate AuditAction = "resolve_duplicate"
	AuditActionParentFailed     AuditAction = "parent_failed"
)

// BlocksReactivation reports whether a chain carrying this entry is closed for good.
func (a AuditAction) BlocksReactivation() bool {
	return a == AuditActionErase || a == AuditActionParentFailed
}

type ActorType string

const (
	ActorAdmin  ActorType = "admin"
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// RecurrentAudit records who changed a chain outside of the charge engine.
type RecurrentAudit struct {
	ID                 string
	RecurrentPaymentID string
	ChainID            string
	Action             AuditAction
	ActorType          ActorType
	ActorID            string
	Note               string
	CreatedAt          time.Time
}

func NewRecurrentAudit(rp *RecurrentPayment, action AuditAction, actorType ActorType, actorID, note string) *RecurrentAudit {
	return &RecurrentAudit{
		ID:                 uuid.NewString(),
		RecurrentPaymentID: rp.ID,
		ChainID:            rp.ChainID,
		Action:             action,
		ActorType:          actorType,
		ActorID:            actorID,
		Note:               note,
		CreatedAt:          time.Now(),
	}
}
