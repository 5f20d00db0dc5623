package repository

import (
	"context"
	"time"

	"recurrent-billing/internal/domain/model"
)

// RecurrentPaymentRepository is the single source of truth for chain state.
// Links are appended with Save; afterwards only the state columns change, and
// only through Transition or the bulk stop.
type RecurrentPaymentRepository interface {
	Save(ctx context.Context, tx Tx, rp *model.RecurrentPayment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.RecurrentPayment, error)
	FindByParentPayment(ctx context.Context, tx Tx, paymentID string) (*model.RecurrentPayment, error)
	// FindOpenByChain returns the chain head in an open state, or ErrNotFound.
	FindOpenByChain(ctx context.Context, tx Tx, chainID string) (*model.RecurrentPayment, error)
	// FindLatestByChain returns the most recently appended link of the chain.
	FindLatestByChain(ctx context.Context, tx Tx, chainID string) (*model.RecurrentPayment, error)

	// ListDue returns chargeable records with charge_at <= now, oldest first.
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.RecurrentPayment, error)
	ListStaleCharging(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.RecurrentPayment, error)
	// ListStoppedWithOpenCharge returns stopped links whose charge payment is
	// still form, attempted before olderThan.
	ListStoppedWithOpenCharge(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.RecurrentPayment, error)
	// ListByUser returns every link of the user, newest first.
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.RecurrentPayment, error)
	ListOpenByUser(ctx context.Context, tx Tx, userID string) ([]*model.RecurrentPayment, error)
	// ListOpenByGateway pages open records of a gateway by id (keyset, afterID exclusive).
	ListOpenByGateway(ctx context.Context, tx Tx, gateway, afterID string, limit int) ([]*model.RecurrentPayment, error)
	// ListDuplicateCandidates returns the open records of users holding open
	// records in more than one chain.
	ListDuplicateCandidates(ctx context.Context, tx Tx) ([]*model.RecurrentPayment, error)

	// Transition moves id from one of from to to (compare-and-swap). It reports
	// false when the record was not in any of from.
	Transition(ctx context.Context, tx Tx, id string, from []model.RecurrentState, to model.RecurrentState, upd model.StateUpdate) (bool, error)
	// StopAllOpenByUser moves every open record of the user to to and returns them.
	StopAllOpenByUser(ctx context.Context, tx Tx, userID string, to model.RecurrentState, note string) ([]*model.RecurrentPayment, error)
	UpdateExpiresAt(ctx context.Context, tx Tx, id string, expiresAt time.Time) error

	SaveAudit(ctx context.Context, tx Tx, a *model.RecurrentAudit) error
	ListAudit(ctx context.Context, tx Tx, chainID string) ([]*model.RecurrentAudit, error)
}
