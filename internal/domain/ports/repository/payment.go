package repository

import (
	"context"
	"time"

	"recurrent-billing/internal/domain/model"
)

// PaymentRepository is the billing ledger.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByVariableSymbol(ctx context.Context, tx Tx, vs string) (*model.Payment, error)
	// UpdateStatusIf changes the status only when the current one is in from.
	UpdateStatusIf(ctx context.Context, tx Tx, id string, from []model.PaymentStatus, to model.PaymentStatus, paidAt *time.Time) (bool, error)
	SetGatewayResult(ctx context.Context, tx Tx, id, externalID, code, message string) error
	// AddRefund increases refunded_amount and sets status in one statement.
	AddRefund(ctx context.Context, tx Tx, id string, amount int64, status model.PaymentStatus) error
	TotalAmountSum(ctx context.Context, tx Tx, from, to time.Time) (int64, error)
	ListByPeriod(ctx context.Context, tx Tx, from, to time.Time, limit int) ([]*model.Payment, error)
	// ListStaleForm returns customer checkouts still in form created before olderThan.
	ListStaleForm(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}
