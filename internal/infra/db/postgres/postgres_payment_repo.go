package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, variable_symbol, user_id, amount, additional_amount, additional_type, currency, status, gateway,
  subscription_id, subscription_type_id, recurrent_charge, external_id, refunded_amount, result_code, result_message,
  paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var addType, status string
	if err := row.Scan(&p.ID, &p.VariableSymbol, &p.UserID, &p.Amount, &p.AdditionalAmount, &addType, &p.Currency, &status, &p.Gateway,
		&p.SubscriptionID, &p.SubscriptionTypeID, &p.RecurrentCharge, &p.ExternalID, &p.RefundedAmount, &p.ResultCode, &p.ResultMessage,
		&p.PaidAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AdditionalType = model.AdditionalType(addType)
	p.Status = model.PaymentStatus(status)
	return p, nil
}

// Save inserts a new payment. Existing rows change only through the status methods.
func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19);`
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.VariableSymbol, p.UserID, p.Amount, p.AdditionalAmount, string(p.AdditionalType), p.Currency, string(p.Status), p.Gateway,
		p.SubscriptionID, p.SubscriptionTypeID, p.RecurrentCharge, p.ExternalID, p.RefundedAmount, p.ResultCode, p.ResultMessage,
		p.PaidAt, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return p, nil
}

func (r *paymentRepo) FindByVariableSymbol(ctx context.Context, tx repository.Tx, vs string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE variable_symbol=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, vs)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return p, nil
}

func (r *paymentRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id string, from []model.PaymentStatus, to model.PaymentStatus, paidAt *time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET status = $2,
       paid_at = COALESCE($3, paid_at),
       updated_at = NOW()
 WHERE id = $1
   AND status = ANY($4);`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to), paidAt, paymentStatusStrings(from))
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) SetGatewayResult(ctx context.Context, tx repository.Tx, id, externalID, code, message string) error {
	const q = `
UPDATE payments
   SET external_id = COALESCE(NULLIF($2, ''), external_id),
       result_code = $3,
       result_message = $4,
       updated_at = NOW()
 WHERE id = $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, externalID, code, message)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddRefund relies on the refunded_amount <= amount check constraint.
func (r *paymentRepo) AddRefund(ctx context.Context, tx repository.Tx, id string, amount int64, status model.PaymentStatus) error {
	const q = `
UPDATE payments
   SET refunded_amount = refunded_amount + $2,
       status = $3,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'paid';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, amount, string(status))
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrPaymentNotRefundable
	}
	return nil
}

// TotalAmountSum is the captured revenue net of refunds for payments paid in [from, to).
func (r *paymentRepo) TotalAmountSum(ctx context.Context, tx repository.Tx, from, to time.Time) (int64, error) {
	const q = `
SELECT COALESCE(SUM(amount - refunded_amount), 0)
  FROM payments
 WHERE status IN ('paid', 'refund')
   AND paid_at >= $1 AND paid_at < $2;`
	row, err := pickRow(ctx, r.pool, tx, q, from, to)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *paymentRepo) ListByPeriod(ctx context.Context, tx repository.Tx, from, to time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3;`
	return r.list(ctx, tx, q, from, to, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *paymentRepo) ListStaleForm(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
 WHERE status = 'form' AND NOT recurrent_charge AND created_at < $1
 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func paymentStatusStrings(ss []model.PaymentStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
