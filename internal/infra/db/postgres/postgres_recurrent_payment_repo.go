package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/repository"
)

var _ repository.RecurrentPaymentRepository = (*recurrentPaymentRepo)(nil)

// TokenSealer encrypts tokens at rest. The record id is bound to the ciphertext.
type TokenSealer interface {
	Seal(plaintext, boundTo string) (string, error)
	Open(value, boundTo string) (string, error)
}

type recurrentPaymentRepo struct {
	pool   *pgxpool.Pool
	sealer TokenSealer // nil stores tokens as given
}

func NewRecurrentPaymentRepo(pool *pgxpool.Pool, sealer TokenSealer) *recurrentPaymentRepo {
	return &recurrentPaymentRepo{pool: pool, sealer: sealer}
}

const recurrentColumns = `id, chain_id, token, parent_payment_id, payment_id, user_id, subscription_type_id,
  next_subscription_type_id, custom_amount, gateway, charge_at, expires_at, retries, state, result_code,
  result_message, attempted_at, note, created_at, updated_at`

const openStatesSQL = `('pending', 'active', 'charging')`

func (r *recurrentPaymentRepo) scan(row pgx.Row) (*model.RecurrentPayment, error) {
	rp := &model.RecurrentPayment{}
	var state string
	if err := row.Scan(&rp.ID, &rp.ChainID, &rp.Token, &rp.ParentPaymentID, &rp.PaymentID, &rp.UserID, &rp.SubscriptionTypeID,
		&rp.NextSubscriptionTypeID, &rp.CustomAmount, &rp.Gateway, &rp.ChargeAt, &rp.ExpiresAt, &rp.Retries, &state, &rp.ResultCode,
		&rp.ResultMessage, &rp.AttemptedAt, &rp.Note, &rp.CreatedAt, &rp.UpdatedAt); err != nil {
		return nil, err
	}
	rp.State = model.RecurrentState(state)
	if r.sealer != nil {
		tok, err := r.sealer.Open(rp.Token, rp.ID)
		if err != nil {
			return nil, fmt.Errorf("open token of %s: %w", rp.ID, err)
		}
		rp.Token = tok
	}
	return rp, nil
}

func (r *recurrentPaymentRepo) one(ctx context.Context, tx repository.Tx, q string, args ...any) (*model.RecurrentPayment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	rp, err := r.scan(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return rp, nil
}

func (r *recurrentPaymentRepo) many(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.RecurrentPayment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.RecurrentPayment
	for rows.Next() {
		rp, err := r.scan(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rp)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

// Save appends a record. The partial unique indexes turn a second open record
// per chain, or a second chain per payment, into ErrAlreadyExists.
func (r *recurrentPaymentRepo) Save(ctx context.Context, tx repository.Tx, rp *model.RecurrentPayment) error {
	token := rp.Token
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(rp.Token, rp.ID)
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
		token = sealed
	}
	const q = `
INSERT INTO recurrent_payments (` + recurrentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20);`
	_, err := execSQL(ctx, r.pool, tx, q,
		rp.ID, rp.ChainID, token, rp.ParentPaymentID, rp.PaymentID, rp.UserID, rp.SubscriptionTypeID,
		rp.NextSubscriptionTypeID, rp.CustomAmount, rp.Gateway, rp.ChargeAt, rp.ExpiresAt, rp.Retries, string(rp.State), rp.ResultCode,
		rp.ResultMessage, rp.AttemptedAt, rp.Note, rp.CreatedAt, rp.UpdatedAt)
	return mapErr(err)
}

func (r *recurrentPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.RecurrentPayment, error) {
	return r.one(ctx, tx, forUpdate(`SELECT `+recurrentColumns+` FROM recurrent_payments WHERE id=$1`, tx), id)
}

func (r *recurrentPaymentRepo) FindByParentPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.RecurrentPayment, error) {
	return r.one(ctx, tx, `SELECT `+recurrentColumns+` FROM recurrent_payments WHERE parent_payment_id=$1 AND id = chain_id`, paymentID)
}

func (r *recurrentPaymentRepo) FindOpenByChain(ctx context.Context, tx repository.Tx, chainID string) (*model.RecurrentPayment, error) {
	q := forUpdate(`SELECT `+recurrentColumns+` FROM recurrent_payments WHERE chain_id=$1 AND state IN `+openStatesSQL, tx)
	return r.one(ctx, tx, q, chainID)
}

func (r *recurrentPaymentRepo) FindLatestByChain(ctx context.Context, tx repository.Tx, chainID string) (*model.RecurrentPayment, error) {
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments WHERE chain_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1;`
	return r.one(ctx, tx, q, chainID)
}

func (r *recurrentPaymentRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.RecurrentPayment, error) {
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments
 WHERE state IN ('pending', 'active') AND charge_at <= $1
 ORDER BY charge_at ASC, created_at ASC LIMIT $2;`
	return r.many(ctx, tx, q, now, limit)
}

func (r *recurrentPaymentRepo) ListStaleCharging(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.RecurrentPayment, error) {
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments
 WHERE state = 'charging' AND attempted_at < $1
 ORDER BY attempted_at ASC LIMIT $2;`
	return r.many(ctx, tx, q, olderThan, limit)
}

func (r *recurrentPaymentRepo) ListStoppedWithOpenCharge(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.RecurrentPayment, error) {
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments
 WHERE state IN ('user_stop', 'admin_stop', 'system_stop') AND attempted_at < $1
   AND payment_id IN (SELECT id FROM payments WHERE status = 'form' AND recurrent_charge)
 ORDER BY attempted_at ASC LIMIT $2;`
	return r.many(ctx, tx, q, olderThan, limit)
}

func (r *recurrentPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.RecurrentPayment, error) {
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments WHERE user_id=$1 ORDER BY created_at DESC;`
	return r.many(ctx, tx, q, userID)
}

func (r *recurrentPaymentRepo) ListOpenByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.RecurrentPayment, error) {
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments WHERE user_id=$1 AND state IN ` + openStatesSQL + ` ORDER BY created_at ASC;`
	return r.many(ctx, tx, q, userID)
}

func (r *recurrentPaymentRepo) ListOpenByGateway(ctx context.Context, tx repository.Tx, gateway, afterID string, limit int) ([]*model.RecurrentPayment, error) {
	if afterID == "" {
		const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments
 WHERE gateway=$1 AND state IN ` + openStatesSQL + ` ORDER BY id ASC LIMIT $2;`
		return r.many(ctx, tx, q, gateway, limit)
	}
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments
 WHERE gateway=$1 AND state IN ` + openStatesSQL + ` AND id > $2 ORDER BY id ASC LIMIT $3;`
	return r.many(ctx, tx, q, gateway, afterID, limit)
}

func (r *recurrentPaymentRepo) ListDuplicateCandidates(ctx context.Context, tx repository.Tx) ([]*model.RecurrentPayment, error) {
	const q = `SELECT ` + recurrentColumns + ` FROM recurrent_payments
 WHERE state IN ` + openStatesSQL + `
   AND user_id IN (
       SELECT user_id FROM recurrent_payments
        WHERE state IN ` + openStatesSQL + `
        GROUP BY user_id
       HAVING COUNT(DISTINCT chain_id) > 1)
 ORDER BY user_id, created_at;`
	return r.many(ctx, tx, q)
}

// Transition is a compare-and-swap on state. Nil update fields keep their column.
func (r *recurrentPaymentRepo) Transition(ctx context.Context, tx repository.Tx, id string, from []model.RecurrentState, to model.RecurrentState, upd model.StateUpdate) (bool, error) {
	const q = `
UPDATE recurrent_payments
   SET state = $2,
       retries = COALESCE($3, retries),
       payment_id = COALESCE($4, payment_id),
       attempted_at = COALESCE($5, attempted_at),
       result_code = COALESCE($6, result_code),
       result_message = COALESCE($7, result_message),
       note = COALESCE($8, note),
       updated_at = NOW()
 WHERE id = $1
   AND state = ANY($9);`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to),
		upd.Retries, upd.PaymentID, upd.AttemptedAt, upd.ResultCode, upd.ResultMessage, upd.Note,
		recurrentStateStrings(from))
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *recurrentPaymentRepo) StopAllOpenByUser(ctx context.Context, tx repository.Tx, userID string, to model.RecurrentState, note string) ([]*model.RecurrentPayment, error) {
	const q = `
UPDATE recurrent_payments
   SET state = $2, note = $3, updated_at = NOW()
 WHERE user_id = $1 AND state IN ` + openStatesSQL + `
RETURNING ` + recurrentColumns + `;`
	return r.many(ctx, tx, q, userID, string(to), note)
}

func (r *recurrentPaymentRepo) UpdateExpiresAt(ctx context.Context, tx repository.Tx, id string, expiresAt time.Time) error {
	cmd, err := execSQL(ctx, r.pool, tx, `UPDATE recurrent_payments SET expires_at=$2, updated_at=NOW() WHERE id=$1;`, id, expiresAt)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *recurrentPaymentRepo) SaveAudit(ctx context.Context, tx repository.Tx, a *model.RecurrentAudit) error {
	const q = `
INSERT INTO recurrent_audit (id, recurrent_payment_id, chain_id, action, actor_type, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.RecurrentPaymentID, a.ChainID, string(a.Action), string(a.ActorType), a.ActorID, a.Note, a.CreatedAt)
	return mapErr(err)
}

func (r *recurrentPaymentRepo) ListAudit(ctx context.Context, tx repository.Tx, chainID string) ([]*model.RecurrentAudit, error) {
	const q = `
SELECT id, recurrent_payment_id, chain_id, action, actor_type, actor_id, note, created_at
  FROM recurrent_audit WHERE chain_id=$1 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, chainID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.RecurrentAudit
	for rows.Next() {
		a := &model.RecurrentAudit{}
		var action, actor string
		if err := rows.Scan(&a.ID, &a.RecurrentPaymentID, &a.ChainID, &action, &actor, &a.ActorID, &a.Note, &a.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		a.Action = model.AuditAction(action)
		a.ActorType = model.ActorType(actor)
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func recurrentStateStrings(ss []model.RecurrentState) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
