package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX Tx

// TransactionManager executes fn inside one database transaction and passes
// the handle through tx. Repositories accept a nil tx and then run on the pool.
// With a non-nil tx, reads that precede a state change lock their rows.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
