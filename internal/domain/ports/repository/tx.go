package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories MUST accept NoTX and fall back to their pool.
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside one database transaction and hands the
// handle to fn as tx. fn returning an error rolls everything back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
