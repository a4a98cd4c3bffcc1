package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kirinyoku/seatline/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Pool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	DB
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Options struct {
	// IsoLevel defaults to read committed; the partial unique index on
	// active legs is what serializes claims.
	IsoLevel pgx.TxIsoLevel
	// LockTimeout bounds how long a statement waits on a contended row or
	// index entry. Zero leaves the server default.
	LockTimeout time.Duration
}

type Store struct {
	pool Pool
	opts Options
}

func NewStore(pool Pool, opts Options) *Store {
	if opts.IsoLevel == "" {
		opts.IsoLevel = pgx.ReadCommitted
	}

	return &Store{
		pool: pool,
		opts: opts,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Repos) error,
) error {
	const op = "postgres.Store.RunTx"

	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(ctx, txRepos{pool: s.pool, db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, translateDBErr(err))
	}

	return nil
}

func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   s.opts.IsoLevel,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}

	if s.opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.opts.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}

	return tx, nil
}

func (s *Store) Inventory() repository.InventoryRepo {
	return &InventoryRepo{pool: s.pool}
}

func (s *Store) Bookings() repository.BookingRepo {
	return &BookingRepo{pool: s.pool, store: s}
}

type txRepos struct {
	pool Pool
	db   DB
}

func (t txRepos) Inventory() repository.InventoryRepo {
	return (&InventoryRepo{pool: t.pool}).With(t.db)
}

func (t txRepos) Bookings() repository.BookingRepo {
	return (&BookingRepo{pool: t.pool}).With(t.db)
}
