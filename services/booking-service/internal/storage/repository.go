package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/agendaly/agendaly/libs/db"
	"github.com/agendaly/agendaly/services/booking-service/internal/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var Migrations embed.FS

var ErrNotFound = errors.New("not found")

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// InTx runs fn inside one transaction and commits when fn returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	pgTx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&Tx{tx: pgTx, outbox: r.outbox}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// IsConflict matches unique and exclusion violations.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01")
}

// IsMalformedID matches Postgres rejecting a value that does not parse as the
// column type, which for this schema means an id that is not a UUID.
func IsMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// notFound normalises single-row lookups. A malformed id cannot name a row, so
// it is reported as not found rather than as a server error.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || IsMalformedID(err) {
		return ErrNotFound
	}
	return err
}

func newID() string {
	return uuid.NewString()
}

// querier is satisfied by both the pool and a transaction so reads can be shared.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ querier = (*db.Pool)(nil)
	_ querier = (pgx.Tx)(nil)
)
