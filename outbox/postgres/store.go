package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davicafu/cqrslab/outbox"
)

// Store implementa outbox.Store y outbox.TxBeginner sobre PostgreSQL.
//
// El claim usa FOR UPDATE SKIP LOCKED: varias réplicas del relay obtienen
// lotes disjuntos en vez de serializarse contra los mismos locks de fila.
type Store struct {
	pool        *pgxpool.Pool
	maxFailures int
}

func NewStore(pool *pgxpool.Pool, maxFailures int) *Store {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Store{pool: pool, maxFailures: maxFailures}
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Tx envuelve una transacción pgx ya abierta (la de la escritura de negocio)
// para compartirla con el emitter vía outbox.WithTx.
func Tx(tx pgx.Tx) outbox.Tx { return &pgxTx{tx: tx} }

func (s *Store) Begin(ctx context.Context) (outbox.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &outbox.StorageError{Op: "begin", Err: err}
	}
	return &pgxTx{tx: tx}, nil
}

func unwrap(tx outbox.Tx) (pgx.Tx, *outbox.StorageError) {
	wrapped, ok := tx.(*pgxTx)
	if !ok || wrapped == nil {
		return nil, &outbox.StorageError{Op: "tx", Err: outbox.ErrNoTransaction}
	}
	return wrapped.tx, nil
}

func (s *Store) Add(ctx context.Context, tx outbox.Tx, rec outbox.Record) error {
	ptx, serr := unwrap(tx)
	if serr != nil {
		return serr
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := ptx.Exec(ctx, `
		INSERT INTO outbox (id, topic, payload, is_compressed, failure_count, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, rec.ID, rec.Topic, rec.Payload, rec.Compressed, rec.CreatedAt)
	if err != nil {
		return &outbox.StorageError{Op: "add", Err: err}
	}
	return nil
}

func (s *Store) ClaimBatch(ctx context.Context, tx outbox.Tx, limit int) ([]outbox.Record, error) {
	ptx, serr := unwrap(tx)
	if serr != nil {
		return nil, serr
	}

	rows, err := ptx.Query(ctx, `
		SELECT id, topic, payload, is_compressed, failure_count, created_at, dispatched_at
		FROM outbox
		WHERE dispatched_at IS NULL AND failure_count < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, s.maxFailures, limit)
	if err != nil {
		return nil, &outbox.StorageError{Op: "claim", Err: err}
	}
	defer rows.Close()

	var recs []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Payload, &rec.Compressed, &rec.FailureCount, &rec.CreatedAt, &rec.DispatchedAt); err != nil {
			return nil, &outbox.StorageError{Op: "claim", Err: err}
		}
		recs = append(recs, rec)
	}
	if rows.Err() != nil {
		return nil, &outbox.StorageError{Op: "claim", Err: rows.Err()}
	}
	return recs, nil
}

func (s *Store) MarkDispatched(ctx context.Context, tx outbox.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	ptx, serr := unwrap(tx)
	if serr != nil {
		return serr
	}

	_, err := ptx.Exec(ctx, `
		UPDATE outbox SET dispatched_at = now() WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return &outbox.StorageError{Op: "mark_dispatched", Err: err}
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, tx outbox.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	ptx, serr := unwrap(tx)
	if serr != nil {
		return serr
	}

	_, err := ptx.Exec(ctx, `
		UPDATE outbox SET failure_count = failure_count + 1 WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return &outbox.StorageError{Op: "mark_failed", Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tx outbox.Tx, id uuid.UUID) (*outbox.Record, error) {
	ptx, serr := unwrap(tx)
	if serr != nil {
		return nil, serr
	}

	var rec outbox.Record
	err := ptx.QueryRow(ctx, `
		SELECT id, topic, payload, is_compressed, failure_count, created_at, dispatched_at
		FROM outbox
		WHERE id = $1
		FOR UPDATE SKIP LOCKED
	`, id).Scan(&rec.ID, &rec.Topic, &rec.Payload, &rec.Compressed, &rec.FailureCount, &rec.CreatedAt, &rec.DispatchedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &outbox.StorageError{Op: "get", Err: err}
	}
	return &rec, nil
}

// InitSchema crea la tabla outbox si no existe. dispatched_at solo lo escribe
// el relay.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outbox (
			id            UUID PRIMARY KEY,
			topic         TEXT NOT NULL,
			payload       BYTEA NOT NULL,
			is_compressed BOOLEAN NOT NULL DEFAULT FALSE,
			failure_count SMALLINT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			dispatched_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS outbox_pending_idx
			ON outbox (created_at) WHERE dispatched_at IS NULL;
	`)
	if err != nil {
		return &outbox.StorageError{Op: "init_schema", Err: err}
	}
	return nil
}

// Verificación en tiempo de compilación.
var (
	_ outbox.Store      = (*Store)(nil)
	_ outbox.TxBeginner = (*Store)(nil)
)
