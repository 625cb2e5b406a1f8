package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/cqrslab/outbox"
)

// Store implementa outbox.Store y outbox.TxBeginner sobre SQLite. Pensado
// para despliegues locales y tests: SQLite serializa a los escritores, así
// que no hay varias réplicas del relay compitiendo por el claim.
type Store struct {
	db          *sql.DB
	maxFailures int
}

func NewStore(db *sql.DB, maxFailures int) *Store {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Store{db: db, maxFailures: maxFailures}
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }

// Tx envuelve una transacción database/sql ya abierta para compartirla con
// el emitter vía outbox.WithTx.
func Tx(tx *sql.Tx) outbox.Tx { return &sqlTx{tx: tx} }

// SQLTx recupera la *sql.Tx subyacente, para que los repositorios de negocio
// escriban en la misma transacción que el outbox.
func SQLTx(tx outbox.Tx) (*sql.Tx, bool) {
	wrapped, ok := tx.(*sqlTx)
	if !ok || wrapped == nil {
		return nil, false
	}
	return wrapped.tx, true
}

func (s *Store) Begin(ctx context.Context) (outbox.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &outbox.StorageError{Op: "begin", Err: err}
	}
	return &sqlTx{tx: tx}, nil
}

func unwrap(tx outbox.Tx) (*sql.Tx, *outbox.StorageError) {
	stx, ok := SQLTx(tx)
	if !ok {
		return nil, &outbox.StorageError{Op: "tx", Err: outbox.ErrNoTransaction}
	}
	return stx, nil
}

func (s *Store) Add(ctx context.Context, tx outbox.Tx, rec outbox.Record) error {
	stx, serr := unwrap(tx)
	if serr != nil {
		return serr
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := stx.ExecContext(ctx, `
		INSERT INTO outbox (id, topic, payload, is_compressed, failure_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, rec.ID.String(), rec.Topic, rec.Payload, rec.Compressed, rec.CreatedAt.UnixNano())
	if err != nil {
		return &outbox.StorageError{Op: "add", Err: err}
	}
	return nil
}

func (s *Store) ClaimBatch(ctx context.Context, tx outbox.Tx, limit int) ([]outbox.Record, error) {
	stx, serr := unwrap(tx)
	if serr != nil {
		return nil, serr
	}

	rows, err := stx.QueryContext(ctx, `
		SELECT id, topic, payload, is_compressed, failure_count, created_at, dispatched_at
		FROM outbox
		WHERE dispatched_at IS NULL AND failure_count < ?
		ORDER BY created_at
		LIMIT ?
	`, s.maxFailures, limit)
	if err != nil {
		return nil, &outbox.StorageError{Op: "claim", Err: err}
	}
	defer rows.Close()

	var recs []outbox.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
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
	stx, serr := unwrap(tx)
	if serr != nil {
		return serr
	}

	query := `UPDATE outbox SET dispatched_at = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC().UnixNano())
	for _, id := range ids {
		args = append(args, id.String())
	}
	if _, err := stx.ExecContext(ctx, query, args...); err != nil {
		return &outbox.StorageError{Op: "mark_dispatched", Err: err}
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, tx outbox.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	stx, serr := unwrap(tx)
	if serr != nil {
		return serr
	}

	query := `UPDATE outbox SET failure_count = failure_count + 1 WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id.String())
	}
	if _, err := stx.ExecContext(ctx, query, args...); err != nil {
		return &outbox.StorageError{Op: "mark_failed", Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tx outbox.Tx, id uuid.UUID) (*outbox.Record, error) {
	stx, serr := unwrap(tx)
	if serr != nil {
		return nil, serr
	}

	row := stx.QueryRowContext(ctx, `
		SELECT id, topic, payload, is_compressed, failure_count, created_at, dispatched_at
		FROM outbox
		WHERE id = ?
	`, id.String())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &outbox.StorageError{Op: "get", Err: err}
	}
	return &rec, nil
}

// InitSchema crea la tabla outbox si no existe.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outbox (
			id            TEXT PRIMARY KEY,
			topic         TEXT NOT NULL,
			payload       BLOB NOT NULL,
			is_compressed INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			dispatched_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (created_at);
	`)
	if err != nil {
		return &outbox.StorageError{Op: "init_schema", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (outbox.Record, error) {
	var rec outbox.Record
	var rawID string
	var createdNanos int64
	var dispatchedNanos sql.NullInt64

	if err := row.Scan(&rawID, &rec.Topic, &rec.Payload, &rec.Compressed, &rec.FailureCount, &createdNanos, &dispatchedNanos); err != nil {
		return outbox.Record{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return outbox.Record{}, err
	}
	rec.ID = id
	rec.CreatedAt = time.Unix(0, createdNanos).UTC()
	if dispatchedNanos.Valid {
		t := time.Unix(0, dispatchedNanos.Int64).UTC()
		rec.DispatchedAt = &t
	}
	return rec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Verificación en tiempo de compilación.
var (
	_ outbox.Store      = (*Store)(nil)
	_ outbox.TxBeginner = (*Store)(nil)
)
