package rooms

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/davicafu/cqrslab/outbox"
	sqlitestore "github.com/davicafu/cqrslab/outbox/sqlite"
)

var ErrNotFound = errors.New("room not found")

// Room es la entidad del dominio de ejemplo.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Repo persiste salas en SQLite. Las escrituras exigen la transacción del
// contexto para compartirla con el outbox; las lecturas van directas al pool.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) InitSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at INTEGER NOT NULL
		)`)
	return err
}

func (r *Repo) Create(ctx context.Context, tx outbox.Tx, name string) (Room, error) {
	stx, ok := sqlitestore.SQLTx(tx)
	if !ok {
		return Room{}, outbox.ErrNoTransaction
	}

	now := time.Now().UTC()
	res, err := stx.ExecContext(ctx,
		`INSERT INTO rooms (name, status, created_at) VALUES (?, ?, ?)`,
		name, StatusOpen, now.UnixNano(),
	)
	if err != nil {
		return Room{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Room{}, err
	}
	return Room{ID: id, Name: name, Status: StatusOpen, CreatedAt: now}, nil
}

func (r *Repo) Close(ctx context.Context, tx outbox.Tx, id int64) error {
	stx, ok := sqlitestore.SQLTx(tx)
	if !ok {
		return outbox.ErrNoTransaction
	}

	res, err := stx.ExecContext(ctx,
		`UPDATE rooms SET status = ? WHERE id = ? AND status = ?`,
		StatusClosed, id, StatusOpen,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id int64) (Room, error) {
	var room Room
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at FROM rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Name, &room.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, err
	}
	room.CreatedAt = time.Unix(0, createdAt).UTC()
	return room, nil
}
