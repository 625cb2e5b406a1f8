package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/davicafu/cqrslab/outbox"
	"github.com/davicafu/cqrslab/outbox/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, sqlite.InitSchema(db))
	return sqlite.NewStore(db, 3)
}

func addRecord(t *testing.T, store *sqlite.Store, rec outbox.Record) {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, tx, rec))
	require.NoError(t, tx.Commit(ctx))
}

func TestStore_AddRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	rec := outbox.Record{ID: uuid.New(), Topic: "room.closed", Payload: []byte(`{"room_id": 7}`)}
	require.NoError(t, store.Add(ctx, tx, rec))
	require.NoError(t, tx.Rollback(ctx))

	// Tras el rollback no queda ningún registro: la durabilidad del mensaje
	// va atada a la de la escritura de negocio.
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Rollback(ctx)

	recs, err := store.ClaimBatch(ctx, tx2, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_ClaimBatch_OldestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now().UTC()
	newest := outbox.Record{ID: uuid.New(), Topic: "t", Payload: []byte("c"), CreatedAt: base.Add(2 * time.Second)}
	oldest := outbox.Record{ID: uuid.New(), Topic: "t", Payload: []byte("a"), CreatedAt: base}
	middle := outbox.Record{ID: uuid.New(), Topic: "t", Payload: []byte("b"), CreatedAt: base.Add(time.Second)}

	for _, rec := range []outbox.Record{newest, oldest, middle} {
		addRecord(t, store, rec)
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	recs, err := store.ClaimBatch(ctx, tx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, oldest.ID, recs[0].ID)
	assert.Equal(t, middle.ID, recs[1].ID)
}

func TestStore_MarkDispatchedExcludesFromClaims(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := outbox.Record{ID: uuid.New(), Topic: "room.closed", Payload: []byte(`{"room_id": 7}`)}
	addRecord(t, store, rec)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkDispatched(ctx, tx, []uuid.UUID{rec.ID}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Rollback(ctx)

	recs, err := store.ClaimBatch(ctx, tx2, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	got, err := store.Get(ctx, tx2, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Dispatched())
}

func TestStore_MarkFailedParksRecordAtCap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t) // maxFailures = 3

	rec := outbox.Record{ID: uuid.New(), Topic: "room.closed", Payload: []byte("corrupt")}
	addRecord(t, store, rec)

	for i := 0; i < 3; i++ {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, store.MarkFailed(ctx, tx, []uuid.UUID{rec.ID}))
		require.NoError(t, tx.Commit(ctx))
	}

	// Con el contador al máximo, el registro queda aparcado fuera del claim.
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	recs, err := store.ClaimBatch(ctx, tx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	got, err := store.Get(ctx, tx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.FailureCount)
	assert.False(t, got.Dispatched())
}

func TestStore_Get_Missing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	got, err := store.Get(ctx, tx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RejectsForeignTransaction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.Add(ctx, nil, outbox.Record{ID: uuid.New(), Topic: "t", Payload: []byte("x")})

	var serr *outbox.StorageError
	require.Error(t, err)
	assert.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, outbox.ErrNoTransaction)
}
