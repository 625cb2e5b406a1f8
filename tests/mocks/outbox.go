package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davicafu/cqrslab/outbox"
)

// MockTx simula una transacción del store.
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockTxBeginner simula la apertura de transacciones del relay.
type MockTxBeginner struct {
	mock.Mock
}

func (m *MockTxBeginner) Begin(ctx context.Context) (outbox.Tx, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(outbox.Tx), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockStore simula el store del outbox.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Add(ctx context.Context, tx outbox.Tx, rec outbox.Record) error {
	args := m.Called(ctx, tx, rec)
	return args.Error(0)
}

func (m *MockStore) ClaimBatch(ctx context.Context, tx outbox.Tx, limit int) ([]outbox.Record, error) {
	args := m.Called(ctx, tx, limit)
	if recs := args.Get(0); recs != nil {
		return recs.([]outbox.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) MarkDispatched(ctx context.Context, tx outbox.Tx, ids []uuid.UUID) error {
	args := m.Called(ctx, tx, ids)
	return args.Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, tx outbox.Tx, ids []uuid.UUID) error {
	args := m.Called(ctx, tx, ids)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, tx outbox.Tx, id uuid.UUID) (*outbox.Record, error) {
	args := m.Called(ctx, tx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*outbox.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

// Verificación estática de que los mocks cumplen las interfaces.
var (
	_ outbox.Tx         = (*MockTx)(nil)
	_ outbox.TxBeginner = (*MockTxBeginner)(nil)
	_ outbox.Store      = (*MockStore)(nil)
)
