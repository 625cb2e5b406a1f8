package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
	"github.com/davicafu/cqrslab/compress"
	"github.com/davicafu/cqrslab/outbox"
	"github.com/davicafu/cqrslab/tests/mocks"
)

func pendingRecord(topic string, payload []byte) outbox.Record {
	return outbox.Record{
		ID:        uuid.New(),
		Topic:     topic,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func newProducer(store *mocks.MockStore, db *mocks.MockTxBeginner, b *mocks.MockBroker) *outbox.Producer {
	return outbox.NewProducer(store, db, b, compress.NewZlib(), outbox.Config{BatchSize: 10}, zap.NewNop())
}

func TestProducer_ProduceBatch_Success(t *testing.T) {
	// ARRANGE
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	rec1 := pendingRecord("room.closed", []byte(`{"room_id": 7}`))
	rec2 := pendingRecord("room.closed", []byte(`{"room_id": 8}`))

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("ClaimBatch", mock.Anything, tx, 10).Return([]outbox.Record{rec1, rec2}, nil).Once()
	b.On("Publish", mock.Anything, mock.MatchedBy(func(msg broker.Message) bool {
		return msg.Topic == "room.closed"
	})).Return(nil).Twice()
	store.On("MarkDispatched", mock.Anything, tx, []uuid.UUID{rec1.ID, rec2.ID}).Return(nil).Once()
	store.On("MarkFailed", mock.Anything, tx, []uuid.UUID(nil)).Return(nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))

	// ACT
	err := newProducer(store, db, b).ProduceBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	store.AssertExpectations(t)
	b.AssertExpectations(t)
	tx.AssertExpectations(t)
}

func TestProducer_ProduceBatch_PublishFailureAbortsWholeBatch(t *testing.T) {
	// ARRANGE
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	rec1 := pendingRecord("room.closed", []byte(`{"room_id": 7}`))
	rec2 := pendingRecord("room.closed", []byte(`{"room_id": 8}`))

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("ClaimBatch", mock.Anything, tx, 10).Return([]outbox.Record{rec1, rec2}, nil).Once()
	// El primer publish ya falla: el lote entero queda pendiente.
	b.On("Publish", mock.Anything, mock.Anything).Return(errors.New("kafka is down")).Once()
	tx.On("Rollback", mock.Anything).Return(nil).Once()

	// ACT
	err := newProducer(store, db, b).ProduceBatch(context.Background())

	// ASSERT
	assert.Error(t, err)
	store.AssertNotCalled(t, "MarkDispatched", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
	tx.AssertExpectations(t)
}

func TestProducer_ProduceBatch_CorruptRecordDoesNotBlockBatch(t *testing.T) {
	// ARRANGE
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	corrupt := pendingRecord("room.closed", []byte("not zlib data"))
	corrupt.Compressed = true // el flag dice comprimido, los bytes no lo son
	healthy := pendingRecord("room.closed", []byte(`{"room_id": 8}`))

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("ClaimBatch", mock.Anything, tx, 10).Return([]outbox.Record{corrupt, healthy}, nil).Once()
	b.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("MarkDispatched", mock.Anything, tx, []uuid.UUID{healthy.ID}).Return(nil).Once()
	store.On("MarkFailed", mock.Anything, tx, []uuid.UUID{corrupt.ID}).Return(nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))

	// ACT
	err := newProducer(store, db, b).ProduceBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	store.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestProducer_ProduceBatch_EmptyBatch(t *testing.T) {
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("ClaimBatch", mock.Anything, tx, 10).Return([]outbox.Record{}, nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))

	err := newProducer(store, db, b).ProduceBatch(context.Background())

	require.NoError(t, err)
	b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "MarkDispatched", mock.Anything, mock.Anything, mock.Anything)
}

func TestProducer_ProduceBatch_DecompressesBeforePublish(t *testing.T) {
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	plain := []byte(`{"room_id": 7}`)
	compressed, err := compress.NewZlib().Compress(plain)
	require.NoError(t, err)

	rec := pendingRecord("room.closed", compressed)
	rec.Compressed = true

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("ClaimBatch", mock.Anything, tx, 10).Return([]outbox.Record{rec}, nil).Once()
	b.On("Publish", mock.Anything, mock.MatchedBy(func(msg broker.Message) bool {
		return string(msg.Value) == string(plain)
	})).Return(nil).Once()
	store.On("MarkDispatched", mock.Anything, tx, []uuid.UUID{rec.ID}).Return(nil).Once()
	store.On("MarkFailed", mock.Anything, tx, []uuid.UUID(nil)).Return(nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))

	require.NoError(t, newProducer(store, db, b).ProduceBatch(context.Background()))
	b.AssertExpectations(t)
}

func TestProducer_ProduceBatch_AuditSinkReceivesDispatched(t *testing.T) {
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)
	audit := new(mocks.MockAuditor)

	rec := pendingRecord("room.closed", []byte(`{"room_id": 7}`))

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("ClaimBatch", mock.Anything, tx, 10).Return([]outbox.Record{rec}, nil).Once()
	b.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("MarkDispatched", mock.Anything, tx, []uuid.UUID{rec.ID}).Return(nil).Once()
	store.On("MarkFailed", mock.Anything, tx, []uuid.UUID(nil)).Return(nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))
	audit.On("RecordDispatched", mock.Anything, []outbox.Record{rec}).Return(nil).Once()

	p := newProducer(store, db, b).WithAuditor(audit)
	require.NoError(t, p.ProduceBatch(context.Background()))
	audit.AssertExpectations(t)
}

func TestProducer_ProduceOne_Success(t *testing.T) {
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	rec := pendingRecord("room.closed", []byte(`{"room_id": 7}`))

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("Get", mock.Anything, tx, rec.ID).Return(&rec, nil).Once()
	b.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("MarkDispatched", mock.Anything, tx, []uuid.UUID{rec.ID}).Return(nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))

	require.NoError(t, newProducer(store, db, b).ProduceOne(context.Background(), rec.ID))
	store.AssertExpectations(t)
}

func TestProducer_ProduceOne_AlreadyDispatched(t *testing.T) {
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	now := time.Now().UTC()
	rec := pendingRecord("room.closed", []byte(`{"room_id": 7}`))
	rec.DispatchedAt = &now

	db.On("Begin", mock.Anything).Return(tx, nil).Once()
	store.On("Get", mock.Anything, tx, rec.ID).Return(&rec, nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))

	require.NoError(t, newProducer(store, db, b).ProduceOne(context.Background(), rec.ID))
	b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestProducer_Start_StopsOnCancel(t *testing.T) {
	store := new(mocks.MockStore)
	db := new(mocks.MockTxBeginner)
	b := new(mocks.MockBroker)
	tx := new(mocks.MockTx)

	db.On("Begin", mock.Anything).Return(tx, nil)
	store.On("ClaimBatch", mock.Anything, tx, 10).Return([]outbox.Record{}, nil)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(errors.New("already committed"))

	p := outbox.NewProducer(store, db, b, nil, outbox.Config{Interval: 5 * time.Millisecond, BatchSize: 10}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer did not stop after context cancellation")
	}
}
