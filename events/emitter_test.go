package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
	"github.com/davicafu/cqrslab/compress"
	"github.com/davicafu/cqrslab/events"
	"github.com/davicafu/cqrslab/outbox"
	"github.com/davicafu/cqrslab/tests/mocks"
)

func TestEmitter_DirectMode_PublishesToBroker(t *testing.T) {
	// ARRANGE
	b := new(mocks.MockBroker)
	emitter := events.NewEmitter(b, zap.NewNop())

	event := events.NewECST("RoomClosed", map[string]any{"room_id": 7})
	b.On("Publish", mock.Anything, mock.MatchedBy(func(msg broker.Message) bool {
		return msg.Topic == "room.closed" &&
			string(msg.Value) == `{"room_id":7}` &&
			msg.Headers[broker.HeaderEventName] == "RoomClosed"
	})).Return(nil).Once()

	// ACT
	err := emitter.Emit(context.Background(), event)

	// ASSERT
	require.NoError(t, err)
	b.AssertExpectations(t)
}

func TestEmitter_DirectMode_SurfacesPublishFailure(t *testing.T) {
	b := new(mocks.MockBroker)
	emitter := events.NewEmitter(b, zap.NewNop())

	b.On("Publish", mock.Anything, mock.Anything).Return(errors.New("kafka is down")).Once()

	err := emitter.Emit(context.Background(), events.NewECST("RoomClosed", map[string]any{"room_id": 7}))
	assert.Error(t, err)
}

func TestEmitter_OutboxMode_AddsRecordWithinCallerTx(t *testing.T) {
	// ARRANGE
	b := new(mocks.MockBroker)
	store := new(mocks.MockStore)
	tx := new(mocks.MockTx)
	emitter := events.NewEmitter(b, zap.NewNop(), events.WithStore(store))

	event := events.NewECST("RoomClosed", map[string]any{"room_id": 7})
	store.On("Add", mock.Anything, tx, mock.MatchedBy(func(rec outbox.Record) bool {
		return rec.ID == event.EventID() &&
			rec.Topic == "room.closed" &&
			string(rec.Payload) == `{"room_id":7}` &&
			!rec.Compressed
	})).Return(nil).Once()

	ctx := outbox.WithTx(context.Background(), tx)

	// ACT
	err := emitter.Emit(ctx, event)

	// ASSERT
	require.NoError(t, err)
	store.AssertExpectations(t)
	b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestEmitter_OutboxMode_CompressesPayload(t *testing.T) {
	b := new(mocks.MockBroker)
	store := new(mocks.MockStore)
	tx := new(mocks.MockTx)
	codec := compress.NewZlib()
	emitter := events.NewEmitter(b, zap.NewNop(),
		events.WithStore(store),
		events.WithCompressor(codec),
	)

	store.On("Add", mock.Anything, tx, mock.MatchedBy(func(rec outbox.Record) bool {
		if !rec.Compressed {
			return false
		}
		plain, err := codec.Decompress(rec.Payload)
		return err == nil && string(plain) == `{"room_id":7}`
	})).Return(nil).Once()

	ctx := outbox.WithTx(context.Background(), tx)
	err := emitter.Emit(ctx, events.NewECST("RoomClosed", map[string]any{"room_id": 7}))

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestEmitter_NoTxInContext_FallsBackToDirectPublish(t *testing.T) {
	b := new(mocks.MockBroker)
	store := new(mocks.MockStore)
	emitter := events.NewEmitter(b, zap.NewNop(), events.WithStore(store))

	b.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	err := emitter.Emit(context.Background(), events.NewECST("RoomClosed", map[string]any{"room_id": 7}))

	require.NoError(t, err)
	b.AssertExpectations(t)
	store.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmitter_UnserializablePayload(t *testing.T) {
	b := new(mocks.MockBroker)
	emitter := events.NewEmitter(b, zap.NewNop())

	// Un canal no es serializable a JSON.
	err := emitter.Emit(context.Background(), events.NewECST("RoomClosed", make(chan int)))

	var serr *events.SerializationError
	require.Error(t, err)
	assert.True(t, errors.As(err, &serr))
	b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestEmitter_NoEventsIsNoop(t *testing.T) {
	b := new(mocks.MockBroker)
	emitter := events.NewEmitter(b, zap.NewNop())

	require.NoError(t, emitter.Emit(context.Background()))
	b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestEmitter_DirectMode_UsesPartitionKey(t *testing.T) {
	b := new(mocks.MockBroker)
	emitter := events.NewEmitter(b, zap.NewNop())

	event := keyedEvent{ECSTEvent: events.NewECST("RoomClosed", map[string]any{"room_id": 7}), key: "room-7"}
	b.On("Publish", mock.Anything, mock.MatchedBy(func(msg broker.Message) bool {
		return string(msg.Key) == "room-7"
	})).Return(nil).Once()

	require.NoError(t, emitter.Emit(context.Background(), event))
	b.AssertExpectations(t)
}

type keyedEvent struct {
	events.ECSTEvent
	key string
}

func (e keyedEvent) PartitionKey() string { return e.key }
