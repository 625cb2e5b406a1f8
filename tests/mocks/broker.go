package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davicafu/cqrslab/broker"
	"github.com/davicafu/cqrslab/outbox"
)

// MockBroker simula el puerto de publicación.
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(ctx context.Context, msg broker.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockAuditor simula el sink de auditoría del relay.
type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) RecordDispatched(ctx context.Context, recs []outbox.Record) error {
	args := m.Called(ctx, recs)
	return args.Error(0)
}

// Verificación estática de que los mocks cumplen las interfaces.
var (
	_ broker.Broker  = (*MockBroker)(nil)
	_ outbox.Auditor = (*MockAuditor)(nil)
)
