package database

import (
	"context"

	"github.com/npezzotti/go-cloudclip/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageLedger struct {
	mock.Mock
}

func (m *MockMessageLedger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageLedger) CreateMessage(ctx context.Context, msg types.Message) (int64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockMessageLedger) DeleteMessages(ctx context.Context, ids ...int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}
func (m *MockMessageLedger) ListMessages(ctx context.Context, room string) ([]types.Message, error) {
	args := m.Called(ctx, room)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageLedger) Close() error {
	args := m.Called()
	return args.Error(0)
}
