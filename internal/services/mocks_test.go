package services

import (
	"context"

	"github.com/openbank/ledger/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockAuthority struct {
	mock.Mock
}

func (m *MockAuthority) IsAllowed(ctx context.Context, q AuthorityQuery) (int32, error) {
	args := m.Called(ctx, q)
	return int32(args.Int(0)), args.Error(1)
}

func (m *MockAuthority) IsBarred(ctx context.Context, q AuthorityQuery) (int32, error) {
	args := m.Called(ctx, q)
	return int32(args.Int(0)), args.Error(1)
}

type MockSettler struct {
	mock.Mock
}

func (m *MockSettler) Transfer(ctx context.Context, order TransferOrder) (uint8, error) {
	args := m.Called(ctx, order)
	return uint8(args.Int(0)), args.Error(1)
}

type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Save(ctx context.Context, state *models.LedgerState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

type MockPaymentFeed struct {
	mock.Mock
}

func (m *MockPaymentFeed) Publish(ctx context.Context, p models.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
