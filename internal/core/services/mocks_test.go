package services_test

import (
	"context"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockEntryRepository is a mock implementation of EntryRepository
type MockEntryRepository struct {
	mock.Mock
}

func (m *MockEntryRepository) Insert(ctx context.Context, entry *domain.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockEntryRepository) Get(ctx context.Context, condition domain.ConditionType, id int64) (*domain.Entry, error) {
	args := m.Called(ctx, condition, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Entry), args.Error(1)
}

func (m *MockEntryRepository) List(ctx context.Context, condition domain.ConditionType, filter ports.EntryFilter) ([]*domain.Entry, error) {
	args := m.Called(ctx, condition, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Entry), args.Error(1)
}

func (m *MockEntryRepository) Count(ctx context.Context, condition domain.ConditionType, filter ports.EntryFilter) (int64, error) {
	args := m.Called(ctx, condition, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEntryRepository) LatestPerPatient(ctx context.Context, condition domain.ConditionType) (map[int64]*domain.Entry, error) {
	args := m.Called(ctx, condition)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*domain.Entry), args.Error(1)
}

func (m *MockEntryRepository) Stats(ctx context.Context, condition domain.ConditionType, since time.Time) (*ports.ConditionStats, error) {
	args := m.Called(ctx, condition, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.ConditionStats), args.Error(1)
}

func (m *MockEntryRepository) Exists(ctx context.Context, condition domain.ConditionType, patientID int64, date string) (bool, error) {
	args := m.Called(ctx, condition, patientID, date)
	return args.Bool(0), args.Error(1)
}

func (m *MockEntryRepository) VerifySchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockAlertPublisher is a mock implementation of AlertPublisher
type MockAlertPublisher struct {
	mock.Mock
}

func (m *MockAlertPublisher) PublishAlert(ctx context.Context, entry *domain.Entry, classification domain.Classification) error {
	args := m.Called(ctx, entry, classification)
	return args.Error(0)
}

// MockStatsCache is a mock implementation of StatsCache
type MockStatsCache struct {
	mock.Mock
}

func (m *MockStatsCache) Get(ctx context.Context) (*ports.DashboardStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.DashboardStats), args.Error(1)
}

func (m *MockStatsCache) Set(ctx context.Context, stats *ports.DashboardStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

func (m *MockStatsCache) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
