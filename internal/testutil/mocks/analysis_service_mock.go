package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vytor/ucibridge/internal/models"
	"github.com/vytor/ucibridge/internal/services"
)

// MockAnalysisService is a mock implementation of services.AnalysisService
type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) Analyze(ctx context.Context, req services.AnalysisRequest) (*models.AnalysisRecord, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AnalysisRecord), args.Error(1)
}

func (m *MockAnalysisService) BestMove(ctx context.Context, fen string, moveTimeMS int64) (*models.CandidateRecord, error) {
	args := m.Called(ctx, fen, moveTimeMS)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CandidateRecord), args.Error(1)
}

func (m *MockAnalysisService) Notation(ctx context.Context, fen, move string) (services.NotationResult, error) {
	args := m.Called(ctx, fen, move)
	return args.Get(0).(services.NotationResult), args.Error(1)
}

func (m *MockAnalysisService) Get(ctx context.Context, id int64) (*models.AnalysisRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AnalysisRecord), args.Error(1)
}

func (m *MockAnalysisService) History(ctx context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.AnalysisRecord), args.Int(1), args.Error(2)
}
