package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// --- ModelInvoker mock ---

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*InvokeResult), args.Error(1)
}

// --- Extractor mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Discover(ctx context.Context, documentID string) (*Discovery, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Discovery), args.Error(1)
}

func (m *mockExtractor) ExtractPage(ctx context.Context, documentID string, page int) (string, error) {
	args := m.Called(ctx, documentID, page)
	return args.String(0), args.Error(1)
}

func (m *mockExtractor) ExtractImages(ctx context.Context, documentID string, page int) ([]ImageRef, error) {
	args := m.Called(ctx, documentID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ImageRef), args.Error(1)
}

// --- Embedder mock ---

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	args := m.Called(ctx, inputs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float64), args.Error(1)
}

// stubEmbedder returns a fixed-dimension vector derived from input length,
// so distinct texts get distinct directions.
type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i, in := range inputs {
		out[i] = []float64{float64(len(in)), float64(len(in)%7) + 1, 1}
	}
	return out, nil
}
