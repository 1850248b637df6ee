package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// MockProvider satisfies models.MetadataProvider for testing. Provider
// defaults to gemini. Calls are recorded so tests can assert on key rotation
// order.
type MockProvider struct {
	Provider     models.ProviderKind
	Catalog      []models.AIModel
	GenerateFunc func(ctx context.Context, req models.InferenceRequest) (models.Metadata, error)

	mu    sync.Mutex
	calls []models.InferenceRequest
}

func (m *MockProvider) Name() string { return string(m.Kind()) }

func (m *MockProvider) Kind() models.ProviderKind {
	if m.Provider == "" {
		return models.ProviderGemini
	}
	return m.Provider
}

func (m *MockProvider) Models() []models.AIModel { return m.Catalog }

func (m *MockProvider) Generate(ctx context.Context, req models.InferenceRequest) (models.Metadata, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.Metadata{}, nil
}

// Calls returns a copy of every request received so far.
func (m *MockProvider) Calls() []models.InferenceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.InferenceRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Keys returns the API key of every call in order.
func (m *MockProvider) Keys() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.APIKey
	}
	return out
}

// NewMockProvider returns a MockProvider that answers with metadata derived from the filename.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Catalog: []models.AIModel{{ID: "mock-v1", Name: "Mock", Speed: "fast", Provider: models.ProviderGemini, Default: true}},
		GenerateFunc: func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
			return models.Metadata{
				Title:       "Title for " + req.Filename,
				Description: "Description for " + req.Filename,
				Keywords:    []string{"mock", "stock", "photo"},
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		GenerateFunc: func(_ context.Context, _ models.InferenceRequest) (models.Metadata, error) {
			return models.Metadata{}, err
		},
	}
}

// NewBlockingProvider returns a MockProvider that blocks until ctx is cancelled.
func NewBlockingProvider() *MockProvider {
	return &MockProvider{
		GenerateFunc: func(ctx context.Context, _ models.InferenceRequest) (models.Metadata, error) {
			<-ctx.Done()
			return models.Metadata{}, ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements MetadataProvider.
var _ models.MetadataProvider = (*MockProvider)(nil)
