package batch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stockmeta/internal/ai"
	"github.com/kiranshivaraju/stockmeta/internal/ai/mock"
	"github.com/kiranshivaraju/stockmeta/internal/batch"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, pool batch.CredentialPool, provider models.MetadataProvider) *batch.Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := batch.NewManager(ctx, pool, ai.NewRegistryFrom(provider), testOptions(&sleepRecorder{}))
	t.Cleanup(m.Shutdown)
	return m
}

func startRequest(names ...string) batch.StartRequest {
	return batch.StartRequest{
		Provider: models.ProviderGemini,
		Model:    "mock-v1",
		Settings: models.DefaultSettings(),
		Jobs:     jobs(names...),
	}
}

func waitFor(t *testing.T, m *batch.Manager, id uuid.UUID) batch.Info {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx, id))
	info, err := m.Get(id)
	require.NoError(t, err)
	return info
}

func TestManager_StartReturnsPendingSnapshot(t *testing.T) {
	m := newTestManager(t, newFakePool("A"), mock.NewMockProvider())

	info, err := m.Start(startRequest("1.jpg", "2.jpg"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, info.ID)
	assert.Len(t, info.Records, 2)
	assert.Equal(t, "mock-v1", info.Model)

	info = waitFor(t, m, info.ID)
	assert.Equal(t, batch.StateFinished, info.State)
	assert.Equal(t, 2, info.Stats.Completed)
}

func TestManager_Preconditions(t *testing.T) {
	m := newTestManager(t, newFakePool(), mock.NewMockProvider())

	_, err := m.Start(startRequest())
	assert.ErrorIs(t, err, batch.ErrNoFiles)

	_, err = m.Start(startRequest("1.jpg"))
	assert.ErrorIs(t, err, batch.ErrNoActiveCredentials)
	assert.Empty(t, m.List())

	req := startRequest("1.jpg")
	req.Provider = models.ProviderOpenAI
	_, err = m.Start(req)
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
}

func TestManager_OneActiveRun(t *testing.T) {
	m := newTestManager(t, newFakePool("A"), mock.NewBlockingProvider())

	first, err := m.Start(startRequest("1.jpg"))
	require.NoError(t, err)

	_, err = m.Start(startRequest("2.jpg"))
	assert.ErrorIs(t, err, batch.ErrBatchActive)

	require.NoError(t, m.Reset(first.ID))
	_, err = m.Get(first.ID)
	assert.ErrorIs(t, err, batch.ErrBatchNotFound)

	_, err = m.Start(startRequest("2.jpg"))
	assert.NoError(t, err)
}

func TestManager_PauseAndResume(t *testing.T) {
	m := newTestManager(t, newFakePool("A"), mock.NewBlockingProvider())

	info, err := m.Start(startRequest("1.jpg", "2.jpg"))
	require.NoError(t, err)

	paused, err := m.Pause(info.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatePaused, paused.State)

	resumed, err := m.Resume(info.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.StateRunning, resumed.State)

	_, err = m.Pause(uuid.New())
	assert.ErrorIs(t, err, batch.ErrBatchNotFound)
}

func TestManager_PauseFinishedRun(t *testing.T) {
	m := newTestManager(t, newFakePool("A"), mock.NewMockProvider())
	info, err := m.Start(startRequest("1.jpg"))
	require.NoError(t, err)
	waitFor(t, m, info.ID)

	_, err = m.Pause(info.ID)
	assert.ErrorIs(t, err, batch.ErrBatchNotRunning)
}

func TestManager_Retry(t *testing.T) {
	provider := mock.NewMockProvider()
	var mu sync.Mutex
	failing := true
	provider.GenerateFunc = func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing && req.Filename == "2.jpg" {
			return models.Metadata{}, models.NewInferenceError(models.ErrorAPI, "boom")
		}
		return okMetadata("ok"), nil
	}
	m := newTestManager(t, newFakePool("A"), provider)

	info, err := m.Start(startRequest("1.jpg", "2.jpg", "3.jpg"))
	require.NoError(t, err)
	info = waitFor(t, m, info.ID)
	assert.Equal(t, 1, info.Stats.Failed)

	mu.Lock()
	failing = false
	mu.Unlock()

	_, err = m.Retry(info.ID)
	require.NoError(t, err)
	info = waitFor(t, m, info.ID)
	assert.Equal(t, 3, info.Stats.Completed)
	assert.Len(t, provider.Calls(), 4)

	_, err = m.Retry(uuid.New())
	assert.ErrorIs(t, err, batch.ErrBatchNotFound)
}

func TestManager_OnFinish(t *testing.T) {
	m := newTestManager(t, newFakePool("A"), mock.NewMockProvider())
	finished := make(chan batch.Info, 1)
	m.OnFinish = func(info batch.Info) { finished <- info }

	_, err := m.Start(startRequest("1.jpg"))
	require.NoError(t, err)

	select {
	case info := <-finished:
		assert.Equal(t, 1, info.Stats.Completed)
	case <-time.After(5 * time.Second):
		t.Fatal("OnFinish not called")
	}
}

func TestManager_ListOrder(t *testing.T) {
	m := newTestManager(t, newFakePool("A"), mock.NewMockProvider())

	a, err := m.Start(startRequest("1.jpg"))
	require.NoError(t, err)
	waitFor(t, m, a.ID)
	time.Sleep(2 * time.Millisecond)
	b, err := m.Start(startRequest("2.jpg"))
	require.NoError(t, err)
	waitFor(t, m, b.ID)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}
