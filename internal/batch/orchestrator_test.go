package batch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stockmeta/internal/ai/mock"
	"github.com/kiranshivaraju/stockmeta/internal/batch"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles ---

type fakePool struct {
	mu        sync.Mutex
	creds     []models.Credential
	successes map[uuid.UUID]int
	failures  map[uuid.UUID]int
}

func newFakePool(secrets ...string) *fakePool {
	p := &fakePool{successes: map[uuid.UUID]int{}, failures: map[uuid.UUID]int{}}
	for i, s := range secrets {
		p.creds = append(p.creds, models.Credential{
			ID:          uuid.New(),
			Secret:      s,
			DisplayName: fmt.Sprintf("key %d", i+1),
			Provider:    models.ProviderGemini,
			Active:      true,
		})
	}
	return p
}

func (p *fakePool) ListActive(provider models.ProviderKind) []models.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Credential
	for _, c := range p.creds {
		if c.Active && c.Provider == provider {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakePool) RecordSuccess(_ context.Context, id uuid.UUID) {
	p.mu.Lock()
	p.successes[id]++
	p.mu.Unlock()
}

func (p *fakePool) RecordFailure(_ context.Context, id uuid.UUID) {
	p.mu.Lock()
	p.failures[id]++
	p.mu.Unlock()
}

func (p *fakePool) totalFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.failures {
		n += v
	}
	return n
}

type fakeSource struct {
	name    string
	loadErr error
}

func (s fakeSource) Name() string     { return s.name }
func (s fakeSource) MimeType() string { return "image/jpeg" }
func (s fakeSource) Load() ([]byte, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return []byte("img:" + s.name), nil
}

func jobs(names ...string) []models.Job {
	out := make([]models.Job, len(names))
	for i, n := range names {
		out[i] = models.Job{Index: i, Source: fakeSource{name: n}}
	}
	return out
}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == d {
			n++
		}
	}
	return n
}

func testOptions(sr *sleepRecorder) batch.Options {
	return batch.Options{
		Settings:         models.DefaultSettings(),
		RequestDelay:     time.Second,
		RateLimitBackoff: 2 * time.Second,
		PollInterval:     time.Millisecond,
		Sleep:            sr.sleep,
	}
}

func okMetadata(title string) models.Metadata {
	return models.Metadata{Title: title, Description: "desc", Keywords: []string{"a", "b"}}
}

func rotateErr(kind models.ErrorKind) error {
	return &models.InferenceError{Kind: kind, Message: string(kind) + " failure", ShouldRotateKey: true}
}

// --- tests ---

func TestRun_AllSucceed(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewMockProvider()
	sr := &sleepRecorder{}
	o := batch.NewOrchestrator(pool, provider, testOptions(sr))

	require.NoError(t, o.Run(context.Background(), jobs("a.jpg", "b.jpg", "c.jpg")))

	snap := o.Snapshot()
	assert.Equal(t, batch.StateFinished, snap.State)
	assert.Equal(t, 3, snap.Stats.Completed)
	assert.Equal(t, 100, snap.Progress)
	require.NotNil(t, snap.Stats.StartedAt)
	require.NotNil(t, snap.Stats.EndedAt)
	for i, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		assert.Equal(t, name, snap.Records[i].Filename)
		assert.Equal(t, models.JobStatusCompleted, snap.Records[i].Status)
		assert.NotNil(t, snap.Records[i].ProcessedAt)
	}
	assert.Equal(t, 2, sr.count(time.Second), "no delay after the last file")
}

func TestRun_StatsInvariantHoldsInEverySnapshot(t *testing.T) {
	pool := newFakePool("A", "B")
	provider := mock.NewMockProvider()
	calls := 0
	provider.GenerateFunc = func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
		calls++
		if calls%3 == 0 {
			return models.Metadata{}, models.NewInferenceError(models.ErrorAPI, "boom")
		}
		return okMetadata(req.Filename), nil
	}

	var snaps []batch.Snapshot
	opts := testOptions(&sleepRecorder{})
	opts.Observer = func(s batch.Snapshot) { snaps = append(snaps, s) }
	o := batch.NewOrchestrator(pool, provider, opts)

	require.NoError(t, o.Run(context.Background(), jobs("1", "2", "3", "4", "5", "6")))

	require.NotEmpty(t, snaps)
	for _, s := range snaps {
		assert.Equal(t, s.Stats.Total, s.Stats.Completed+s.Stats.Failed+s.Stats.Pending)
		assert.Len(t, s.Records, 6)
	}
}

func TestRun_RotationContinuesAcrossFiles(t *testing.T) {
	pool := newFakePool("A", "B", "C")
	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
		if req.Filename == "1.jpg" && req.APIKey == "A" {
			return models.Metadata{}, rotateErr(models.ErrorInvalidKey)
		}
		return okMetadata("ok"), nil
	}

	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg", "2.jpg")))

	assert.Equal(t, []string{"A", "B", "C"}, provider.Keys())
	assert.Equal(t, 1, pool.failures[pool.creds[0].ID])
	assert.Equal(t, 1, pool.successes[pool.creds[1].ID])
	assert.Equal(t, 1, pool.successes[pool.creds[2].ID])
}

func TestRun_NonRotatingFailureStopsAfterOneAttempt(t *testing.T) {
	pool := newFakePool("A", "B")
	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
		if req.Filename == "1.jpg" {
			return models.Metadata{}, models.NewInferenceError(models.ErrorJSON, "The AI returned invalid JSON.")
		}
		return okMetadata("ok"), nil
	}

	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg", "2.jpg")))

	assert.Equal(t, []string{"A", "B"}, provider.Keys())
	snap := o.Snapshot()
	assert.Equal(t, models.JobStatusError, snap.Records[0].Status)
	assert.Equal(t, "The AI returned invalid JSON.", snap.Records[0].ErrorMessage)
	assert.Equal(t, "Error generating metadata", snap.Records[0].Title)
	assert.Equal(t, models.JobStatusCompleted, snap.Records[1].Status)
	assert.False(t, snap.QuotaExhausted)
}

func TestRun_EveryFailedAttemptCountedOnce(t *testing.T) {
	pool := newFakePool("A", "B", "C")
	provider := mock.NewFailingProvider(rotateErr(models.ErrorInvalidKey))

	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg")))

	assert.Equal(t, 3, pool.totalFailures())
	for _, c := range pool.creds {
		assert.Equal(t, 1, pool.failures[c.ID])
	}
	assert.Equal(t, models.JobStatusError, o.Snapshot().Records[0].Status)
}

func TestRun_QuotaExhaustionSetsAdvisory(t *testing.T) {
	pool := newFakePool("A", "B")
	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
		if req.Filename == "1.jpg" {
			return models.Metadata{}, rotateErr(models.ErrorQuotaExhausted)
		}
		return okMetadata("ok"), nil
	}

	var sawQuota bool
	opts := testOptions(&sleepRecorder{})
	opts.Observer = func(s batch.Snapshot) {
		if s.QuotaExhausted {
			sawQuota = true
			assert.Contains(t, s.Message, "Gemini")
		}
	}
	o := batch.NewOrchestrator(pool, provider, opts)
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg", "2.jpg")))

	assert.True(t, sawQuota)
	snap := o.Snapshot()
	assert.Equal(t, models.JobStatusError, snap.Records[0].Status)
	assert.Equal(t, models.JobStatusCompleted, snap.Records[1].Status, "quota does not stop the run")
	assert.False(t, snap.QuotaExhausted, "a later success clears the advisory")
	assert.Empty(t, snap.Message)
}

func TestRun_QuotaAdvisoryRemainsWhenNothingSucceeds(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewFailingProvider(rotateErr(models.ErrorQuotaExhausted))

	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg")))

	snap := o.Snapshot()
	assert.True(t, snap.QuotaExhausted)
	assert.Contains(t, snap.Message, "exhausted")
}

func TestRun_TransientRateLimitBacksOff(t *testing.T) {
	pool := newFakePool("A", "B")
	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
		if req.APIKey == "A" {
			return models.Metadata{}, &models.InferenceError{
				Kind:            models.ErrorQuotaExhausted,
				Message:         "slow down",
				ShouldRotateKey: true,
				RetryAfter:      time.Second,
			}
		}
		return okMetadata("ok"), nil
	}

	var messages []string
	sr := &sleepRecorder{}
	opts := testOptions(sr)
	opts.Observer = func(s batch.Snapshot) {
		if s.Message != "" {
			messages = append(messages, s.Message)
		}
	}
	o := batch.NewOrchestrator(pool, provider, opts)
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg")))

	assert.Equal(t, 1, sr.count(2*time.Second))
	assert.Contains(t, messages, "Rate limited. Trying next API key...")
	assert.Equal(t, models.JobStatusCompleted, o.Snapshot().Records[0].Status)
}

func TestRun_PostProcessing(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewMockProvider()
	kws := make([]string, 60)
	for i := range kws {
		kws[i] = fmt.Sprintf("kw%d", i)
	}
	provider.GenerateFunc = func(context.Context, models.InferenceRequest) (models.Metadata, error) {
		return models.Metadata{Title: "Beach", Description: strings.Repeat("d", 200), Keywords: kws}, nil
	}

	opts := testOptions(&sleepRecorder{})
	opts.Settings.TitlePrefix = "Stock: "
	opts.Settings.TitleSuffix = " photo"
	opts.Settings.TitleLength = 12
	opts.Settings.DescriptionPrefix = ">"
	o := batch.NewOrchestrator(pool, provider, opts)
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg", "2.jpg")))

	for _, r := range o.Snapshot().Records {
		assert.Equal(t, "Stock: Beach", r.Title)
		assert.Len(t, r.Description, 150)
		assert.True(t, strings.HasPrefix(r.Description, ">d"))
		require.Len(t, r.Keywords, 40)
		assert.Equal(t, "kw0", r.Keywords[0])
		assert.Equal(t, "kw39", r.Keywords[39])
	}
}

func TestRun_FilenameOnlySkipsLoad(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewMockProvider()

	opts := testOptions(&sleepRecorder{})
	opts.Settings.FilenameOnlyMode = true
	o := batch.NewOrchestrator(pool, provider, opts)

	j := []models.Job{{Source: fakeSource{name: "x.jpg", loadErr: errors.New("unreadable")}}}
	require.NoError(t, o.Run(context.Background(), j))

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Image)
	assert.Equal(t, models.JobStatusCompleted, o.Snapshot().Records[0].Status)
}

func TestRun_LoadFailureMarksErrorWithoutCredentialUse(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewMockProvider()
	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))

	j := []models.Job{{Source: fakeSource{name: "x.jpg", loadErr: errors.New("permission denied")}}}
	require.NoError(t, o.Run(context.Background(), j))

	assert.Empty(t, provider.Calls())
	assert.Zero(t, pool.totalFailures())
	rec := o.Snapshot().Records[0]
	assert.Equal(t, models.JobStatusError, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "permission denied")
}

func TestRun_Preconditions(t *testing.T) {
	provider := mock.NewMockProvider()

	o := batch.NewOrchestrator(newFakePool("A"), provider, testOptions(&sleepRecorder{}))
	assert.ErrorIs(t, o.Run(context.Background(), nil), batch.ErrNoFiles)
	assert.Equal(t, batch.StateIdle, o.Snapshot().State)

	o = batch.NewOrchestrator(newFakePool(), provider, testOptions(&sleepRecorder{}))
	assert.ErrorIs(t, o.Run(context.Background(), jobs("1.jpg")), batch.ErrNoActiveCredentials)
	snap := o.Snapshot()
	assert.Equal(t, batch.StateIdle, snap.State)
	assert.Empty(t, snap.Records)
	assert.Empty(t, provider.Calls())
}

func TestRun_OtherProvidersKeysNeverUsed(t *testing.T) {
	pool := newFakePool("gem")
	pool.creds = append(pool.creds, models.Credential{ID: uuid.New(), Secret: "sk", Provider: models.ProviderOpenAI, Active: true})
	provider := mock.NewMockProvider()

	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1", "2", "3")))

	assert.Equal(t, []string{"gem", "gem", "gem"}, provider.Keys())
}

func TestRetryFailed_ProcessesOnlyFailedInOrder(t *testing.T) {
	pool := newFakePool("A", "B")
	provider := mock.NewMockProvider()
	firstRound := true
	provider.GenerateFunc = func(_ context.Context, req models.InferenceRequest) (models.Metadata, error) {
		if firstRound && (req.Filename == "2.jpg" || req.Filename == "4.jpg") {
			return models.Metadata{}, models.NewInferenceError(models.ErrorAPI, "transient")
		}
		return okMetadata("T" + req.Filename), nil
	}

	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg")))
	assert.Equal(t, 2, o.FailedCount())

	firstRound = false
	before := len(provider.Calls())
	require.NoError(t, o.RetryFailed(context.Background()))

	retried := provider.Calls()[before:]
	require.Len(t, retried, 2)
	assert.Equal(t, "2.jpg", retried[0].Filename)
	assert.Equal(t, "4.jpg", retried[1].Filename)
	assert.Equal(t, "A", retried[0].APIKey, "rotation restarts at the first key")
	assert.Equal(t, "B", retried[1].APIKey)

	snap := o.Snapshot()
	assert.Equal(t, 5, snap.Stats.Completed)
	assert.Equal(t, 0, snap.Stats.Failed)
	for i, r := range snap.Records {
		assert.Equal(t, fmt.Sprintf("%d.jpg", i+1), r.Filename)
	}
}

func TestRetryFailed_NoFailuresIsNoop(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewMockProvider()
	o := batch.NewOrchestrator(pool, provider, testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg")))

	require.NoError(t, o.RetryFailed(context.Background()))
	assert.Len(t, provider.Calls(), 1)
}

func TestRetryFailed_RequiresActiveCredentials(t *testing.T) {
	pool := newFakePool("A")
	o := batch.NewOrchestrator(pool, mock.NewFailingProvider(models.NewInferenceError(models.ErrorAPI, "x")), testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg")))

	pool.creds[0].Active = false
	assert.ErrorIs(t, o.RetryFailed(context.Background()), batch.ErrNoActiveCredentials)
	assert.Equal(t, 1, o.FailedCount())
}

func TestRun_PauseHaltsAtFileBoundary(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewMockProvider()

	var o *batch.Orchestrator
	paused := make(chan struct{})
	var triggered atomic.Bool
	opts := testOptions(&sleepRecorder{})
	opts.Observer = func(s batch.Snapshot) {
		if len(s.Records) == 5 && s.Records[1].Status == models.JobStatusCompleted && triggered.CompareAndSwap(false, true) {
			o.Pause()
			close(paused)
		}
	}
	o = batch.NewOrchestrator(pool, provider, opts)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), jobs("1", "2", "3", "4", "5")) }()

	select {
	case <-paused:
	case <-time.After(5 * time.Second):
		t.Fatal("run never reached file 3")
	}

	time.Sleep(50 * time.Millisecond)
	snap := o.Snapshot()
	assert.Equal(t, batch.StatePaused, snap.State)
	assert.Equal(t, models.JobStatusPending, snap.Records[2].Status)
	assert.Len(t, provider.Calls(), 2)

	o.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}

	snap = o.Snapshot()
	assert.Equal(t, 5, snap.Stats.Completed)
	assert.Equal(t, "3", snap.Records[2].Filename)
	assert.Equal(t, "Title for 3", snap.Records[2].Title)
}

func TestRun_CancelLeavesUntouchedRecordsPending(t *testing.T) {
	pool := newFakePool("A")
	provider := mock.NewMockProvider()
	ctx, cancel := context.WithCancel(context.Background())

	opts := testOptions(&sleepRecorder{})
	opts.Observer = func(s batch.Snapshot) {
		if len(s.Records) == 4 && s.Records[0].Status == models.JobStatusCompleted {
			cancel()
		}
	}
	o := batch.NewOrchestrator(pool, provider, opts)

	err := o.Run(ctx, jobs("1", "2", "3", "4"))
	assert.ErrorIs(t, err, context.Canceled)

	snap := o.Snapshot()
	assert.Equal(t, batch.StateFinished, snap.State)
	assert.Equal(t, 1, snap.Stats.Completed)
	assert.Equal(t, 3, snap.Stats.Pending)
	assert.Equal(t, snap.Stats.Total, snap.Stats.Completed+snap.Stats.Failed+snap.Stats.Pending)
}

func TestRun_EndToEnd(t *testing.T) {
	pool := newFakePool("only")
	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(context.Context, models.InferenceRequest) (models.Metadata, error) {
		return models.Metadata{Title: "Beach", Description: "Sunny", Keywords: []string{"sand"}}, nil
	}

	opts := testOptions(&sleepRecorder{})
	opts.Settings.TitlePrefix = "Pre "
	opts.Settings.TitleSuffix = " Post"
	o := batch.NewOrchestrator(pool, provider, opts)
	require.NoError(t, o.Run(context.Background(), jobs("one.jpg", "two.jpg")))

	snap := o.Snapshot()
	assert.Equal(t, "Pre Beach Post", snap.Records[0].Title)
	assert.Equal(t, 2, pool.successes[pool.creds[0].ID])
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	pool := newFakePool("A")
	o := batch.NewOrchestrator(pool, mock.NewMockProvider(), testOptions(&sleepRecorder{}))
	require.NoError(t, o.Run(context.Background(), jobs("1.jpg")))

	snap := o.Snapshot()
	snap.Records[0].Keywords[0] = "mutated"
	snap.Records[0].Title = "mutated"

	again := o.Snapshot()
	assert.Equal(t, "mock", again.Records[0].Keywords[0])
	assert.Equal(t, "Title for 1.jpg", again.Records[0].Title)
}

func TestRun_SecondRunWhileRunningIsRejected(t *testing.T) {
	pool := newFakePool("A")
	o := batch.NewOrchestrator(pool, mock.NewBlockingProvider(), testOptions(&sleepRecorder{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, jobs("1.jpg")) }()

	require.Eventually(t, func() bool {
		return o.Snapshot().State == batch.StateRunning
	}, 5*time.Second, time.Millisecond)

	assert.ErrorIs(t, o.Run(context.Background(), jobs("2.jpg")), batch.ErrRunInProgress)
	assert.True(t, o.TogglePause())
	assert.Equal(t, batch.StatePaused, o.Snapshot().State)
	assert.False(t, o.TogglePause())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	snap := o.Snapshot()
	assert.Equal(t, "Processing cancelled.", snap.Records[0].ErrorMessage)
}
