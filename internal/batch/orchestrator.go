// Package batch runs files through a metadata provider one at a time,
// rotating across the active credentials of the selected provider.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

var (
	ErrNoFiles             = errors.New("no files to process")
	ErrNoActiveCredentials = errors.New("no active credentials for provider")
	ErrRunInProgress       = errors.New("run already in progress")
)

const (
	rateLimitMessage = "Rate limited. Trying next API key..."
	errorTitle       = "Error generating metadata"
	cancelledMessage = "Processing cancelled."
)

// State is the lifecycle of one run.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
)

// CredentialPool is the subset of the credential pool the orchestrator needs.
type CredentialPool interface {
	ListActive(provider models.ProviderKind) []models.Credential
	RecordSuccess(ctx context.Context, id uuid.UUID)
	RecordFailure(ctx context.Context, id uuid.UUID)
}

// Options configures a run. Zero durations fall back to defaults.
type Options struct {
	Model            string
	Settings         models.GenerationSettings
	RequestDelay     time.Duration
	RateLimitBackoff time.Duration
	PollInterval     time.Duration
	// Observer receives a snapshot after every record or state change.
	Observer func(Snapshot)
	// Sleep replaces the delay implementation; used by tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Snapshot is a deep copy of a run's observable state.
type Snapshot struct {
	Provider       models.ProviderKind   `json:"provider"`
	Model          string                `json:"model"`
	State          State                 `json:"state"`
	Records        []models.ResultRecord `json:"records"`
	Stats          models.Stats          `json:"stats"`
	Progress       int                   `json:"progress"`
	QuotaExhausted bool                  `json:"quota_exhausted"`
	Message        string                `json:"message,omitempty"`
}

// Orchestrator owns the records of one batch and drives them to completion.
// Run and RetryFailed must not be called concurrently; Snapshot, Pause and
// Resume are safe from any goroutine.
type Orchestrator struct {
	pool     CredentialPool
	provider models.MetadataProvider
	opts     Options
	pause    PauseToken

	mu      sync.Mutex
	state   State
	jobs    []models.Job
	records []models.ResultRecord
	started *time.Time
	ended   *time.Time
	quota   bool
	message string
}

// NewOrchestrator builds an idle orchestrator.
func NewOrchestrator(pool CredentialPool, provider models.MetadataProvider, opts Options) *Orchestrator {
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = time.Second
	}
	if opts.RateLimitBackoff <= 0 {
		opts.RateLimitBackoff = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Orchestrator{pool: pool, provider: provider, opts: opts, state: StateIdle}
}

// Pause stops the run before the next file starts.
func (o *Orchestrator) Pause() { o.pause.Pause(); o.notify() }

// Resume lets a paused run continue.
func (o *Orchestrator) Resume() { o.pause.Resume(); o.notify() }

// TogglePause flips the pause flag and returns whether the run is now paused.
func (o *Orchestrator) TogglePause() bool {
	paused := o.pause.Toggle()
	o.notify()
	return paused
}

// Run processes every job in order. It returns ErrNoFiles or
// ErrNoActiveCredentials without touching existing state, and ctx.Err() when
// cancelled part-way.
func (o *Orchestrator) Run(ctx context.Context, jobs []models.Job) error {
	creds, err := o.begin(jobs)
	if err != nil {
		return err
	}
	return o.execute(ctx, allIndices(len(jobs)), creds)
}

// RetryFailed reprocesses records currently in error, in their original order.
// Rotation restarts at the first active credential.
func (o *Orchestrator) RetryFailed(ctx context.Context) error {
	failed, creds, err := o.beginRetry()
	if err != nil || len(failed) == 0 {
		return err
	}
	return o.execute(ctx, failed, creds)
}

// begin validates preconditions and resets the run to one pending record per job.
func (o *Orchestrator) begin(jobs []models.Job) ([]models.Credential, error) {
	if len(jobs) == 0 {
		return nil, ErrNoFiles
	}
	creds := o.pool.ListActive(o.provider.Kind())
	if len(creds) == 0 {
		return nil, ErrNoActiveCredentials
	}

	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	now := time.Now().UTC()
	o.jobs = append([]models.Job(nil), jobs...)
	o.records = make([]models.ResultRecord, len(jobs))
	for i, j := range jobs {
		o.records[i] = models.NewPendingRecord(j.Source.Name())
	}
	o.state = StateRunning
	o.started = &now
	o.ended = nil
	o.quota = false
	o.message = ""
	o.mu.Unlock()
	o.pause.Resume()
	o.notify()

	slog.Info("batch run started", "provider", o.provider.Name(), "files", len(jobs), "credentials", len(creds))
	return creds, nil
}

// beginRetry collects the failed record indices and marks the run as running.
// A run without failures is left untouched.
func (o *Orchestrator) beginRetry() ([]int, []models.Credential, error) {
	creds := o.pool.ListActive(o.provider.Kind())
	if len(creds) == 0 {
		return nil, nil, ErrNoActiveCredentials
	}

	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return nil, nil, ErrRunInProgress
	}
	var failed []int
	for i, r := range o.records {
		if r.Status == models.JobStatusError {
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		o.mu.Unlock()
		return nil, creds, nil
	}
	o.state = StateRunning
	o.ended = nil
	o.mu.Unlock()
	o.pause.Resume()
	o.notify()

	slog.Info("batch retry started", "provider", o.provider.Name(), "files", len(failed))
	return failed, creds, nil
}

func (o *Orchestrator) execute(ctx context.Context, indices []int, creds []models.Credential) error {
	err := o.process(ctx, indices, creds)
	o.finish()
	return err
}

// FailedCount returns the number of records currently in error.
func (o *Orchestrator) FailedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return models.ComputeStats(o.records).Failed
}

// Snapshot returns a deep copy of the run.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	records := make([]models.ResultRecord, len(o.records))
	for i, r := range o.records {
		records[i] = r.Clone()
	}
	stats := models.ComputeStats(o.records)
	stats.StartedAt = copyTime(o.started)
	stats.EndedAt = copyTime(o.ended)

	state := o.state
	if state == StateRunning && o.pause.Paused() {
		state = StatePaused
	}
	return Snapshot{
		Provider:       o.provider.Kind(),
		Model:          o.opts.Model,
		State:          state,
		Records:        records,
		Stats:          stats,
		Progress:       stats.Progress(),
		QuotaExhausted: o.quota,
		Message:        o.message,
	}
}

// process runs the given record indices in order. Rotation continues across files.
func (o *Orchestrator) process(ctx context.Context, indices []int, creds []models.Credential) error {
	next := 0
	for n, i := range indices {
		if err := o.pause.Wait(ctx, o.opts.PollInterval); err != nil {
			return err
		}

		if err := o.update(i, func(r *models.ResultRecord) error {
			return r.Transition(models.JobStatusProcessing)
		}); err != nil {
			return err
		}

		next = o.processFile(ctx, i, creds, next)
		if err := ctx.Err(); err != nil {
			return err
		}

		if n < len(indices)-1 {
			if err := o.opts.Sleep(ctx, o.opts.RequestDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// processFile tries the file against each credential starting at start and
// returns the rotation index for the next file.
func (o *Orchestrator) processFile(ctx context.Context, i int, creds []models.Credential, start int) int {
	job := o.jobs[i]
	settings := o.opts.Settings

	var data []byte
	if !settings.FilenameOnlyMode {
		b, err := job.Source.Load()
		if err != nil {
			o.fail(i, fmt.Sprintf("Failed to read file: %v", err))
			return start
		}
		data = b
	}

	n := len(creds)
	used := start % n
	var last *models.InferenceError
	for k := 0; k < n; k++ {
		idx := (start + k) % n
		cred := creds[idx]
		used = idx

		md, err := o.provider.Generate(ctx, models.InferenceRequest{
			Image:    data,
			Filename: job.Source.Name(),
			MimeType: job.Source.MimeType(),
			APIKey:   cred.Secret,
			Model:    o.opts.Model,
			Settings: settings,
		})
		if err == nil {
			o.pool.RecordSuccess(ctx, cred.ID)
			o.complete(i, md)
			return (idx + 1) % n
		}
		if ctx.Err() != nil {
			o.fail(i, cancelledMessage)
			return idx
		}

		ie := models.AsInferenceError(err)
		o.pool.RecordFailure(ctx, cred.ID)
		last = ie
		slog.Warn("inference failed",
			"file", job.Source.Name(),
			"credential", cred.DisplayName,
			"kind", ie.Kind,
			"rotate", ie.ShouldRotateKey,
		)

		if !ie.ShouldRotateKey || k == n-1 {
			break
		}
		if ie.RateLimited() {
			o.setMessage(rateLimitMessage)
			if err := o.opts.Sleep(ctx, o.opts.RateLimitBackoff); err != nil {
				o.fail(i, cancelledMessage)
				return idx
			}
		}
	}

	o.fail(i, last.Message)
	if last.Kind == models.ErrorQuotaExhausted {
		o.mu.Lock()
		o.quota = true
		o.message = quotaMessage(o.provider.Kind())
		o.mu.Unlock()
		o.notify()
	}
	return (used + 1) % n
}

// complete stores post-processed metadata on the record.
func (o *Orchestrator) complete(i int, md models.Metadata) {
	s := o.opts.Settings
	title := models.TruncateRunes(s.TitlePrefix+md.Title+s.TitleSuffix, s.TitleLength)
	desc := models.TruncateRunes(s.DescriptionPrefix+md.Description+s.DescriptionSuffix, s.DescriptionLength)
	keywords := md.Keywords
	if len(keywords) > s.KeywordsCount {
		keywords = keywords[:s.KeywordsCount]
	}
	keywords = append([]string{}, keywords...)

	_ = o.update(i, func(r *models.ResultRecord) error {
		if err := r.Transition(models.JobStatusCompleted); err != nil {
			return err
		}
		now := time.Now().UTC()
		r.Title = title
		r.Description = desc
		r.Keywords = keywords
		r.ErrorMessage = ""
		r.ProcessedAt = &now
		o.quota = false
		o.message = ""
		return nil
	})
}

func (o *Orchestrator) fail(i int, msg string) {
	_ = o.update(i, func(r *models.ResultRecord) error {
		if err := r.Transition(models.JobStatusError); err != nil {
			return err
		}
		now := time.Now().UTC()
		r.Title = errorTitle
		r.Description = msg
		r.Keywords = []string{}
		r.ErrorMessage = msg
		r.ProcessedAt = &now
		return nil
	})
}

// update mutates one record under the lock and notifies observers on success.
func (o *Orchestrator) update(i int, fn func(*models.ResultRecord) error) error {
	o.mu.Lock()
	err := fn(&o.records[i])
	o.mu.Unlock()
	if err != nil {
		slog.Error("record update rejected", "index", i, "error", err)
		return err
	}
	o.notify()
	return nil
}

func (o *Orchestrator) setMessage(msg string) {
	o.mu.Lock()
	o.message = msg
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	now := time.Now().UTC()
	o.state = StateFinished
	o.ended = &now
	stats := models.ComputeStats(o.records)
	o.mu.Unlock()
	o.pause.Resume()
	o.notify()

	slog.Info("batch run finished",
		"provider", o.provider.Name(),
		"completed", stats.Completed,
		"failed", stats.Failed,
		"pending", stats.Pending,
	)
}

func (o *Orchestrator) notify() {
	if o.opts.Observer == nil {
		return
	}
	o.opts.Observer(o.Snapshot())
}

func quotaMessage(kind models.ProviderKind) string {
	switch kind {
	case models.ProviderGemini:
		return "All Gemini API keys have exhausted their daily quota. Try switching to another provider or add new API keys."
	case models.ProviderOpenAI:
		return "OpenAI rate limit exceeded. Check your billing or try another provider."
	default:
		return fmt.Sprintf("All %s API keys have exhausted their quota. Add new API keys or switch providers.", kind.DisplayName())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
