package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

var (
	ErrBatchActive     = errors.New("another batch is already active")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrBatchNotRunning = errors.New("batch is not running")
)

// ProviderSource resolves a provider kind to its implementation.
type ProviderSource interface {
	Get(kind models.ProviderKind) (models.MetadataProvider, error)
}

// StartRequest describes a new batch.
type StartRequest struct {
	Provider     models.ProviderKind
	Model        string
	Settings     models.GenerationSettings
	RequestDelay time.Duration
	Jobs         []models.Job
	// Actor labels who started the run.
	Actor string
}

// Info is the externally visible view of a managed run.
type Info struct {
	ID        uuid.UUID                 `json:"id"`
	CreatedAt time.Time                 `json:"created_at"`
	Settings  models.GenerationSettings `json:"settings"`
	Actor     string                    `json:"actor,omitempty"`
	Snapshot
}

type run struct {
	id        uuid.UUID
	createdAt time.Time
	settings  models.GenerationSettings
	actor     string
	orch      *Orchestrator
	cancel    context.CancelFunc
	done      chan struct{}
	active    bool
}

// Manager keeps the batch runs started through the API. At most one run is
// active (running or paused) at a time.
type Manager struct {
	pool      CredentialPool
	providers ProviderSource
	defaults  Options
	base      context.Context

	// OnFinish is called from the run goroutine after every Run or RetryFailed.
	OnFinish func(Info)

	mu   sync.Mutex
	runs map[uuid.UUID]*run
}

// NewManager creates a manager. Runs are cancelled when ctx ends.
func NewManager(ctx context.Context, pool CredentialPool, providers ProviderSource, defaults Options) *Manager {
	return &Manager{
		pool:      pool,
		providers: providers,
		defaults:  defaults,
		base:      ctx,
		runs:      make(map[uuid.UUID]*run),
	}
}

// Start validates the request, initializes the run and processes it in the background.
func (m *Manager) Start(req StartRequest) (Info, error) {
	if len(req.Jobs) == 0 {
		return Info{}, ErrNoFiles
	}
	provider, err := m.providers.Get(req.Provider)
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked() != nil {
		return Info{}, ErrBatchActive
	}

	opts := m.defaults
	opts.Model = req.Model
	opts.Settings = req.Settings
	if req.RequestDelay > 0 {
		opts.RequestDelay = req.RequestDelay
	}
	orch := NewOrchestrator(m.pool, provider, opts)
	creds, err := orch.begin(req.Jobs)
	if err != nil {
		return Info{}, err
	}

	r := &run{id: uuid.New(), createdAt: time.Now().UTC(), settings: req.Settings, actor: req.Actor, orch: orch}
	m.runs[r.id] = r
	m.launchLocked(r, func(ctx context.Context) error {
		return orch.execute(ctx, allIndices(len(req.Jobs)), creds)
	})
	return r.info(), nil
}

// Retry reprocesses the failed records of a finished run.
func (m *Manager) Retry(id uuid.UUID) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return Info{}, ErrBatchNotFound
	}
	if m.activeLocked() != nil {
		return Info{}, ErrBatchActive
	}

	failed, creds, err := r.orch.beginRetry()
	if err != nil {
		return Info{}, err
	}
	if len(failed) > 0 {
		m.launchLocked(r, func(ctx context.Context) error {
			return r.orch.execute(ctx, failed, creds)
		})
	}
	return r.info(), nil
}

// Pause halts an active run before its next file.
func (m *Manager) Pause(id uuid.UUID) (Info, error) {
	return m.withActive(id, func(r *run) { r.orch.Pause() })
}

// Resume continues a paused run.
func (m *Manager) Resume(id uuid.UUID) (Info, error) {
	return m.withActive(id, func(r *run) { r.orch.Resume() })
}

// Reset cancels a run and forgets it.
func (m *Manager) Reset(id uuid.UUID) error {
	m.mu.Lock()
	r, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return ErrBatchNotFound
	}
	delete(m.runs, id)
	cancel, done := r.cancel, r.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	slog.Info("batch reset", "batch_id", id)
	return nil
}

// Get returns one run.
func (m *Manager) Get(id uuid.UUID) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return Info{}, ErrBatchNotFound
	}
	return r.info(), nil
}

// List returns every run, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.info())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until the run's current processing ends.
func (m *Manager) Wait(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	r, ok := m.runs[id]
	var done chan struct{}
	if ok {
		done = r.done
	}
	m.mu.Unlock()
	if !ok {
		return ErrBatchNotFound
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every active run and waits for them to stop.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var waits []chan struct{}
	for _, r := range m.runs {
		if r.active {
			r.cancel()
			waits = append(waits, r.done)
		}
	}
	m.mu.Unlock()
	for _, w := range waits {
		<-w
	}
}

func (m *Manager) withActive(id uuid.UUID, fn func(*run)) (Info, error) {
	m.mu.Lock()
	r, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return Info{}, ErrBatchNotFound
	}
	if !r.active {
		m.mu.Unlock()
		return Info{}, ErrBatchNotRunning
	}
	m.mu.Unlock()

	fn(r)
	return r.info(), nil
}

func (m *Manager) activeLocked() *run {
	for _, r := range m.runs {
		if r.active {
			return r
		}
	}
	return nil
}

// launchLocked starts fn in a goroutine. It recovers from panics and always
// marks the run inactive.
func (m *Manager) launchLocked(r *run, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(m.base)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.active = true

	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in batch run", "error", fmt.Sprint(rec), "batch_id", r.id)
				r.orch.finish()
			}
			m.mu.Lock()
			r.active = false
			m.mu.Unlock()
			if m.OnFinish != nil {
				m.OnFinish(r.info())
			}
		}()

		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("batch run failed", "error", err, "batch_id", r.id)
		}
	}()
}

func (r *run) info() Info {
	return Info{ID: r.id, CreatedAt: r.createdAt, Settings: r.settings, Actor: r.actor, Snapshot: r.orch.Snapshot()}
}
