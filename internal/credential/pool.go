// Package credential holds provider API keys and their usage bookkeeping.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

var ErrNotFound = errors.New("credential not found")
var ErrDuplicate = errors.New("credential already exists for provider")

// Persister saves the full credential list. Each call supersedes the last.
type Persister interface {
	SaveCredentials(ctx context.Context, creds []models.Credential) error
	LoadCredentials(ctx context.Context) ([]models.Credential, error)
}

// Pool is the ordered set of credentials across all providers.
// Safe for concurrent use.
type Pool struct {
	mu        sync.RWMutex
	creds     []*models.Credential
	persister Persister
	now       func() time.Time
}

// NewPool creates an empty pool. persister may be nil.
func NewPool(persister Persister) *Pool {
	return &Pool{persister: persister, now: time.Now}
}

// Load replaces the pool contents with the persisted list.
func (p *Pool) Load(ctx context.Context) error {
	if p.persister == nil {
		return nil
	}
	creds, err := p.persister.LoadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = p.creds[:0]
	for i := range creds {
		c := creds[i]
		p.creds = append(p.creds, &c)
	}
	return nil
}

// Seed adds secrets from configuration, skipping ones already in the pool.
func (p *Pool) Seed(ctx context.Context, provider models.ProviderKind, secrets []string) int {
	added := 0
	for i, s := range secrets {
		name := fmt.Sprintf("%s key %d", provider.DisplayName(), i+1)
		if _, err := p.Add(ctx, provider, s, name); err == nil {
			added++
		}
	}
	return added
}

// Add appends a new active credential.
func (p *Pool) Add(ctx context.Context, provider models.ProviderKind, secret, name string) (models.Credential, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return models.Credential{}, fmt.Errorf("secret is required")
	}
	if _, err := models.ParseProviderKind(string(provider)); err != nil {
		return models.Credential{}, err
	}

	p.mu.Lock()
	for _, c := range p.creds {
		if c.Provider == provider && c.Secret == secret {
			p.mu.Unlock()
			return models.Credential{}, ErrDuplicate
		}
	}
	if name == "" {
		name = fmt.Sprintf("%s key %d", provider.DisplayName(), p.countLocked(provider)+1)
	}
	c := &models.Credential{
		ID:          uuid.New(),
		Secret:      secret,
		DisplayName: name,
		Provider:    provider,
		Active:      true,
		CreatedAt:   p.now().UTC(),
	}
	p.creds = append(p.creds, c)
	out := *c
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return out, nil
}

// List returns copies of every credential in insertion order.
func (p *Pool) List() []models.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// Get returns a copy of one credential.
func (p *Pool) Get(id uuid.UUID) (models.Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := p.findLocked(id)
	if c == nil {
		return models.Credential{}, ErrNotFound
	}
	return *c, nil
}

// ListActive returns the active credentials of one provider, in insertion order.
func (p *Pool) ListActive(provider models.ProviderKind) []models.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.Active && c.Provider == provider {
			out = append(out, *c)
		}
	}
	return out
}

// RecordSuccess increments usage and stamps LastUsedAt.
func (p *Pool) RecordSuccess(ctx context.Context, id uuid.UUID) {
	p.mutate(ctx, id, func(c *models.Credential) {
		c.UsageCount++
		now := p.now().UTC()
		c.LastUsedAt = &now
	})
}

// RecordFailure increments the error counter. It never deactivates.
func (p *Pool) RecordFailure(ctx context.Context, id uuid.UUID) {
	p.mutate(ctx, id, func(c *models.Credential) {
		c.ErrorCount++
	})
}

// SetActive toggles a credential on or off.
func (p *Pool) SetActive(ctx context.Context, id uuid.UUID, active bool) (models.Credential, error) {
	var out models.Credential
	found := p.mutate(ctx, id, func(c *models.Credential) {
		c.Active = active
		out = *c
	})
	if !found {
		return models.Credential{}, ErrNotFound
	}
	return out, nil
}

// Remove deletes a credential.
func (p *Pool) Remove(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	idx := -1
	for i, c := range p.creds {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return ErrNotFound
	}
	p.creds = append(p.creds[:idx], p.creds[idx+1:]...)
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return nil
}

func (p *Pool) mutate(ctx context.Context, id uuid.UUID, fn func(*models.Credential)) bool {
	p.mu.Lock()
	c := p.findLocked(id)
	if c == nil {
		p.mu.Unlock()
		return false
	}
	fn(c)
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return true
}

func (p *Pool) persist(ctx context.Context, creds []models.Credential) {
	if p.persister == nil {
		return
	}
	if err := p.persister.SaveCredentials(ctx, creds); err != nil {
		slog.Warn("persisting credentials failed", "error", err)
	}
}

func (p *Pool) findLocked(id uuid.UUID) *models.Credential {
	for _, c := range p.creds {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (p *Pool) countLocked(provider models.ProviderKind) int {
	n := 0
	for _, c := range p.creds {
		if c.Provider == provider {
			n++
		}
	}
	return n
}

func (p *Pool) snapshotLocked() []models.Credential {
	out := make([]models.Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = *c
		if c.LastUsedAt != nil {
			t := *c.LastUsedAt
			out[i].LastUsedAt = &t
		}
	}
	return out
}
