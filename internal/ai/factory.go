package ai

import (
	"fmt"

	"github.com/kiranshivaraju/stockmeta/internal/ai/gemini"
	"github.com/kiranshivaraju/stockmeta/internal/ai/mistral"
	"github.com/kiranshivaraju/stockmeta/internal/ai/openai"
	"github.com/kiranshivaraju/stockmeta/internal/config"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// NewProvider constructs the provider variant for kind.
func NewProvider(kind models.ProviderKind, cfg config.AIConfig) (models.MetadataProvider, error) {
	switch kind {
	case models.ProviderGemini:
		return gemini.NewProvider(cfg.Gemini, cfg.InferenceTimeout), nil
	case models.ProviderOpenAI:
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case models.ProviderMistral:
		return mistral.NewProvider(cfg.Mistral, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("%w %q: must be one of gemini, openai, mistral", ErrUnknownProvider, kind)
	}
}

// Registry holds one provider per kind. Built once at startup.
type Registry struct {
	providers map[models.ProviderKind]models.MetadataProvider
}

// NewRegistry constructs every provider variant.
func NewRegistry(cfg config.AIConfig) (*Registry, error) {
	r := &Registry{providers: make(map[models.ProviderKind]models.MetadataProvider)}
	for _, k := range models.ProviderKinds() {
		p, err := NewProvider(k, cfg)
		if err != nil {
			return nil, err
		}
		r.providers[k] = p
	}
	return r, nil
}

// NewRegistryFrom builds a registry from already constructed providers.
func NewRegistryFrom(providers ...models.MetadataProvider) *Registry {
	r := &Registry{providers: make(map[models.ProviderKind]models.MetadataProvider)}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the provider for kind.
func (r *Registry) Get(kind models.ProviderKind) (models.MetadataProvider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, kind)
	}
	return p, nil
}

// ResolveModel returns the model to use for kind. An empty id picks the
// catalog default; an id outside the catalog is rejected.
func (r *Registry) ResolveModel(kind models.ProviderKind, id string) (string, error) {
	p, err := r.Get(kind)
	if err != nil {
		return "", err
	}
	catalog := p.Models()
	if id == "" {
		for _, m := range catalog {
			if m.Default {
				return m.ID, nil
			}
		}
		if len(catalog) > 0 {
			return catalog[0].ID, nil
		}
		return "", nil
	}
	for _, m := range catalog {
		if m.ID == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no model %q", ErrUnknownModel, kind, id)
}

// Catalog returns every provider's models in provider display order.
func (r *Registry) Catalog() map[models.ProviderKind][]models.AIModel {
	out := make(map[models.ProviderKind][]models.AIModel, len(r.providers))
	for k, p := range r.providers {
		out[k] = p.Models()
	}
	return out
}
