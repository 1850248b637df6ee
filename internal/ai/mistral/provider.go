package mistral

import (
	"time"

	"github.com/kiranshivaraju/stockmeta/internal/ai/openai"
	"github.com/kiranshivaraju/stockmeta/internal/config"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// Catalog is the Mistral model list. All entries accept image input.
var Catalog = []models.AIModel{
	{ID: "mistral-small-latest", Name: "Mistral Small", Speed: "fast", Provider: models.ProviderMistral, Default: true},
	{ID: "mistral-medium-latest", Name: "Mistral Medium", Speed: "balanced", Provider: models.ProviderMistral},
	{ID: "mistral-large-latest", Name: "Mistral Large", Speed: "thorough", Provider: models.ProviderMistral},
}

// NewProvider returns a Mistral backend. Mistral speaks the OpenAI
// chat-completions protocol, so the request and error handling are shared.
func NewProvider(cfg config.MistralConfig, timeout time.Duration) *openai.Provider {
	return openai.NewCompatible(openai.Options{
		Kind:         models.ProviderMistral,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Catalog:      Catalog,
		Timeout:      timeout,
	})
}
