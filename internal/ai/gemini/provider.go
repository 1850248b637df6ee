package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kiranshivaraju/stockmeta/internal/config"
	"github.com/kiranshivaraju/stockmeta/internal/prompt"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// perMinuteBackoff is the wait applied when a 429 names a per-minute limit.
const perMinuteBackoff = 2 * time.Second

// Catalog is the Gemini model list.
var Catalog = []models.AIModel{
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Speed: "fast", Provider: models.ProviderGemini, Default: true},
	{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", Speed: "fastest", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Speed: "balanced", Provider: models.ProviderGemini},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", Speed: "fast", Provider: models.ProviderGemini},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Speed: "thorough", Provider: models.ProviderGemini},
}

// Provider implements models.MetadataProvider using the Gemini API.
// A client is built per call because the key changes with rotation.
type Provider struct {
	cfg        config.GeminiConfig
	httpClient *http.Client
}

func NewProvider(cfg config.GeminiConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Kind() models.ProviderKind { return models.ProviderGemini }

func (p *Provider) Models() []models.AIModel {
	out := make([]models.AIModel, len(Catalog))
	copy(out, Catalog)
	return out
}

// Generate runs one generateContent call for the file.
func (p *Provider) Generate(ctx context.Context, req models.InferenceRequest) (models.Metadata, error) {
	if req.APIKey == "" {
		return models.Metadata{}, models.NewInferenceError(models.ErrorNoKey, "API key is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     req.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return models.Metadata{}, models.NewInferenceError(models.ErrorServer, fmt.Sprintf("create gemini client: %v", err))
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt.Build(req.Filename, req.Settings))}
	if !req.Settings.FilenameOnlyMode && len(req.Image) > 0 {
		mime := req.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Image, mime))
	}

	resp, err := client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0.7),
			TopK:            genai.Ptr[float32](40),
			TopP:            genai.Ptr[float32](0.95),
			MaxOutputTokens: 1024,
		})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.Metadata{}, err
		}
		return models.Metadata{}, classify(err)
	}

	text := ""
	if resp != nil {
		text = resp.Text()
	}
	if strings.TrimSpace(text) == "" {
		return models.Metadata{}, models.NewInferenceError(models.ErrorEmptyResponse, "The AI did not return a valid response.")
	}

	return prompt.Parse(text)
}

// classify maps a genai error onto the inference error contract.
func classify(err error) *models.InferenceError {
	code, msg, ok := apiError(err)
	if !ok {
		return models.NewInferenceError(models.ErrorServer, err.Error())
	}

	switch code {
	case http.StatusTooManyRequests:
		ie := &models.InferenceError{
			Kind:            models.ErrorQuotaExhausted,
			Message:         "API key quota exhausted. Please use a different API key or wait for quota reset.",
			ShouldRotateKey: true,
		}
		if lower := strings.ToLower(msg); strings.Contains(lower, "per minute") || strings.Contains(lower, "perminute") {
			ie.RetryAfter = perMinuteBackoff
		}
		return ie
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return &models.InferenceError{
			Kind:            models.ErrorInvalidKey,
			Message:         "The API key is invalid or has been revoked.",
			ShouldRotateKey: true,
		}
	default:
		if msg == "" {
			msg = "Unknown error"
		}
		return models.NewInferenceError(models.ErrorAPI, msg)
	}
}

func apiError(err error) (int, string, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, v.Message, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, p.Message, true
	}
	return 0, "", false
}

var _ models.MetadataProvider = (*Provider)(nil)
