package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/stockmeta/internal/config"
	"github.com/kiranshivaraju/stockmeta/internal/prompt"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

const (
	maxTokens   = 1024
	temperature = 0.7

	// defaultRetryAfter is used for transient 429s that carry no Retry-After header.
	defaultRetryAfter = 2 * time.Second
)

// Catalog is the OpenAI model list.
var Catalog = []models.AIModel{
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Speed: "fast", Provider: models.ProviderOpenAI, Default: true},
	{ID: "gpt-4o", Name: "GPT-4o", Speed: "balanced", Provider: models.ProviderOpenAI},
	{ID: "gpt-4.1-mini", Name: "GPT-4.1 Mini", Speed: "fast", Provider: models.ProviderOpenAI},
}

// Options configures an OpenAI-compatible chat-completions backend.
type Options struct {
	Kind         models.ProviderKind
	BaseURL      string
	DefaultModel string
	Catalog      []models.AIModel
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Provider implements models.MetadataProvider against any endpoint that speaks
// the OpenAI chat-completions protocol.
type Provider struct {
	opts       Options
	httpClient *http.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	return NewCompatible(Options{
		Kind:         models.ProviderOpenAI,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Catalog:      Catalog,
		Timeout:      timeout,
	})
}

// NewCompatible builds a provider for an OpenAI-compatible backend.
func NewCompatible(opts Options) *Provider {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Provider{opts: opts, httpClient: hc}
}

func (p *Provider) Name() string { return string(p.opts.Kind) }

func (p *Provider) Kind() models.ProviderKind { return p.opts.Kind }

func (p *Provider) Models() []models.AIModel {
	out := make([]models.AIModel, len(p.opts.Catalog))
	copy(out, p.opts.Catalog)
	return out
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate sends one chat-completions request and parses the reply into metadata.
func (p *Provider) Generate(ctx context.Context, req models.InferenceRequest) (models.Metadata, error) {
	if req.APIKey == "" {
		return models.Metadata{}, models.NewInferenceError(models.ErrorNoKey, "API key is required")
	}

	model := req.Model
	if model == "" {
		model = p.opts.DefaultModel
	}

	text := prompt.Build(req.Filename, req.Settings)
	var content any = text
	if !req.Settings.FilenameOnlyMode && len(req.Image) > 0 {
		content = []contentPart{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURI(req.MimeType, req.Image)}},
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return models.Metadata{}, models.NewInferenceError(models.ErrorServer, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return models.Metadata{}, models.NewInferenceError(models.ErrorServer, fmt.Sprintf("create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.Metadata{}, err
		}
		return models.Metadata{}, models.NewInferenceError(models.ErrorServer, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Metadata{}, models.NewInferenceError(models.ErrorServer, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Metadata{}, p.classify(resp, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return models.Metadata{}, models.NewInferenceError(models.ErrorEmptyResponse, "The AI did not return a valid response.")
	}

	return prompt.Parse(parsed.Choices[0].Message.Content)
}

// classify maps a non-2xx response onto the inference error contract.
func (p *Provider) classify(resp *http.Response, body []byte) *models.InferenceError {
	var er errorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		msg = er.Error.Message
	}
	if msg == "" {
		msg = "Unknown error"
	}
	display := p.opts.Kind.DisplayName()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		ie := &models.InferenceError{
			Kind:            models.ErrorQuotaExhausted,
			Message:         fmt.Sprintf("%s rate limit exceeded. Please wait or check your billing.", display),
			ShouldRotateKey: true,
		}
		if fmt.Sprint(er.Error.Code) != "insufficient_quota" && er.Error.Type != "insufficient_quota" {
			ie.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		}
		return ie
	case http.StatusUnauthorized:
		return &models.InferenceError{
			Kind:            models.ErrorInvalidKey,
			Message:         fmt.Sprintf("The %s API key is invalid.", display),
			ShouldRotateKey: true,
		}
	case http.StatusPaymentRequired:
		return &models.InferenceError{
			Kind:            models.ErrorNoCredits,
			Message:         fmt.Sprintf("Your %s account has insufficient credits. Please add billing.", display),
			ShouldRotateKey: true,
		}
	default:
		return models.NewInferenceError(models.ErrorAPI, msg)
	}
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func dataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var _ models.MetadataProvider = (*Provider)(nil)
