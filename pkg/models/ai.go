// Package models contains shared data models used across the stockmeta codebase.
package models

import (
	"context"
	"fmt"
)

// ProviderKind identifies an AI inference backend. The set is closed; adding a
// backend means adding a constant here and a variant in internal/ai.
type ProviderKind string

const (
	ProviderGemini  ProviderKind = "gemini"
	ProviderOpenAI  ProviderKind = "openai"
	ProviderMistral ProviderKind = "mistral"
)

// ProviderKinds lists every supported provider in display order.
func ProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderGemini, ProviderOpenAI, ProviderMistral}
}

// ParseProviderKind validates a provider tag.
func ParseProviderKind(s string) (ProviderKind, error) {
	for _, k := range ProviderKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q: must be one of gemini, openai, mistral", s)
}

// DisplayName is the human-readable provider name used in advisory messages.
func (k ProviderKind) DisplayName() string {
	switch k {
	case ProviderGemini:
		return "Gemini"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderMistral:
		return "Mistral"
	default:
		return string(k)
	}
}

// MetadataProvider is the inference gateway every AI integration implements.
// The orchestrator only ever talks to this interface.
type MetadataProvider interface {
	// Generate produces title, description and keywords for one file.
	// Failures are returned as *InferenceError.
	Generate(ctx context.Context, req InferenceRequest) (Metadata, error)
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string
	Kind() ProviderKind
	// Models returns the provider's model catalog.
	Models() []AIModel
}

// AIModel is one entry of a provider's model catalog.
type AIModel struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Speed    string       `json:"speed"`
	Provider ProviderKind `json:"provider"`
	Default  bool         `json:"default,omitempty"`
}

// InferenceRequest is the input to one metadata inference call.
type InferenceRequest struct {
	Image    []byte // raw file bytes; nil in filename-only mode
	Filename string
	MimeType string
	APIKey   string
	Model    string
	Settings GenerationSettings
}

// Metadata is the raw inference output before post-processing.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}
