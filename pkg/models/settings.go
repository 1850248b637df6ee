package models

import "fmt"

// KeywordFormat constrains the shape of generated keywords.
type KeywordFormat string

const (
	KeywordFormatSingle KeywordFormat = "single"
	KeywordFormatDouble KeywordFormat = "double"
	KeywordFormatMixed  KeywordFormat = "mixed"
)

// GenerationSettings configures one batch run. It is read-only to the orchestrator.
type GenerationSettings struct {
	TitleLength       int           `json:"title_length"`
	DescriptionLength int           `json:"description_length"`
	KeywordsCount     int           `json:"keywords_count"`
	KeywordFormat     KeywordFormat `json:"keyword_format"`
	IncludeKeywords   string        `json:"include_keywords"`
	ExcludeKeywords   string        `json:"exclude_keywords"`
	FilenameAsTitle   bool          `json:"filename_as_title"`
	FilenameOnlyMode  bool          `json:"filename_only_mode"`
	TitlePrefix       string        `json:"title_prefix"`
	TitleSuffix       string        `json:"title_suffix"`
	DescriptionPrefix string        `json:"description_prefix"`
	DescriptionSuffix string        `json:"description_suffix"`
}

// DefaultSettings returns the settings a new session starts with.
func DefaultSettings() GenerationSettings {
	return GenerationSettings{
		TitleLength:       100,
		DescriptionLength: 150,
		KeywordsCount:     40,
		KeywordFormat:     KeywordFormatMixed,
	}
}

// Validate checks lengths, counts and the keyword format.
func (s GenerationSettings) Validate() error {
	if s.TitleLength <= 0 {
		return fmt.Errorf("title_length must be positive, got %d", s.TitleLength)
	}
	if s.DescriptionLength <= 0 {
		return fmt.Errorf("description_length must be positive, got %d", s.DescriptionLength)
	}
	if s.KeywordsCount <= 0 {
		return fmt.Errorf("keywords_count must be positive, got %d", s.KeywordsCount)
	}
	switch s.KeywordFormat {
	case KeywordFormatSingle, KeywordFormatDouble, KeywordFormatMixed:
	default:
		return fmt.Errorf("keyword_format must be one of single, double, mixed; got %q", s.KeywordFormat)
	}
	return nil
}
