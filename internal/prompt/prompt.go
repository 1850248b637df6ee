// Package prompt builds metadata-generation prompts and parses model replies.
package prompt

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

const responseFormat = `

Respond in this exact JSON format:
{
  "title": "your title here",
  "description": "your description here",
  "keywords": ["keyword1", "keyword2", "keyword3"]
}`

// Build returns the prompt for one file under the given settings.
func Build(filename string, s models.GenerationSettings) string {
	var b strings.Builder

	if s.FilenameOnlyMode {
		fmt.Fprintf(&b, `Based on this filename: "%s", generate stock photography metadata without seeing the actual image.

Generate:
1. Title: A compelling title (max %d characters)
2. Description: A description (max %d characters)
3. Keywords: %d relevant keywords`, filename, s.TitleLength, s.DescriptionLength, s.KeywordsCount)
		b.WriteString(responseFormat)
		return b.String()
	}

	fmt.Fprintf(&b, `You are a professional stock photography metadata generator. Analyze this image and generate SEO-optimized metadata.

Generate the following:
1. Title: A compelling, descriptive title (max %d characters). Do not use quotes.
2. Description: A detailed description for stock platforms (max %d characters). Do not use quotes.
3. Keywords: %d relevant keywords for searchability.`, s.TitleLength, s.DescriptionLength, s.KeywordsCount)

	switch s.KeywordFormat {
	case models.KeywordFormatSingle:
		b.WriteString("\n\nKeyword format: Use only single-word keywords.")
	case models.KeywordFormatDouble:
		b.WriteString("\n\nKeyword format: Use only two-word keyword phrases.")
	default:
		b.WriteString("\n\nKeyword format: Mix of single and multi-word keywords.")
	}

	if s.IncludeKeywords != "" {
		fmt.Fprintf(&b, "\n\nMUST include these keywords if relevant: %s", s.IncludeKeywords)
	}
	if s.ExcludeKeywords != "" {
		fmt.Fprintf(&b, "\n\nDO NOT use these keywords: %s", s.ExcludeKeywords)
	}
	if s.FilenameAsTitle {
		fmt.Fprintf(&b, "\n\nUse this as the title: \"%s\"", TitleFromFilename(filename))
	}

	b.WriteString(responseFormat)
	return b.String()
}

// TitleFromFilename strips the extension and turns '-' and '_' into spaces.
func TitleFromFilename(filename string) string {
	base := filename
	if ext := filepath.Ext(base); ext != "" && ext != base && !strings.ContainsAny(ext, `/\`) {
		base = strings.TrimSuffix(base, ext)
	}
	return strings.NewReplacer("-", " ", "_", " ").Replace(base)
}

// Parse extracts metadata from a free-text model reply. The JSON object is
// taken from the first '{' to the last '}'.
func Parse(text string) (models.Metadata, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return models.Metadata{}, models.NewInferenceError(models.ErrorParse, "Failed to parse the AI response.")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return models.Metadata{}, models.NewInferenceError(models.ErrorJSON, "The AI returned invalid JSON.")
	}

	md := models.Metadata{Keywords: []string{}}
	if title, ok := raw["title"].(string); ok && title != "" {
		md.Title = title
	} else {
		md.Title = "Untitled"
	}
	if desc, ok := raw["description"].(string); ok {
		md.Description = desc
	}
	if kws, ok := raw["keywords"].([]any); ok {
		for _, k := range kws {
			if s, ok := k.(string); ok {
				md.Keywords = append(md.Keywords, s)
			}
		}
	}
	return md, nil
}
