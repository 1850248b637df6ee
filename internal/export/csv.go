// Package export renders completed records into stock-platform CSV files.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

var ErrUnknownPlatform = errors.New("unknown export platform")

// BOM is prepended to every exported file so spreadsheet tools detect UTF-8.
const BOM = "\uFEFF"

const (
	adobeFilenameMax = 30
	adobeTitleMax    = 70
	adobeKeywordsMax = 50
)

// Platform identifies a stock agency CSV schema.
type Platform string

const (
	Shutterstock  Platform = "shutterstock"
	AdobeStock    Platform = "adobe-stock"
	IStock        Platform = "istock"
	Depositphotos Platform = "depositphotos"
	Dreamstime    Platform = "dreamstime"
	RF123         Platform = "123rf"
)

// PlatformInfo describes one schema for listings.
type PlatformInfo struct {
	ID      Platform `json:"id"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type schema struct {
	name   string
	header []string
	row    func(r models.ResultRecord) []string
}

var schemas = map[Platform]schema{
	Shutterstock: {
		name:   "Shutterstock",
		header: []string{"Filename", "Description", "Keywords", "Categories", "Mature content", "Editorial"},
		row: func(r models.ResultRecord) []string {
			return []string{r.Filename, r.Description, joinKeywords(r.Keywords), "", "No", "No"}
		},
	},
	AdobeStock: {
		name:   "Adobe Stock",
		header: []string{"Filename", "Title", "Keywords", "Category", "Releases"},
		row: func(r models.ResultRecord) []string {
			kws := r.Keywords
			if len(kws) > adobeKeywordsMax {
				kws = kws[:adobeKeywordsMax]
			}
			title := models.TruncateRunes(strings.ReplaceAll(r.Title, ",", ""), adobeTitleMax)
			return []string{models.TruncateRunes(r.Filename, adobeFilenameMax), title, joinKeywords(kws), "", ""}
		},
	},
	IStock: {
		name:   "iStock",
		header: []string{"Filename", "Title", "Description", "Keywords"},
		row: func(r models.ResultRecord) []string {
			return []string{r.Filename, r.Title, r.Description, joinKeywords(r.Keywords)}
		},
	},
	Depositphotos: {
		name:   "Depositphotos",
		header: []string{"filename", "title", "description", "keywords"},
		row: func(r models.ResultRecord) []string {
			return []string{r.Filename, r.Title, r.Description, joinKeywords(r.Keywords)}
		},
	},
	Dreamstime: {
		name: "Dreamstime",
		header: []string{"filename", "title", "description", "keywords", "main_category", "secondary_category",
			"W-EL", "P-EL", "SR-EL", "MR", "submission"},
		row: func(r models.ResultRecord) []string {
			return []string{r.Filename, r.Title, r.Description, joinKeywords(r.Keywords), "", "", "1", "1", "1", "", "1"}
		},
	},
	RF123: {
		name:   "123RF",
		header: []string{"oldfilename", "123rf_filename", "description", "keywords", "country"},
		row: func(r models.ResultRecord) []string {
			return []string{r.Filename, r.Filename, r.Description, joinKeywords(r.Keywords), ""}
		},
	},
}

var order = []Platform{Shutterstock, AdobeStock, IStock, Depositphotos, Dreamstime, RF123}

// Platforms lists every supported schema in display order.
func Platforms() []PlatformInfo {
	out := make([]PlatformInfo, 0, len(order))
	for _, p := range order {
		s := schemas[p]
		out = append(out, PlatformInfo{ID: p, Name: s.name, Columns: append([]string(nil), s.header...)})
	}
	return out
}

// ParsePlatform validates a platform id.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := schemas[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
	return p, nil
}

// Render produces the CSV text for one platform. Rows follow the input order.
// Callers pass completed records only.
func Render(platform Platform, records []models.ResultRecord, settings models.GenerationSettings) (string, error) {
	s, ok := schemas[platform]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, joinRow(s.header))
	for _, r := range records {
		r.Title = decorate(r.Title, settings.TitlePrefix, settings.TitleSuffix)
		r.Description = decorate(r.Description, settings.DescriptionPrefix, settings.DescriptionSuffix)
		lines = append(lines, joinRow(s.row(r)))
	}
	return strings.Join(lines, "\n"), nil
}

// Escape quotes a field when it contains a comma, quote or newline.
func Escape(v string) string {
	if !strings.ContainsAny(v, ",\"\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// Filename returns the download name for a platform export on t's UTC date.
func Filename(platform Platform, t time.Time) string {
	return fmt.Sprintf("metadata_%s_%s.csv", platform, t.UTC().Format("2006_01_02"))
}

// WithBOM prefixes the UTF-8 byte-order mark.
func WithBOM(csv string) string {
	return BOM + csv
}

// WriteFiles renders one BOM-prefixed file per platform into dir and returns
// the written paths in platform order.
func WriteFiles(ctx context.Context, dir string, platforms []Platform, records []models.ResultRecord, settings models.GenerationSettings, now time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	paths := make([]string, len(platforms))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range platforms {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := Render(p, records, settings)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, Filename(p, now))
			if err := os.WriteFile(path, []byte(WithBOM(text)), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// decorate applies a prefix and suffix unless they are already present.
func decorate(v, prefix, suffix string) string {
	if prefix != "" && !strings.HasPrefix(v, prefix) {
		v = prefix + v
	}
	if suffix != "" && !strings.HasSuffix(v, suffix) {
		v = v + suffix
	}
	return v
}

func joinKeywords(kws []string) string {
	return strings.Join(kws, ",")
}

func joinRow(fields []string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = Escape(f)
	}
	return strings.Join(escaped, ",")
}
