// Package media loads, scans, resizes and tags image files.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// MimeType returns the content type for a filename, or "" when unsupported.
func MimeType(name string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(name))]
}

// Supported reports whether the file extension is one the batch accepts.
func Supported(name string) bool {
	return MimeType(name) != ""
}

// FileSource reads a file from disk, downscaling it when MaxEdge is set.
type FileSource struct {
	Path    string
	MaxEdge int
}

func (f FileSource) Name() string     { return filepath.Base(f.Path) }
func (f FileSource) MimeType() string { return MimeType(f.Path) }

func (f FileSource) Load() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	if f.MaxEdge <= 0 {
		return data, nil
	}
	return Downscale(data, f.MimeType(), f.MaxEdge)
}

// MemorySource holds uploaded bytes.
type MemorySource struct {
	Filename    string
	ContentType string
	Data        []byte
	MaxEdge     int
}

func (m MemorySource) Name() string { return m.Filename }

func (m MemorySource) MimeType() string {
	if m.ContentType != "" && m.ContentType != "application/octet-stream" {
		return m.ContentType
	}
	return MimeType(m.Filename)
}

func (m MemorySource) Load() ([]byte, error) {
	if m.MaxEdge <= 0 {
		return m.Data, nil
	}
	return Downscale(m.Data, m.MimeType(), m.MaxEdge)
}

var (
	_ models.Source = FileSource{}
	_ models.Source = MemorySource{}
)
