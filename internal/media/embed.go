package media

import (
	"fmt"

	"github.com/barasher/go-exiftool"

	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// Embedder writes generated metadata into image files using exiftool.
type Embedder struct {
	et *exiftool.Exiftool
}

// NewEmbedder starts an exiftool process. Close must be called when done.
func NewEmbedder() (*Embedder, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &Embedder{et: et}, nil
}

// Embed sets title, description and keywords on the file at path.
func (e *Embedder) Embed(path string, r models.ResultRecord) error {
	fms := e.et.ExtractMetadata(path)
	if len(fms) == 0 {
		return fmt.Errorf("exiftool: no metadata for %s", path)
	}
	if fms[0].Err != nil {
		return fmt.Errorf("read metadata %s: %w", path, fms[0].Err)
	}

	fms[0].SetString("Title", r.Title)
	fms[0].SetString("ImageDescription", r.Description)
	fms[0].SetString("Description", r.Description)
	fms[0].SetStrings("Keywords", r.Keywords)
	fms[0].SetStrings("Subject", r.Keywords)

	e.et.WriteMetadata(fms)
	if fms[0].Err != nil {
		return fmt.Errorf("write metadata %s: %w", path, fms[0].Err)
	}
	return nil
}

func (e *Embedder) Close() error {
	return e.et.Close()
}
