package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
)

const jpegQuality = 85

// Downscale shrinks JPEG and PNG images whose longest edge exceeds maxEdge,
// keeping the aspect ratio. Other types and small images are returned as is.
func Downscale(data []byte, mimeType string, maxEdge int) ([]byte, error) {
	var enc imgio.Encoder
	switch mimeType {
	case "image/jpeg":
		enc = imgio.JPEGEncoder(jpegQuality)
	case "image/png":
		enc = imgio.PNGEncoder()
	default:
		return data, nil
	}
	if maxEdge <= 0 {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width <= maxEdge && cfg.Height <= maxEdge {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	w, h := fit(cfg.Width, cfg.Height, maxEdge)
	resized := transform.Resize(img, w, h, transform.Linear)

	var buf bytes.Buffer
	if err := enc(&buf, resized); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(w, h, maxEdge int) (int, int) {
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge
}
