package ai

import "errors"

var (
	ErrUnknownProvider = errors.New("unknown ai provider")
	ErrUnknownModel    = errors.New("model not in provider catalog")
)
