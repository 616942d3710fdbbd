// Package embedding turns record text and images into vectors through pluggable providers
// (ONNX CLIP, OpenAI-compatible HTTP, deterministic mock), with timeout guarding and
// query-vector caching.
package embedding

import (
	"context"
	"errors"
)

// Input kinds, used in errors, metrics and spans.
const (
	InputText  = "text"
	InputImage = "image"
)

// ErrUnsupportedInput is returned when a provider cannot embed the given input kind.
var ErrUnsupportedInput = errors.New("input kind not supported by provider")

// Provider produces fixed-dimension vectors for text and/or image inputs.
// Vectors are L2-normalized. Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Dimensions() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	Close() error
}
