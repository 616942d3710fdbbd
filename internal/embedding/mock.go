package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/hyperjump/casefind/pkg/utils"
)

// MockProvider is a deterministic provider for tests and offline runs. The same input
// always yields the same unit vector; text and image inputs share one space, so the
// text "abc" and the bytes "abc" embed identically.
type MockProvider struct {
	name       string
	dimensions int
}

// NewMockProvider returns a provider producing vectors of the given dimensions.
func NewMockProvider(name string, dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 512
	}
	if name == "" {
		name = "mock"
	}
	return &MockProvider{name: name, dimensions: dimensions}
}

// Name returns the provider name.
func (p *MockProvider) Name() string { return p.name }

// Dimensions returns the embedding dimension.
func (p *MockProvider) Dimensions() int { return p.dimensions }

// EmbedText returns a deterministic embedding based on the text hash.
func (p *MockProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return p.embed(ctx, []byte(text))
}

// EmbedImage returns a deterministic embedding based on the image bytes.
func (p *MockProvider) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	return p.embed(ctx, data)
}

func (p *MockProvider) embed(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	seed := float64(h.Sum64()%1_000_003) + 1
	emb := make([]float32, p.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Close is a no-op.
func (p *MockProvider) Close() error { return nil }
