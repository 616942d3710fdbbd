package embedding

import (
	"fmt"

	"github.com/hyperjump/casefind/internal/config"
)

// NewImageProvider builds the provider for the joint image/text space.
func NewImageProvider(cfg config.ImageModelConfig) (Provider, error) {
	switch cfg.Provider {
	case "mock":
		return NewMockProvider("mock-clip", cfg.Dimensions), nil
	case "onnx":
		p, err := NewCLIPProvider(CLIPConfig{
			VisionModelPath: cfg.ModelPath,
			TextModelPath:   cfg.TextModelPath,
			Dimensions:      cfg.Dimensions,
			ImageSize:       cfg.ImageSize,
			MaxTokens:       cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown image embedding provider %q", cfg.Provider)
	}
}

// NewTextProvider builds the provider for the record-text space.
func NewTextProvider(cfg config.TextModelConfig) (Provider, error) {
	switch cfg.Provider {
	case "mock":
		return NewMockProvider("mock-text", cfg.Dimensions), nil
	case "openai":
		return NewOpenAIProvider(cfg.URL, cfg.Model, cfg.APIKey(), cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown text embedding provider %q", cfg.Provider)
	}
}
