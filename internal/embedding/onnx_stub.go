//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX CLIP provider requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// CLIPConfig locates the exported CLIP towers (see onnx.go).
type CLIPConfig struct {
	VisionModelPath string
	TextModelPath   string
	Dimensions      int
	ImageSize       int
	MaxTokens       int
}

// CLIPProvider stub type when built without CGO.
type CLIPProvider struct{}

// NewCLIPProvider returns an error when built without CGO.
func NewCLIPProvider(CLIPConfig) (*CLIPProvider, error) {
	return nil, errNoCGO
}

func (p *CLIPProvider) Name() string    { return "onnx-clip" }
func (p *CLIPProvider) Dimensions() int { return 0 }
func (p *CLIPProvider) Close() error    { return nil }

func (p *CLIPProvider) EmbedText(context.Context, string) ([]float32, error) {
	return nil, errNoCGO
}

func (p *CLIPProvider) EmbedImage(context.Context, []byte) ([]float32, error) {
	return nil, errNoCGO
}
