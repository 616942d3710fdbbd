//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// CLIPConfig locates the exported CLIP towers. TextModelPath may be empty, in which case
// the provider embeds images only.
type CLIPConfig struct {
	VisionModelPath string
	TextModelPath   string
	Dimensions      int
	ImageSize       int
	MaxTokens       int
}

// CLIPProvider runs CLIP vision and text towers with ONNX Runtime. It requires CGO and
// the onnxruntime shared library. Both towers project into the same space.
type CLIPProvider struct {
	cfg       CLIPConfig
	tokenizer Tokenizer

	// Pre-allocated tensors bound to the sessions; Run() reads inputs and fills outputs.
	vision      *ort.AdvancedSession
	pixelTensor *ort.Tensor[float32]
	imageOut    *ort.Tensor[float32]

	text       *ort.AdvancedSession
	idsTensor  *ort.Tensor[int64]
	maskTensor *ort.Tensor[int64]
	textOut    *ort.Tensor[float32]

	mu sync.Mutex
}

// NewCLIPProvider loads the configured towers. The ONNX environment is initialized on
// first use.
func NewCLIPProvider(cfg CLIPConfig) (*CLIPProvider, error) {
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = DefaultImageSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultContextLength
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("clip: dimensions must be positive")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	p := &CLIPProvider{cfg: cfg, tokenizer: &SimpleTokenizer{}}
	if err := p.initVision(); err != nil {
		_ = p.Close()
		return nil, err
	}
	if cfg.TextModelPath != "" {
		if err := p.initText(); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *CLIPProvider) initVision() error {
	s := int64(p.cfg.ImageSize)
	var err error
	p.pixelTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	p.imageOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(p.cfg.Dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create image_embeds tensor: %w", err)
	}
	p.vision, err = ort.NewAdvancedSession(
		p.cfg.VisionModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{p.pixelTensor},
		[]ort.ArbitraryTensor{p.imageOut},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create vision session: %w", err)
	}
	return nil
}

func (p *CLIPProvider) initText() error {
	shape := ort.NewShape(1, int64(p.cfg.MaxTokens))
	var err error
	p.idsTensor, err = ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	p.maskTensor, err = ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	p.textOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(p.cfg.Dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create text_embeds tensor: %w", err)
	}
	p.text, err = ort.NewAdvancedSession(
		p.cfg.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{p.idsTensor, p.maskTensor},
		[]ort.ArbitraryTensor{p.textOut},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create text session: %w", err)
	}
	return nil
}

// Name returns "onnx-clip".
func (p *CLIPProvider) Name() string { return "onnx-clip" }

// Dimensions returns the embedding dimension.
func (p *CLIPProvider) Dimensions() int { return p.cfg.Dimensions }

// EmbedImage runs the vision tower on decoded, CLIP-normalized pixels.
func (p *CLIPProvider) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	pixels, err := PreprocessImage(data, p.cfg.ImageSize)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.pixelTensor.GetData(), pixels)
	if err := p.vision.Run(); err != nil {
		return nil, fmt.Errorf("vision inference failed: %w", err)
	}
	out := make([]float32, p.cfg.Dimensions)
	copy(out, p.imageOut.GetData())
	return out, nil
}

// EmbedText runs the text tower. It fails with ErrUnsupportedInput when no text model
// was configured.
func (p *CLIPProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if p.text == nil {
		return nil, fmt.Errorf("%s text tower not loaded: %w", p.Name(), ErrUnsupportedInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask := p.tokenizer.Tokenize(text, p.cfg.MaxTokens)

	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.idsTensor.GetData(), ids)
	copy(p.maskTensor.GetData(), mask)
	if err := p.text.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	out := make([]float32, p.cfg.Dimensions)
	copy(out, p.textOut.GetData())
	return out, nil
}

// Close destroys the sessions and tensors.
func (p *CLIPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.vision != nil {
		err = p.vision.Destroy()
		p.vision = nil
	}
	if p.text != nil {
		if e := p.text.Destroy(); e != nil && err == nil {
			err = e
		}
		p.text = nil
	}
	for _, t := range []*ort.Tensor[float32]{p.pixelTensor, p.imageOut, p.textOut} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	for _, t := range []*ort.Tensor[int64]{p.idsTensor, p.maskTensor} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	p.pixelTensor, p.imageOut, p.textOut = nil, nil, nil
	p.idsTensor, p.maskTensor = nil, nil
	return err
}
