package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/casefind/pkg/utils"
)

// OpenAIProvider calls any OpenAI-compatible /v1/embeddings endpoint. It embeds text only.
type OpenAIProvider struct {
	URL        string
	Model      string
	APIKey     string
	HTTPClient *http.Client

	dimensions int
}

// NewOpenAIProvider creates a text provider for an OpenAI-compatible endpoint.
// dimensions is the model's known output size (1536 for text-embedding-ada-002).
func NewOpenAIProvider(url, model, apiKey string, dimensions int) *OpenAIProvider {
	return &OpenAIProvider{
		URL:        url,
		Model:      model,
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
		dimensions: dimensions,
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Name returns "openai:<model>".
func (p *OpenAIProvider) Name() string { return "openai:" + p.Model }

// Dimensions returns the configured output size.
func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

// EmbedText embeds a single text.
func (p *OpenAIProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImage is not supported by text embedding endpoints.
func (p *OpenAIProvider) EmbedImage(context.Context, []byte) ([]float32, error) {
	return nil, fmt.Errorf("%s: %w", p.Name(), ErrUnsupportedInput)
}

// Embed sends a batch of texts and returns vectors in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	endpoint := p.URL
	if !strings.HasSuffix(endpoint, "/v1/embeddings") {
		endpoint = strings.TrimRight(endpoint, "/") + "/v1/embeddings"
	}

	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.Model})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, utils.Truncate(string(respBody), 256))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("parsing embedding response: %w", err)
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", embResp.Error.Message)
	}
	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(embResp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range [0, %d)", d.Index, len(texts))
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding response missing vector %d", i)
		}
	}
	return vectors, nil
}

// Close is a no-op.
func (p *OpenAIProvider) Close() error { return nil }
