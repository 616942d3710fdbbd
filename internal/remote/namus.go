package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/observability"
)

const casesPath = "/api/CaseSets/NamUs/MissingPersons/Cases"

// DefaultMaxBodyBytes bounds a single response body unless WithMaxBodyBytes overrides it.
const DefaultMaxBodyBytes = 64 << 20

// ErrBodyTooLarge is returned for responses larger than the configured limit.
var ErrBodyTooLarge = errors.New("response body too large")

// NamUsClient is a Source backed by the NamUs public case API.
type NamUsClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	maxBody    int64
	logger     *zap.Logger
}

// ClientOption configures a NamUsClient.
type ClientOption func(*NamUsClient)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *NamUsClient) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *NamUsClient) {
		c.httpClient = hc
	}
}

// WithRateLimit caps outgoing requests at rps with the given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *NamUsClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithMaxBodyBytes sets the largest accepted response body.
func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *NamUsClient) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *NamUsClient) {
		c.userAgent = ua
	}
}

// NewNamUsClient creates a client rooted at baseURL (e.g. https://www.namus.gov).
func NewNamUsClient(baseURL string, timeout time.Duration, opts ...ClientOption) *NamUsClient {
	c := &NamUsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxBody:    DefaultMaxBodyBytes,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// RecordURL returns the API URL of a case.
func (c *NamUsClient) RecordURL(id int64) string {
	return fmt.Sprintf("%s%s/%d", c.baseURL, casesPath, id)
}

// AssetURL returns the download URL of a case image.
func (c *NamUsClient) AssetURL(recordID, assetID int64) string {
	return fmt.Sprintf("%s%s/%d/Images/%d/Download", c.baseURL, casesPath, recordID, assetID)
}

// FetchRecord downloads the raw JSON document of a case.
func (c *NamUsClient) FetchRecord(ctx context.Context, id int64) ([]byte, error) {
	return c.get(ctx, "record", c.RecordURL(id))
}

// FetchAsset downloads the bytes of a case image.
func (c *NamUsClient) FetchAsset(ctx context.Context, recordID, assetID int64) ([]byte, error) {
	return c.get(ctx, "asset", c.AssetURL(recordID, assetID))
}

// ListAssetRefs extracts image ids from a case document. Malformed image links are
// logged and skipped.
func (c *NamUsClient) ListAssetRefs(document []byte) ([]int64, error) {
	refs, skipped, err := ParseAssetRefs(document)
	if err != nil {
		return nil, err
	}
	for _, href := range skipped {
		c.logger.Warn("Skipping malformed image link", zap.String("href", href))
	}
	return refs, nil
}

func (c *NamUsClient) get(ctx context.Context, op, url string) (body []byte, err error) {
	defer func() {
		status := "ok"
		switch {
		case errors.Is(err, models.ErrNotFound):
			status = "not_found"
		case err != nil:
			status = "error"
		}
		observability.RemoteRequestsTotal.WithLabelValues(op, status).Inc()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrInvalidArgument, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.TransientError{Op: "GET " + url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: %w", url, models.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &models.TransientError{Op: "GET " + url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &models.TransientError{Op: "read " + url, Err: err}
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("GET %s: %w (limit %d bytes)", url, ErrBodyTooLarge, c.maxBody)
	}
	if len(body) == 0 {
		return nil, &models.TransientError{Op: "GET " + url, Err: errors.New("empty body")}
	}
	c.logger.Debug("fetched", zap.String("op", op), zap.String("url", url), zap.Int("bytes", len(body)))
	return body, nil
}
