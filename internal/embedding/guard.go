package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/observability"
	"github.com/hyperjump/casefind/pkg/utils"
)

// DefaultTimeout bounds a single embedding call when none is configured.
const DefaultTimeout = 30 * time.Second

var errDegenerate = errors.New("provider returned a zero or non-finite vector")

// Guard wraps a Provider with a per-call timeout, input validation, output checks and
// metrics. Any provider failure, including a timeout, surfaces as
// models.ErrProviderUnavailable; cancellation of the caller's context is returned as is.
type Guard struct {
	inner   Provider
	timeout time.Duration
	logger  *zap.Logger
}

// NewGuard wraps p. A non-positive timeout selects DefaultTimeout.
func NewGuard(p Provider, timeout time.Duration, logger *zap.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{inner: p, timeout: timeout, logger: logger}
}

// Name returns the wrapped provider's name.
func (g *Guard) Name() string { return g.inner.Name() }

// Dimensions returns the wrapped provider's dimensions.
func (g *Guard) Dimensions() int { return g.inner.Dimensions() }

// Close closes the wrapped provider.
func (g *Guard) Close() error { return g.inner.Close() }

// EmbedText embeds a non-empty text.
func (g *Guard) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", models.ErrInvalidArgument)
	}
	return g.call(ctx, InputText, func(ctx context.Context) ([]float32, error) {
		return g.inner.EmbedText(ctx, text)
	})
}

// EmbedImage embeds non-empty image bytes.
func (g *Guard) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrInvalidArgument)
	}
	return g.call(ctx, InputImage, func(ctx context.Context) ([]float32, error) {
		return g.inner.EmbedImage(ctx, data)
	})
}

type embedResult struct {
	vec []float32
	err error
}

func (g *Guard) call(ctx context.Context, input string, fn func(context.Context) ([]float32, error)) ([]float32, error) {
	name := g.inner.Name()
	ctx, span := observability.StartProviderSpan(ctx, name, input)
	defer span.End()

	start := time.Now()
	vec, err := g.run(ctx, fn)
	if err == nil {
		err = g.check(vec)
	}
	observability.ProviderLatency.WithLabelValues(name, input).Observe(time.Since(start).Seconds())
	observability.ProviderRequestsTotal.WithLabelValues(name, input, observability.Status(err)).Inc()
	observability.RecordError(span, err)

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, err
		}
		g.logger.Debug("embedding call failed",
			zap.String("provider", name),
			zap.String("input", input),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		if errors.Is(err, models.ErrDimensionMismatch) || errors.Is(err, models.ErrInvalidArgument) {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return nil, &models.ProviderError{Provider: name, Err: err}
	}
	return vec, nil
}

// run enforces the timeout even for providers that block without watching ctx.
func (g *Guard) run(ctx context.Context, fn func(context.Context) ([]float32, error)) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan embedResult, 1)
	go func() {
		v, err := fn(cctx)
		done <- embedResult{vec: v, err: err}
	}()

	select {
	case r := <-done:
		return r.vec, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("timed out after %s: %w", g.timeout, cctx.Err())
	}
}

// check validates vec and normalizes it in place.
func (g *Guard) check(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("provider returned an empty vector")
	}
	if want := g.inner.Dimensions(); want > 0 && len(vec) != want {
		return &models.DimensionMismatchError{Expected: want, Actual: len(vec)}
	}
	if norm := utils.NormalizeL2(vec); norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return errDegenerate
	}
	return nil
}
