package generate

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles calls to an underlying model.
type Limited struct {
	model   Model
	limiter *rate.Limiter
}

// NewLimited wraps m with a token bucket of perSecond calls and the given burst.
// A non-positive rate returns m unchanged.
func NewLimited(m Model, perSecond float64, burst int) Model {
	if perSecond <= 0 {
		return m
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{model: m, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Invoke waits for a token, then calls the model. Waiting honours ctx, so a
// superseded request gives up its place.
func (l *Limited) Invoke(ctx context.Context, p Prompt) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.model.Invoke(ctx, p)
}
