package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"docbrief-backend/internal/images"
	"docbrief-backend/internal/llm"
	"docbrief-backend/internal/shared/telemetry"
)

const retryPause = 300 * time.Millisecond

// shouldRetry reports whether a provider error looks transient enough that a
// single immediate retry is worth the call.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"timeout", "timed out", "rate limit", "429", "500", "502", "503", "connection reset", "temporarily"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// retryingText wraps a text client with a single retry for transient failures.
type retryingText struct {
	inner llm.Client
}

func (r retryingText) Generate(ctx context.Context, in llm.GenerateInput) (llm.Generation, error) {
	gen, err := r.inner.Generate(ctx, in)
	if err == nil || !shouldRetry(err) {
		return gen, err
	}
	telemetry.Info("text generation retrying after transient error", map[string]any{
		"error": err.Error(),
	})
	select {
	case <-time.After(retryPause):
	case <-ctx.Done():
		return llm.Generation{}, ctx.Err()
	}
	return r.inner.Generate(ctx, in)
}

// retryingImages wraps an image client with the same single-retry policy.
type retryingImages struct {
	inner images.Client
}

func (r retryingImages) Generate(ctx context.Context, prompt string) (images.ImageRef, error) {
	ref, err := r.inner.Generate(ctx, prompt)
	if err == nil || !shouldRetry(err) {
		return ref, err
	}
	telemetry.Info("image generation retrying after transient error", map[string]any{
		"error": err.Error(),
	})
	select {
	case <-time.After(retryPause):
	case <-ctx.Done():
		return images.ImageRef{}, ctx.Err()
	}
	return r.inner.Generate(ctx, prompt)
}
