package images

import (
	"context"
	"errors"
)

// Client abstracts the image-generation provider. Calls take tens of seconds
// and the provider enforces its own rate ceiling; callers bound their fan-out
// accordingly.
type Client interface {
	Generate(ctx context.Context, prompt string) (ImageRef, error)
}

// ImageRef points at one generated image. Exactly one of URL or Data is set,
// depending on the provider's response format.
type ImageRef struct {
	URL  string
	Data []byte
}

// ErrNotConfigured is returned by the placeholder client.
var ErrNotConfigured = errors.New("image generation provider not configured")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// Generate returns ErrNotConfigured.
func (PlaceholderClient) Generate(ctx context.Context, prompt string) (ImageRef, error) {
	_ = ctx
	_ = prompt
	return ImageRef{}, ErrNotConfigured
}
