package llm

import (
	"context"
	"errors"
)

// Client abstracts the text-generation provider.
type Client interface {
	Generate(ctx context.Context, input GenerateInput) (Generation, error)
}

// GenerateInput is one prompt for the provider.
type GenerateInput struct {
	System string
	Prompt string
}

// Generation is the provider's output plus usage accounting.
type Generation struct {
	Text       string
	TokensUsed int
}

// ErrNotConfigured is returned by the placeholder client.
var ErrNotConfigured = errors.New("text generation provider not configured")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// Generate returns ErrNotConfigured.
func (PlaceholderClient) Generate(ctx context.Context, input GenerateInput) (Generation, error) {
	_ = ctx
	_ = input
	return Generation{}, ErrNotConfigured
}
