package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"docbrief-backend/internal/images"
)

const apiURL = "https://api.openai.com/v1/images/generations"

// Client implements images.Client using the OpenAI Images API.
type Client struct {
	apiKey     string
	model      string
	size       string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI image-generation client.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "dall-e-3"
	}
	timeout := 180 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_IMAGE_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		size:   "1024x1024",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate requests one image for the prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (images.ImageRef, error) {
	if strings.TrimSpace(prompt) == "" {
		return images.ImageRef{}, fmt.Errorf("image prompt is required")
	}

	payload, err := json.Marshal(imageRequest{
		Model:  c.model,
		Prompt: prompt,
		N:      1,
		Size:   c.size,
	})
	if err != nil {
		return images.ImageRef{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return images.ImageRef{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return images.ImageRef{}, fmt.Errorf("openai image request timeout: %w", err)
		}
		return images.ImageRef{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return images.ImageRef{}, err
	}

	var parsed imageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return images.ImageRef{}, fmt.Errorf("openai image response parse: %w", err)
	}
	if parsed.Error != nil {
		return images.ImageRef{}, fmt.Errorf("openai image error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Data) == 0 {
		return images.ImageRef{}, fmt.Errorf("openai image response missing data")
	}

	first := parsed.Data[0]
	if first.URL != "" {
		return images.ImageRef{URL: first.URL}, nil
	}
	if first.B64JSON != "" {
		raw, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return images.ImageRef{}, fmt.Errorf("openai image decode: %w", err)
		}
		return images.ImageRef{Data: raw}, nil
	}
	return images.ImageRef{}, fmt.Errorf("openai image response empty")
}

var _ images.Client = (*Client)(nil)
