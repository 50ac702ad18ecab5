package embedding

import (
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ClientOptions configures the OpenAI-compatible embedding endpoint.
type ClientOptions struct {
	APIKey string
	// BaseURL overrides the public endpoint, e.g. for a proxy or a test server.
	BaseURL string
}

// Client wraps the OpenAI client for embedding generation.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client. The SDK's own retries are disabled;
// Embedder retries rate-limited requests itself.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required (OPENAI_API_KEY)")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	return &Client{client: &client}, nil
}
