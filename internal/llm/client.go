// Package llm talks to the hosted OpenAI-compatible endpoint that serves
// both chat completions and embeddings for the cookbook.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Message is a single chat turn sent to the completion endpoint.
type Message struct {
	Role    string
	Content string
}

var (
	// ErrUpstream classifies transport and server-side failures of the endpoint.
	ErrUpstream = errors.New("upstream failure")
	// ErrInvalidResponse marks a 2xx response with no usable payload.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// UpstreamError carries the HTTP status of a failed endpoint call.
// Status 0 means the request never got a response (network error, timeout).
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream: %v", e.Err)
	}
	return fmt.Sprintf("upstream HTTP %d: %v", e.Status, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUpstream) match wrapped upstream failures.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client wraps the endpoint with bounded retry, exponential backoff and
// error classification.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
	backoff    time.Duration
}

// New builds a client for the endpoint at baseURL. One credential pair
// serves both the chat and the embedding model.
func New(baseURL, apiKey, chatModel, embedModel string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		api:        openai.NewClientWithConfig(cfg),
		chatModel:  chatModel,
		embedModel: embedModel,
		backoff:    initialBackoff,
	}
}

// Complete sends messages as one chat completion request and returns the
// assistant text. Transient failures are retried up to maxRetries attempts
// before surfacing as ErrUpstream.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, "chat completion", func() error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return text, nil
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	err := c.withRetry(ctx, "embeddings", func() error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrInvalidResponse, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrInvalidResponse, d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float32(x)
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%w: no embedding for input %d", ErrInvalidResponse, i)
		}
	}
	return out, nil
}

func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	var lastErr *UpstreamError
	for attempt := range maxRetries {
		err := call()
		if err == nil {
			return nil
		}

		ue := classify(err)
		if !ue.retryable() {
			return ue
		}
		lastErr = ue

		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			slog.Debug("retrying "+op, "attempt", attempt+1, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return &UpstreamError{Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, lastErr)
}

func classify(err error) *UpstreamError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &UpstreamError{Err: err}
}
