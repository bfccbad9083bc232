package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrDisabled is returned when no API key is configured. Callers fall back
// to template output.
var ErrDisabled = errors.New("llm: no API key configured")

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
	maxTokens      = 1024
	temperature    = 0.7
	retryAttempts  = 3
)

// Client talks to the Anthropic messages endpoint behind a circuit breaker.
// The model only writes announcements, so failures are always survivable.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Logger
	apiKey     string
	model      string
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type response struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewClient builds a client. An empty apiKey yields a disabled client whose
// Generate always returns ErrDisabled.
func NewClient(apiKey, model string, logger *logrus.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "anthropic-api",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit":    name,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Info("Language model circuit breaker state changed")
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		breaker:    breaker,
	}
}

// Available reports whether generation can be attempted at all.
func (c *Client) Available() bool {
	return c.apiKey != "" && c.breaker.State() != gobreaker.StateOpen
}

// Generate sends one prompt and returns the model's text.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrDisabled
	}

	req := request{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}

	resp := result.(*response)
	c.logger.WithFields(logrus.Fields{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"stop_reason":   resp.StopReason,
	}).Debug("Language model response received")

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", errors.New("llm: response carried no text content")
}

func (c *Client) send(ctx context.Context, req request) (*response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", apiVersion)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var decoded response
			err := json.NewDecoder(resp.Body).Decode(&decoded)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
			return &decoded, nil
		}

		var decodedErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&decodedErr)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusBadRequest:
			// Not retryable.
			return nil, fmt.Errorf("api rejected request (status %d): %s", resp.StatusCode, decodedErr.Message)
		default:
			lastErr = fmt.Errorf("api error (status %d): %s", resp.StatusCode, decodedErr.Message)
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", retryAttempts, lastErr)
}
