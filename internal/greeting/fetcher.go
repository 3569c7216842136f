// Package greeting fetches dynamic greeting text from an external
// generation service. A slide flagged with dynamic_greeting presents the
// fetched text instead of its scripted initial message; when the service is
// unreachable the scripted text remains the fallback.
package greeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/harborcs/taskmode/internal/config"
	"github.com/harborcs/taskmode/model"
)

// Fetcher requests greeting text over HTTP. It implements the dialogue
// engine's Greeter interface.
type Fetcher struct {
	endpoint string
	client   *http.Client
	breaker  *breaker
	logger   *zap.Logger
}

// New creates a Fetcher for the configured greeting service.
func New(cfg config.GreetingConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Fetcher{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxConnsPerHost:     10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: newBreaker(cfg.FailureThreshold, cfg.Cooldown),
		logger:  logger,
	}
}

type greetRequest struct {
	WorkflowID string             `json:"workflowId"`
	SlideID    string             `json:"slideId"`
	Customer   model.CustomerMeta `json:"customer"`
	State      map[string]any     `json:"state,omitempty"`
}

type greetResponse struct {
	Greeting string `json:"greeting"`
}

// Greet requests greeting text for one slide. It honors the context
// deadline in addition to the client timeout, so a caller with a tighter
// budget wins. Repeated service failures suspend fetching for a cooldown
// period; during suspension Greet fails fast and the scripted text is used.
func (f *Fetcher) Greet(ctx context.Context, def model.WorkflowDefinition, slide model.SlideDefinition, state map[string]any) (string, error) {
	if err := f.breaker.allow(); err != nil {
		return "", err
	}

	text, err := f.fetch(ctx, def, slide, state)
	if err != nil {
		// A cancelled caller says nothing about service health.
		if ctx.Err() == nil {
			f.breaker.recordFailure()
			if f.breaker.isOpen() {
				f.logger.Warn("greeting service suspended",
					zap.String("workflow_id", def.ID),
					zap.Error(err))
			}
		}
		return "", err
	}
	f.breaker.recordSuccess()
	return text, nil
}

func (f *Fetcher) fetch(ctx context.Context, def model.WorkflowDefinition, slide model.SlideDefinition, state map[string]any) (string, error) {
	body, err := json.Marshal(greetRequest{
		WorkflowID: def.ID,
		SlideID:    slide.ID,
		Customer:   def.Customer,
		State:      state,
	})
	if err != nil {
		return "", fmt.Errorf("greeting: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("greeting: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("greeting: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("greeting: service returned %d", resp.StatusCode)
	}

	var parsed greetResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("greeting: decode response: %w", err)
	}
	if parsed.Greeting == "" {
		return "", fmt.Errorf("greeting: service returned empty text")
	}

	f.logger.Debug("greeting fetched",
		zap.String("workflow_id", def.ID),
		zap.String("slide_id", slide.ID),
		zap.Duration("elapsed", time.Since(start)))
	return parsed.Greeting, nil
}
