package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arkviz/flowpulse/types"
)

// Config configures the command API client.
type Config struct {
	BaseURL      string        // Collaborator API base URL, e.g. "https://backend/api/v1"
	Token        string        // Opaque bearer token forwarded as-is; issuance is the backend's concern
	Timeout      time.Duration // Per-request timeout (default 15s)
	CommandRate  rate.Limit    // Command submissions per second (default 5)
	CommandBurst int           // Burst allowance (default 5)
}

// Client talks to the collaborator command surface. Repeated commands
// are harmless re-sends (the backend is idempotent per command), but a
// client-side rate limiter keeps double-clicked buttons from
// stampeding it.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a command API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CommandRate == 0 {
		cfg.CommandRate = 5
	}
	if cfg.CommandBurst == 0 {
		cfg.CommandBurst = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(cfg.CommandRate, cfg.CommandBurst),
		logger:  logger.With(zap.String("component", "api_client")),
	}
}

type startRequest struct {
	AgentID string                  `json:"agent_id"`
	Input   map[string]any          `json:"input_data,omitempty"`
	Config  *types.ExecutionOptions `json:"config,omitempty"`
}

type commandResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StartExecution begins an execution for the agent and returns its
// reference.
func (c *Client) StartExecution(ctx context.Context, agentID string, input map[string]any, opts *types.ExecutionOptions) (*types.ExecutionRef, error) {
	var ref types.ExecutionRef
	body := startRequest{AgentID: agentID, Input: input, Config: opts}
	if err := c.post(ctx, "/executions", body, &ref); err != nil {
		return nil, err
	}
	if ref.ExecutionID == "" {
		return nil, types.NewError(types.ErrUpstreamError, "start response missing execution_id")
	}
	c.logger.Info("execution started",
		zap.String("agent_id", agentID),
		zap.String("execution_id", ref.ExecutionID))
	return &ref, nil
}

// CancelExecution requests cancellation of the execution.
func (c *Client) CancelExecution(ctx context.Context, executionID string) error {
	return c.command(ctx, executionID, "cancel")
}

// PauseExecution requests suspension of the execution.
func (c *Client) PauseExecution(ctx context.Context, executionID string) error {
	return c.command(ctx, executionID, "pause")
}

// ResumeExecution requests continuation of a paused execution.
func (c *Client) ResumeExecution(ctx context.Context, executionID string) error {
	return c.command(ctx, executionID, "resume")
}

// RestartExecution asks the backend for a fresh execution of the same
// agent and returns the new reference.
func (c *Client) RestartExecution(ctx context.Context, executionID string) (*types.ExecutionRef, error) {
	var ref types.ExecutionRef
	if err := c.post(ctx, "/executions/"+executionID+"/restart", nil, &ref); err != nil {
		return nil, err
	}
	if ref.ExecutionID == "" {
		return nil, types.NewError(types.ErrUpstreamError, "restart response missing execution_id")
	}
	return &ref, nil
}

// command posts a verb against an execution and decodes the
// {success: bool} envelope.
func (c *Client) command(ctx context.Context, executionID, verb string) error {
	var resp commandResponse
	if err := c.post(ctx, "/executions/"+executionID+"/"+verb, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = verb + " not accepted"
		}
		return types.NewError(types.ErrCommandRejected, msg)
	}
	return nil
}

// post performs one JSON request/response round trip.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return types.NewError(types.ErrUpstreamError, "decode response").WithCause(err)
		}
	}
	return nil
}

// statusError maps an HTTP failure status onto the structured error
// taxonomy.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return types.NewError(types.ErrExecutionNotFound, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return types.NewError(types.ErrCommandRejected, msg)
	case resp.StatusCode >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrInvalidRequest, msg)
	}
}
