// Package removal calls a hosted image-edit model to strip watermarks from an
// already uploaded image. The model runs as an async task that is polled to completion.
package removal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPrompt = "remove the text watermark from the image"

	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
	statusCanceled  = "CANCELED"

	synthesisPath = "/services/aigc/image2image/image-synthesis"
)

var (
	ErrNotConfigured = errors.New("removal api key is not configured")
	ErrTaskFailed    = errors.New("removal task failed")
	ErrTaskTimeout   = errors.New("removal task timed out")
	ErrBadResponse   = errors.New("unexpected removal response")
)

type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
}

type Result struct {
	URL    string `json:"url"`
	TaskID string `json:"task_id"`
}

type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	pollInterval time.Duration
	maxAttempts  int
	logger       *log.Logger
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 30
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "wanx2.1-imageedit"
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        model,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		logger:       logger,
	}
}

type synthesisRequest struct {
	Model      string          `json:"model"`
	Input      synthesisInput  `json:"input"`
	Parameters synthesisParams `json:"parameters"`
}

type synthesisInput struct {
	Function     string `json:"function"`
	Prompt       string `json:"prompt"`
	BaseImageURL string `json:"base_image_url"`
}

type synthesisParams struct {
	N int `json:"n"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Message    string `json:"message"`
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r taskResponse) firstURL() string {
	for _, res := range r.Output.Results {
		if res.URL != "" {
			return res.URL
		}
	}
	return ""
}

// RemoveWatermark submits imageURL for watermark removal and waits for the edited image URL.
// The image must be publicly reachable by the model provider.
func (c *Client) RemoveWatermark(ctx context.Context, imageURL, prompt string) (Result, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return Result{}, ErrNotConfigured
	}
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return Result{}, errors.New("image url is required")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}

	body, err := json.Marshal(synthesisRequest{
		Model: c.model,
		Input: synthesisInput{
			Function:     "remove_watermark",
			Prompt:       prompt,
			BaseImageURL: imageURL,
		},
		Parameters: synthesisParams{N: 1},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal removal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+synthesisPath, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build removal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	created, err := c.do(req)
	if err != nil {
		return Result{}, fmt.Errorf("submit removal task: %w", err)
	}

	if url := created.firstURL(); url != "" {
		return Result{URL: url, TaskID: created.Output.TaskID}, nil
	}
	taskID := created.Output.TaskID
	if taskID == "" {
		return Result{}, fmt.Errorf("%w: no task id or result", ErrBadResponse)
	}

	c.logger.Printf("removal task submitted task_id=%s", taskID)
	url, err := c.poll(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	return Result{URL: url, TaskID: taskID}, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID, nil)
		if err != nil {
			return "", fmt.Errorf("build task status request: %w", err)
		}

		status, err := c.do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
		case status.Output.TaskStatus == statusSucceeded:
			if url := status.firstURL(); url != "" {
				c.logger.Printf("removal task succeeded task_id=%s attempts=%d", taskID, attempt)
				return url, nil
			}
		case status.Output.TaskStatus == statusFailed, status.Output.TaskStatus == statusCanceled:
			msg := status.Output.Message
			if msg == "" {
				msg = status.Message
			}
			return "", fmt.Errorf("%w: task_id=%s status=%s %s", ErrTaskFailed, taskID, status.Output.TaskStatus, msg)
		}

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w after %d attempts: %v", ErrTaskTimeout, c.maxAttempts, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTaskTimeout, c.maxAttempts)
}

func (c *Client) do(req *http.Request) (taskResponse, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return taskResponse{}, err
	}
	defer resp.Body.Close()

	var out taskResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		if resp.StatusCode >= 300 {
			return taskResponse{}, fmt.Errorf("removal api returned status=%d", resp.StatusCode)
		}
		return taskResponse{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if resp.StatusCode >= 300 {
		return taskResponse{}, fmt.Errorf("removal api returned status=%d code=%s message=%s", resp.StatusCode, out.Code, out.Message)
	}
	return out, nil
}
