// Package hfclient implements modelresolver.HFClient against the real
// Hugging Face Hub REST API: 3 attempts, 2^attempt sleep on 429, immediate
// return on a genuine not-found signal.
package hfclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visgate-ai/deploy-orchestrator/internal/modelresolver"
)

const defaultBaseURL = "https://huggingface.co/api/models"

// Client checks model existence against the Hugging Face Hub.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

func New(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

// Exists implements modelresolver.HFClient.
func (c *Client) Exists(ctx context.Context, hfModelID string) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		err := c.check(ctx, hfModelID)
		if err == nil {
			return nil
		}
		if _, notFound := err.(*modelresolver.ErrHFModelNotFound); notFound {
			return err
		}
		lastErr = err
		if strings.Contains(err.Error(), "429") && attempt < c.maxRetries-1 {
			select {
			case <-time.After(time.Duration(1<<attempt) * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		break
	}
	return lastErr
}

func (c *Client) check(ctx context.Context, hfModelID string) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, hfModelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusNotFound {
		return &modelresolver.ErrHFModelNotFound{ModelID: hfModelID}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hugging face hub returned %d", resp.StatusCode)
	}
	return nil
}
