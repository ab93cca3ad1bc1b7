// Package runpod implements the Runpod Serverless GraphQL API as a
// provider.Provider: a pooled transport with exponential backoff and
// jitter, retryable-status classification, and the save/delete/list
// endpoint operations over a single GraphQL URL.
package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/internal/provider"
	"github.com/visgate-ai/deploy-orchestrator/pkg/telemetry"
)

const defaultGraphQLURL = "https://api.runpod.io/graphql"

// Config configures a Client.
type Config struct {
	GraphQLURL    string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// Client is a GraphQL client for the Runpod Serverless API.
type Client struct {
	graphqlURL string
	httpClient *http.Client
	logger     *zap.Logger

	maxRetries    int
	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

// NewClient builds a Client with a pooled, HTTP/2-capable transport.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = defaultGraphQLURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 15 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &Client{
		graphqlURL:    cfg.GraphQLURL,
		httpClient:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:        logger,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
	}
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// apiError wraps a non-2xx HTTP response or a GraphQL-level error.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("runpod api error: %s (status %d)", e.Message, e.StatusCode)
}

func (c *Client) graphqlRequest(ctx context.Context, apiKey, query string, variables map[string]any, out any) error {
	payload := map[string]any{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doOnce(ctx, apiKey, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		c.logger.Warn("runpod request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, apiKey string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL+"?api_key="+apiKey, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runpod request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		telemetry.RecordRunpodAPIError()
		msg := string(respBody)
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return &apiError{StatusCode: resp.StatusCode, Message: msg}
	}

	var gql gqlResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gql.Errors) > 0 {
		telemetry.RecordRunpodAPIError()
		return &apiError{StatusCode: resp.StatusCode, Message: gql.Errors[0].Message}
	}
	if out != nil && len(gql.Data) > 0 {
		if err := json.Unmarshal(gql.Data, out); err != nil {
			return fmt.Errorf("decode graphql data: %w", err)
		}
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(attempt-1)))
	if delay > c.retryMaxDelay {
		delay = c.retryMaxDelay
	}
	jitter := float64(delay) * 0.25 * (2*rand.Float64() - 1)
	return delay + time.Duration(jitter)
}

func isRetryable(err error) bool {
	if apiErr, ok := err.(*apiError); ok {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

type saveEndpointInput struct {
	Name         string            `json:"name"`
	TemplateID   string            `json:"templateId"`
	GPUIDs       string            `json:"gpuIds"`
	IdleTimeout  int               `json:"idleTimeout"`
	Locations    string            `json:"locations"`
	ScalerType   string            `json:"scalerType"`
	ScalerValue  int               `json:"scalerValue"`
	WorkersMin   int               `json:"workersMin"`
	WorkersMax   int               `json:"workersMax"`
	Env          []envVar          `json:"env"`
	VolumeInGb   int               `json:"volumeInGb,omitempty"`
	VolumeMount  string            `json:"volumeMountPath,omitempty"`
}

type envVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (c *Client) CreateEndpoint(ctx context.Context, name, gpuID, image string, env map[string]string, apiKey string, opts provider.CreateOptions) (provider.Endpoint, error) {
	const mutation = `
	mutation SaveEndpoint($input: EndpointInput!) {
	  saveEndpoint(input: $input) { id }
	}`

	runpodEnv := make([]envVar, 0, len(env))
	for k, v := range env {
		runpodEnv = append(runpodEnv, envVar{Key: k, Value: v})
	}

	input := saveEndpointInput{
		Name:        name,
		TemplateID:  opts.TemplateID,
		GPUIDs:      gpuID,
		IdleTimeout: opts.IdleTimeout,
		Locations:   opts.Locations,
		ScalerType:  opts.ScalerType,
		ScalerValue: opts.ScalerValue,
		WorkersMin:  opts.WorkersMin,
		WorkersMax:  opts.WorkersMax,
		Env:         runpodEnv,
	}
	if opts.VolumeSizeGB > 0 {
		input.VolumeInGb = opts.VolumeSizeGB
		input.VolumeMount = "/runpod-volume"
	}

	var result struct {
		SaveEndpoint struct {
			ID string `json:"id"`
		} `json:"saveEndpoint"`
	}
	if err := c.graphqlRequest(ctx, apiKey, mutation, map[string]any{"input": input}, &result); err != nil {
		return provider.Endpoint{}, err
	}
	if result.SaveEndpoint.ID == "" {
		return provider.Endpoint{}, &apiError{Message: "saveEndpoint returned no id"}
	}
	return provider.Endpoint{ID: result.SaveEndpoint.ID, URL: c.RunURL(result.SaveEndpoint.ID)}, nil
}

func (c *Client) DeleteEndpoint(ctx context.Context, endpointID, apiKey string) error {
	const mutation = `
	mutation DeleteEndpoint($id: String!) {
	  deleteEndpoint(id: $id)
	}`
	return c.graphqlRequest(ctx, apiKey, mutation, map[string]any{"id": endpointID}, nil)
}

// ListEndpoints lets the orchestrator discover a live endpoint by name for
// warm reuse, without depending solely on the durable store's view of
// endpoint status.
func (c *Client) ListEndpoints(ctx context.Context, apiKey string) ([]provider.EndpointInfo, error) {
	const query = `
	query Endpoints {
	  myself {
	    endpoints {
	      id
	      name
	      status
	    }
	  }
	}`
	var result struct {
		Myself struct {
			Endpoints []struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Status string `json:"status"`
			} `json:"endpoints"`
		} `json:"myself"`
	}
	if err := c.graphqlRequest(ctx, apiKey, query, nil, &result); err != nil {
		return nil, err
	}
	out := make([]provider.EndpointInfo, 0, len(result.Myself.Endpoints))
	for _, e := range result.Myself.Endpoints {
		out = append(out, provider.EndpointInfo{ID: e.ID, Name: e.Name, Status: e.Status, URL: c.RunURL(e.ID)})
	}
	return out, nil
}

func (c *Client) RunURL(endpointID string) string {
	return fmt.Sprintf("https://api.runpod.ai/v2/%s/run", endpointID)
}
