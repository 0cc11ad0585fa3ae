package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
)

// ServiceRunner talks to the external GPU job runner. Submits and status
// polls go to per-kind endpoints; the runner's payloads are treated as
// untrusted and never unmarshalled into fixed structs.
type ServiceRunner struct {
	imageEndpoint string
	videoEndpoint string
	apiKey        string
	client        *httpclient.Client
}

func NewServiceRunner(imageEndpoint string, videoEndpoint string, apiKey string) (*ServiceRunner, error) {
	client := httpclient.NewClient(
		httpclient.WithHTTPTimeout(30*time.Second),
		httpclient.WithRetryCount(2),
		httpclient.WithRetrier(heimdall.NewRetrier(heimdall.NewConstantBackoff(500*time.Millisecond, 200*time.Millisecond))),
	)
	return &ServiceRunner{
		imageEndpoint: strings.TrimRight(imageEndpoint, "/"),
		videoEndpoint: strings.TrimRight(videoEndpoint, "/"),
		apiKey:        apiKey,
		client:        client,
	}, nil
}

func (runner *ServiceRunner) endpoint(video bool) string {
	if video {
		return runner.videoEndpoint
	}
	return runner.imageEndpoint
}

// Submit enqueues a job and returns the runner's raw response. A transport
// failure or a non-2xx status is an upstream error; a 2xx with a body that
// is not JSON yields a nil payload, which callers treat as pending.
func (runner *ServiceRunner) Submit(ctx context.Context, video bool, input map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, err
	}
	return runner.call(ctx, http.MethodPost, fmt.Sprintf("%s/run", runner.endpoint(video)), bytes.NewReader(body))
}

// Status fetches the current state of a previously submitted job.
func (runner *ServiceRunner) Status(ctx context.Context, video bool, jobID string) (map[string]any, error) {
	return runner.call(ctx, http.MethodGet, fmt.Sprintf("%s/status/%s", runner.endpoint(video), jobID), nil)
}

func (runner *ServiceRunner) call(ctx context.Context, method string, url string, body io.Reader) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+runner.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := runner.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: runner returned %d", ErrUpstream, res.StatusCode)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Malformed runner bodies are tolerated; the job is simply not
		// classifiable yet.
		return nil, nil
	}
	return payload, nil
}
