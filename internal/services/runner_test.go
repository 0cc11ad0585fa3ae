package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerSubmit(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		//nolint:errcheck
		w.Write([]byte(`{"id": "job-1", "status": "IN_QUEUE"}`))
	}))
	defer srv.Close()

	runner, err := NewServiceRunner(srv.URL, srv.URL, "test-key")
	require.NoError(t, err)

	payload, err := runner.Submit(context.Background(), false, map[string]any{"workflow": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Contains(t, gotBody, "input")
	assert.Equal(t, "job-1", ExtractJobID(payload))
}

func TestRunnerStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/job-1", r.URL.Path)
		//nolint:errcheck
		w.Write([]byte(`{"status": "COMPLETED", "output": {"images": ["a.png"]}}`))
	}))
	defer srv.Close()

	runner, err := NewServiceRunner(srv.URL, srv.URL, "test-key")
	require.NoError(t, err)

	payload, err := runner.Status(context.Background(), false, "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, Classify(payload))
}

func TestRunnerUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	runner, err := NewServiceRunner(srv.URL, srv.URL, "test-key")
	require.NoError(t, err)

	_, err = runner.Status(context.Background(), false, "job-1")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestRunnerToleratesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		//nolint:errcheck
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	runner, err := NewServiceRunner(srv.URL, srv.URL, "test-key")
	require.NoError(t, err)

	payload, err := runner.Status(context.Background(), false, "job-1")
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Equal(t, OutcomePending, Classify(payload))
}
