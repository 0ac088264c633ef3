package generator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/genstudio/internal/config"
	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/shared/logger"
)

func testJob() *domain.Job {
	return &domain.Job{
		JobID:     "job-1",
		UserID:    "user-1",
		JobType:   domain.JobTypeTextToImage,
		BatchSize: 2,
		Payload:   `{"prompt":"sunset over mountains"}`,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&config.GeneratorConfig{
		BaseURL:        srv.URL,
		RequestTimeout: timeout,
	}, logger.NewDefault().Logger)
}

func TestClient_Generate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"artifact":{"images":["a.png","b.png"]}}`))
	}, time.Second)

	artifact, err := client.Generate(context.Background(), testJob())
	require.NoError(t, err)
	assert.JSONEq(t, `{"images":["a.png","b.png"]}`, artifact)
}

func TestClient_GenerateServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)

	_, err := client.Generate(context.Background(), testJob())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err), "5xx should be retryable")
}

func TestClient_GenerateMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}, time.Second)

	_, err := client.Generate(context.Background(), testJob())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err), "malformed body should be retryable")
}

func TestClient_GenerateTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"success":true}`))
	}, 20*time.Millisecond)

	_, err := client.Generate(context.Background(), testJob())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err), "timeout should be retryable")
}

func TestClient_GenerateExplicitFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"nsfw prompt rejected"}`))
	}, time.Second)

	_, err := client.Generate(context.Background(), testJob())
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err), "explicit rejection is permanent")
	assert.Contains(t, err.Error(), "nsfw prompt rejected")
}

func TestClient_GenerateAsyncAccepted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}, time.Second)

	_, err := client.Generate(context.Background(), testJob())
	require.ErrorIs(t, err, ErrAccepted)
}
