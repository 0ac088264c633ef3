package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/genstudio/internal/api/dto"
	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/jobstore"
	"github.com/pixelmint/genstudio/internal/ledger"
)

const testJobID = "7b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"

type fakeDispatcher struct {
	job *domain.Job
	err error
}

func (f *fakeDispatcher) Submit(_ context.Context, userID, jobType string, batchSize int, payload string) (*domain.Job, error) {
	return f.job, f.err
}

type fakeReader struct {
	job         *domain.Job
	jobs        []domain.Job
	getErr      error
	listErr     error
	completeErr error

	completedWith string
}

func (f *fakeReader) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	return f.job, f.getErr
}

func (f *fakeReader) List(_ context.Context, filter jobstore.JobFilter) ([]domain.Job, error) {
	return f.jobs, f.listErr
}

func (f *fakeReader) Complete(_ context.Context, jobID, result string) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completedWith = result
	return nil
}

type fakeCompensate struct {
	job       *domain.Job
	cancelErr error
	failErr   error

	cancelled bool
	failed    bool
}

func (f *fakeCompensate) CancelAndRefund(_ context.Context, jobID string) (*domain.Job, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelled = true
	return f.job, nil
}

func (f *fakeCompensate) FailAndRefund(_ context.Context, jobID, errMsg string) (*domain.Job, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.failed = true
	return f.job, nil
}

type fakeEvents struct {
	events []*domain.JobEvent
}

func (f *fakeEvents) PublishEvent(_ context.Context, event *domain.JobEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeCredits struct {
	balance      *domain.Balance
	transactions []domain.CreditTransaction
	newBalance   int64

	creditedAmount int64
	creditedKind   string
	checkedAmount  int64
}

func (f *fakeCredits) Balance(_ context.Context, userID string) (*domain.Balance, error) {
	return f.balance, nil
}

func (f *fakeCredits) Check(_ context.Context, userID string, amount int64) (bool, int64, error) {
	f.checkedAmount = amount
	credits := int64(0)
	if f.balance != nil {
		credits = f.balance.Credits
	}
	if credits >= amount {
		return true, 0, nil
	}
	return false, amount - credits, nil
}

func (f *fakeCredits) Credit(_ context.Context, userID string, amount int64, kind, relatedJobID, description string) (int64, error) {
	f.creditedAmount = amount
	f.creditedKind = kind
	return f.newBalance, nil
}

func (f *fakeCredits) ListTransactions(_ context.Context, filter ledger.TxFilter) ([]domain.CreditTransaction, error) {
	return f.transactions, nil
}

func storedJob() *domain.Job {
	return &domain.Job{
		JobID:           testJobID,
		UserID:          "user-1",
		JobType:         domain.JobTypeTextToImage,
		BatchSize:       4,
		Payload:         `{"prompt":"a lighthouse"}`,
		Status:          domain.JobStatusPending,
		CreditsReserved: 20,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func newTestRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := gin.New()
	jobs := NewJobHandler(deps)
	callbacks := NewCallbackHandler(deps)
	credits := NewCreditHandler(deps)

	r.POST("/api/v1/jobs", jobs.SubmitJob)
	r.GET("/api/v1/jobs/:job_id", jobs.GetJob)
	r.GET("/api/v1/jobs", jobs.ListJobs)
	r.POST("/api/v1/jobs/:job_id/cancel", jobs.CancelJob)
	r.POST("/callback/task-complete", callbacks.TaskComplete)
	r.POST("/callback/task-failed", callbacks.TaskFailed)
	r.GET("/api/v1/credits/:user_id", credits.GetBalance)
	r.GET("/api/v1/credits/:user_id/check", credits.CheckBalance)
	r.GET("/api/v1/credits/:user_id/transactions", credits.ListTransactions)
	r.POST("/api/v1/credits/:user_id/recharge", credits.Recharge)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitJob_Accepted(t *testing.T) {
	events := &fakeEvents{}
	r := newTestRouter(&Dependencies{
		Dispatcher: &fakeDispatcher{job: storedJob()},
		Events:     events,
	})

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", dto.SubmitJobRequest{
		UserID:    "user-1",
		JobType:   domain.JobTypeTextToImage,
		BatchSize: 4,
		Payload:   `{"prompt":"a lighthouse"}`,
	})

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testJobID, resp.JobID)
	assert.Equal(t, domain.JobStatusPending, resp.Status)
	assert.Equal(t, int64(20), resp.CreditsReserved)
}

func TestSubmitJob_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"insufficient credits", domain.ErrInsufficientCredits, http.StatusPaymentRequired},
		{"unknown job type", domain.ErrInvalidJobType, http.StatusBadRequest},
		{"batch out of range", domain.ErrInvalidBatchSize, http.StatusBadRequest},
		{"queue down", domain.ErrQueueUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&Dependencies{
				Dispatcher: &fakeDispatcher{job: storedJob(), err: tt.err},
				Events:     &fakeEvents{},
			})

			w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", dto.SubmitJobRequest{
				UserID:    "user-1",
				JobType:   domain.JobTypeTextToImage,
				BatchSize: 4,
				Payload:   `{}`,
			})

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSubmitJob_QueueUnavailableReturnsJobID(t *testing.T) {
	r := newTestRouter(&Dependencies{
		Dispatcher: &fakeDispatcher{job: storedJob(), err: domain.ErrQueueUnavailable},
		Events:     &fakeEvents{},
	})

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", dto.SubmitJobRequest{
		UserID:    "user-1",
		JobType:   domain.JobTypeTextToImage,
		BatchSize: 4,
		Payload:   `{}`,
	})

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testJobID, resp["job_id"])
}

func TestSubmitJob_MissingFields(t *testing.T) {
	r := newTestRouter(&Dependencies{
		Dispatcher: &fakeDispatcher{},
		Events:     &fakeEvents{},
	})

	w := doJSON(t, r, http.MethodPost, "/api/v1/jobs", map[string]string{"user_id": "user-1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		r := newTestRouter(&Dependencies{Store: &fakeReader{job: storedJob()}})

		w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/"+testJobID, nil)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, testJobID, resp.JobID)
	})

	t.Run("not found", func(t *testing.T) {
		r := newTestRouter(&Dependencies{Store: &fakeReader{getErr: domain.ErrJobNotFound}})

		w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/"+testJobID, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		r := newTestRouter(&Dependencies{Store: &fakeReader{}})

		w := doJSON(t, r, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListJobs_Pagination(t *testing.T) {
	// 3 rows with page_size=2 means one full page plus a cursor
	jobs := make([]domain.Job, 3)
	for i := range jobs {
		j := storedJob()
		j.JobID = testJobID
		jobs[i] = *j
	}

	r := newTestRouter(&Dependencies{Store: &fakeReader{jobs: jobs}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs?page_size=2", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.NotEmpty(t, resp.NextCursor)

	// the cursor round-trips
	cursor, err := DecodeJobCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, testJobID, cursor.JobID)
}

func TestListJobs_InvalidCursor(t *testing.T) {
	r := newTestRouter(&Dependencies{Store: &fakeReader{}})

	w := doJSON(t, r, http.MethodGet, "/api/v1/jobs?cursor=%21%21not-base64", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelJob(t *testing.T) {
	t.Run("cancelled with refund", func(t *testing.T) {
		job := storedJob()
		job.Status = domain.JobStatusCancelled
		job.Refunded = true

		comp := &fakeCompensate{job: job}
		events := &fakeEvents{}
		r := newTestRouter(&Dependencies{Compensate: comp, Events: events})

		w := doJSON(t, r, http.MethodPost, "/api/v1/jobs/"+testJobID+"/cancel", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, comp.cancelled)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, domain.JobStatusCancelled, resp.Status)
		assert.True(t, resp.Refunded)

		require.Len(t, events.events, 1)
		assert.Equal(t, domain.JobStatusCancelled, events.events[0].Status)
	})

	t.Run("already finished", func(t *testing.T) {
		r := newTestRouter(&Dependencies{
			Compensate: &fakeCompensate{cancelErr: domain.ErrNotCancellable},
			Events:     &fakeEvents{},
		})

		w := doJSON(t, r, http.MethodPost, "/api/v1/jobs/"+testJobID+"/cancel", nil)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		r := newTestRouter(&Dependencies{
			Compensate: &fakeCompensate{cancelErr: domain.ErrJobNotFound},
			Events:     &fakeEvents{},
		})

		w := doJSON(t, r, http.MethodPost, "/api/v1/jobs/"+testJobID+"/cancel", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTaskComplete(t *testing.T) {
	t.Run("completes the job", func(t *testing.T) {
		store := &fakeReader{job: storedJob()}
		events := &fakeEvents{}
		r := newTestRouter(&Dependencies{Store: store, Compensate: &fakeCompensate{}, Events: events})

		w := doJSON(t, r, http.MethodPost, "/callback/task-complete", dto.TaskCompleteRequest{
			JobID:  testJobID,
			Result: `{"images":["a.png"]}`,
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"images":["a.png"]}`, store.completedWith)

		require.Len(t, events.events, 1)
		assert.Equal(t, domain.JobStatusCompleted, events.events[0].Status)
	})

	t.Run("duplicate callback is a no-op", func(t *testing.T) {
		job := storedJob()
		job.Status = domain.JobStatusCompleted
		job.Result = sql.NullString{String: `{"images":["a.png"]}`, Valid: true}

		store := &fakeReader{job: job, completeErr: domain.ErrStaleTransition}
		events := &fakeEvents{}
		r := newTestRouter(&Dependencies{Store: store, Compensate: &fakeCompensate{}, Events: events})

		w := doJSON(t, r, http.MethodPost, "/callback/task-complete", dto.TaskCompleteRequest{
			JobID:  testJobID,
			Result: `{"images":["a.png"]}`,
		})

		// 200 so the generator stops retrying, but no new event
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, events.events)
	})

	t.Run("unknown job", func(t *testing.T) {
		r := newTestRouter(&Dependencies{
			Store:      &fakeReader{getErr: domain.ErrJobNotFound},
			Compensate: &fakeCompensate{},
			Events:     &fakeEvents{},
		})

		w := doJSON(t, r, http.MethodPost, "/callback/task-complete", dto.TaskCompleteRequest{
			JobID:  testJobID,
			Result: `{}`,
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTaskFailed(t *testing.T) {
	t.Run("fails and refunds", func(t *testing.T) {
		job := storedJob()
		job.Status = domain.JobStatusFailed
		job.Refunded = true

		comp := &fakeCompensate{job: job}
		events := &fakeEvents{}
		r := newTestRouter(&Dependencies{Store: &fakeReader{job: storedJob()}, Compensate: comp, Events: events})

		w := doJSON(t, r, http.MethodPost, "/callback/task-failed", dto.TaskFailedRequest{
			JobID: testJobID,
			Error: "model crashed",
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, comp.failed)

		require.Len(t, events.events, 1)
		assert.Equal(t, domain.JobStatusFailed, events.events[0].Status)
	})

	t.Run("duplicate callback is a no-op", func(t *testing.T) {
		comp := &fakeCompensate{failErr: domain.ErrStaleTransition}
		events := &fakeEvents{}
		r := newTestRouter(&Dependencies{Store: &fakeReader{job: storedJob()}, Compensate: comp, Events: events})

		w := doJSON(t, r, http.MethodPost, "/callback/task-failed", dto.TaskFailedRequest{
			JobID: testJobID,
			Error: "model crashed",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, events.events)
	})
}
