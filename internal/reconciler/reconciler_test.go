package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/genstudio/internal/config"
	"github.com/pixelmint/genstudio/internal/domain"
)

type fakeStore struct {
	pending []domain.Job
	stalled []domain.Job
	expired []domain.Job

	pendingErr error
	stalledErr error
	expiredErr error

	enqueued []string
}

func (f *fakeStore) StalePending(_ context.Context, grace time.Duration) ([]domain.Job, error) {
	return f.pending, f.pendingErr
}

func (f *fakeStore) ResetStalled(_ context.Context, deadline time.Duration) ([]domain.Job, error) {
	return f.stalled, f.stalledErr
}

func (f *fakeStore) ExpiredCallbacks(_ context.Context, deadline time.Duration) ([]domain.Job, error) {
	return f.expired, f.expiredErr
}

func (f *fakeStore) MarkEnqueued(_ context.Context, jobID string) error {
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

type fakePublisher struct {
	published []*domain.JobEnvelope
	events    []*domain.JobEvent
	err       error
}

func (f *fakePublisher) PublishJob(_ context.Context, env *domain.JobEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, env)
	return nil
}

func (f *fakePublisher) PublishEvent(_ context.Context, event *domain.JobEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeCompensator struct {
	err     error
	failed  []string
	reasons []string
}

func (f *fakeCompensator) FailAndRefund(_ context.Context, jobID, errMsg string) (*domain.Job, error) {
	f.failed = append(f.failed, jobID)
	f.reasons = append(f.reasons, errMsg)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Job{JobID: jobID, UserID: "user-1", JobType: domain.JobTypeTextToImage, CreditsReserved: 10}, nil
}

func newTestReconciler(store *fakeStore, pub *fakePublisher, comp *fakeCompensator) *Reconciler {
	cfg := &config.ReconcilerConfig{
		Schedule:         "@every 1m",
		PendingGrace:     30 * time.Second,
		StallDeadline:    2 * time.Minute,
		CallbackDeadline: 30 * time.Minute,
	}
	return New(store, pub, comp, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSweep_ReenqueuesStalePending(t *testing.T) {
	store := &fakeStore{
		pending: []domain.Job{
			{JobID: "job-1", JobType: domain.JobTypeTextToImage},
			{JobID: "job-2", JobType: domain.JobTypeUpscale, AttemptCount: 1},
		},
	}
	pub := &fakePublisher{}

	newTestReconciler(store, pub, &fakeCompensator{}).Sweep(context.Background())

	require.Len(t, pub.published, 2)
	assert.Equal(t, "job-1", pub.published[0].JobID)
	assert.Equal(t, 1, pub.published[1].Attempt)
	assert.Equal(t, []string{"job-1", "job-2"}, store.enqueued)
}

func TestSweep_RecoversStalledJobs(t *testing.T) {
	store := &fakeStore{
		stalled: []domain.Job{
			{JobID: "job-3", JobType: domain.JobTypeImageToImage, AttemptCount: 2},
		},
	}
	pub := &fakePublisher{}

	newTestReconciler(store, pub, &fakeCompensator{}).Sweep(context.Background())

	require.Len(t, pub.published, 1)
	assert.Equal(t, "job-3", pub.published[0].JobID)
	assert.Equal(t, 2, pub.published[0].Attempt)
}

func TestSweep_PublishFailureLeavesJobPending(t *testing.T) {
	store := &fakeStore{
		pending: []domain.Job{{JobID: "job-1", JobType: domain.JobTypeTextToImage}},
	}
	pub := &fakePublisher{err: errors.New("broker down")}

	newTestReconciler(store, pub, &fakeCompensator{}).Sweep(context.Background())

	// not marked enqueued, so the next sweep picks it up again
	assert.Empty(t, store.enqueued)
}

func TestSweep_QueryErrorsDoNotPanic(t *testing.T) {
	store := &fakeStore{
		pendingErr: errors.New("connection refused"),
		stalledErr: errors.New("connection refused"),
		expiredErr: errors.New("connection refused"),
	}
	pub := &fakePublisher{}

	newTestReconciler(store, pub, &fakeCompensator{}).Sweep(context.Background())

	assert.Empty(t, pub.published)
}

func TestSweep_ExpiredCallbackFailsAndRefunds(t *testing.T) {
	store := &fakeStore{
		expired: []domain.Job{
			{JobID: "job-9", UserID: "user-1", JobType: domain.JobTypeTextToImage, AwaitingCallback: true},
		},
	}
	pub := &fakePublisher{}
	comp := &fakeCompensator{}

	newTestReconciler(store, pub, comp).Sweep(context.Background())

	// failed and refunded, never re-run: the external side may still
	// hold the job and a late callback must land on a terminal row
	require.Len(t, comp.failed, 1)
	assert.Equal(t, "job-9", comp.failed[0])
	assert.Equal(t, "callback deadline exceeded", comp.reasons[0])
	assert.Empty(t, pub.published)

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.JobStatusFailed, pub.events[0].Status)
	assert.Equal(t, "user-1", pub.events[0].UserID)
}

func TestSweep_ExpiredCallbackLosesRace(t *testing.T) {
	store := &fakeStore{
		expired: []domain.Job{{JobID: "job-9", JobType: domain.JobTypeTextToImage}},
	}
	pub := &fakePublisher{}
	comp := &fakeCompensator{err: domain.ErrStaleTransition}

	newTestReconciler(store, pub, comp).Sweep(context.Background())

	// the callback arrived between the select and the transition
	assert.Empty(t, pub.events)
	assert.Empty(t, pub.published)
}
