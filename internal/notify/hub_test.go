package notify

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmint/genstudio/internal/domain"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func event(userID, jobID, status string) *domain.JobEvent {
	return &domain.JobEvent{
		JobID:      jobID,
		UserID:     userID,
		JobType:    domain.JobTypeTextToImage,
		Status:     status,
		OccurredAt: time.Now(),
	}
}

func TestHub_PublishReachesUserSubscribers(t *testing.T) {
	hub := newTestHub()

	sub1 := hub.Subscribe("user-1")
	sub2 := hub.Subscribe("user-1")
	other := hub.Subscribe("user-2")

	hub.Publish(event("user-1", "job-1", domain.JobStatusCompleted))

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case got := <-sub.Events():
			assert.Equal(t, "job-1", got.JobID)
			assert.Equal(t, domain.JobStatusCompleted, got.Status)
		default:
			t.Fatal("expected event to be delivered")
		}
	}

	select {
	case got := <-other.Events():
		t.Fatalf("unexpected event for user-2: %+v", got)
	default:
	}
}

func TestHub_PublishWithNoSubscribers(t *testing.T) {
	hub := newTestHub()

	// must not panic or block
	hub.Publish(event("user-1", "job-1", domain.JobStatusFailed))
}

func TestHub_UnsubscribeClosesStream(t *testing.T) {
	hub := newTestHub()

	sub := hub.Subscribe("user-1")
	require.Equal(t, 1, hub.SubscriberCount("user-1"))

	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.SubscriberCount("user-1"))

	_, open := <-sub.Events()
	assert.False(t, open)

	// second call is a no-op
	hub.Unsubscribe(sub)
}

func TestHub_PublishAfterUnsubscribe(t *testing.T) {
	hub := newTestHub()

	sub := hub.Subscribe("user-1")
	hub.Unsubscribe(sub)

	hub.Publish(event("user-1", "job-1", domain.JobStatusCompleted))
}

func TestHub_FullBufferDropsEvent(t *testing.T) {
	hub := newTestHub()

	sub := hub.Subscribe("user-1")

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(event("user-1", "job-1", domain.JobStatusProcessing))
	}

	// only the buffered events survive; the hub never blocked
	delivered := 0
	for {
		select {
		case <-sub.Events():
			delivered++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, delivered)
}
