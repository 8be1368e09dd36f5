package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/story"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

type recordingSubscriber struct {
	mu      sync.Mutex
	updates []models.SessionView
	closed  []string
}

func (r *recordingSubscriber) OnSessionUpdate(view models.SessionView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, view)
}

func (r *recordingSubscriber) OnSessionClosed(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, sessionID)
}

func newTestSessionService(t *testing.T) (*SessionService, *utils.Metrics) {
	t.Helper()
	graph, err := story.Default()
	require.NoError(t, err)

	metrics := utils.NewMetrics(prometheus.NewRegistry())
	svc := NewSessionService(graph, SessionServiceOptions{
		TTL:           10 * time.Minute,
		SweepInterval: time.Minute,
		Logger:        utils.NewNopLogger(),
		Metrics:       metrics,
	})
	return svc, metrics
}

func TestSessionCreateAndView(t *testing.T) {
	svc, metrics := newTestSessionService(t)

	created := svc.Create()
	require.NotEmpty(t, created.SessionID)
	require.Len(t, created.Timelines, 1)
	assert.Equal(t, "start", created.Timelines[0].Scenario)
	assert.False(t, created.CanCollapse)
	assert.Equal(t, 1, svc.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsActive))

	view, err := svc.View(created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, created, view)
}

func TestSessionsAreIndependent(t *testing.T) {
	svc, _ := newTestSessionService(t)
	a := svc.Create()
	b := svc.Create()

	_, _, err := svc.ChooseIndex(a.SessionID, a.Timelines[0].ID, 0)
	require.NoError(t, err)

	viewA, err := svc.View(a.SessionID)
	require.NoError(t, err)
	viewB, err := svc.View(b.SessionID)
	require.NoError(t, err)

	assert.Equal(t, 2, viewA.Count)
	assert.Equal(t, 1, viewB.Count)
}

func TestSessionChooseIndexNotifiesSubscribers(t *testing.T) {
	svc, metrics := newTestSessionService(t)
	sub := &recordingSubscriber{}
	svc.Subscribe(sub)

	created := svc.Create()
	view, result, err := svc.ChooseIndex(created.SessionID, created.Timelines[0].ID, 1)
	require.NoError(t, err)
	require.NotNil(t, result.Forked)

	assert.Equal(t, 2, view.Count)
	assert.True(t, view.CanCollapse)
	assert.Equal(t, "physical", view.Timelines[0].Scenario)
	assert.Equal(t, "upload", view.Timelines[1].Scenario)

	require.Len(t, sub.updates, 1)
	assert.Equal(t, view, sub.updates[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ChoicesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ForksTotal))
}

func TestSessionRejectedEventLeavesStateAndSubscribersAlone(t *testing.T) {
	svc, metrics := newTestSessionService(t)
	sub := &recordingSubscriber{}
	svc.Subscribe(sub)

	created := svc.Create()
	_, _, err := svc.ChooseIndex(created.SessionID, created.Timelines[0].ID, 5)
	assert.True(t, apperrors.IsInvalidChoiceError(err))

	_, _, err = svc.ChooseIndex(created.SessionID, "nope", 0)
	assert.True(t, apperrors.IsNotFoundError(err))

	view, err := svc.View(created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, created, view)
	assert.Empty(t, sub.updates)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(string(apperrors.ErrorTypeInvalidChoice))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(string(apperrors.ErrorTypeNotFound))))
}

func TestSessionResets(t *testing.T) {
	svc, metrics := newTestSessionService(t)
	created := svc.Create()
	first := created.Timelines[0].ID

	view, _, err := svc.ChooseIndex(created.SessionID, first, 0)
	require.NoError(t, err)
	require.Equal(t, 2, view.Count)

	view, err = svc.ResetTimeline(created.SessionID, view.Timelines[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Count)
	assert.Equal(t, first, view.Timelines[0].ID)
	assert.Equal(t, "upload", view.Timelines[0].Scenario)

	view, err = svc.ResetAll(created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Count)
	assert.Equal(t, "start", view.Timelines[0].Scenario)
	assert.NotEqual(t, first, view.Timelines[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResetsTotal.WithLabelValues("single")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResetsTotal.WithLabelValues("all")))
}

func TestSessionDelete(t *testing.T) {
	svc, _ := newTestSessionService(t)
	sub := &recordingSubscriber{}
	svc.Subscribe(sub)

	created := svc.Create()
	require.NoError(t, svc.Delete(created.SessionID))

	assert.Equal(t, 0, svc.Count())
	assert.Equal(t, []string{created.SessionID}, sub.closed)
	assert.Equal(t, 0, svc.locks.Len())

	_, err := svc.View(created.SessionID)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, CodeSessionNotFound, apperrors.CodeOf(err))
	_, err = svc.ResetAll(created.SessionID)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.True(t, apperrors.IsNotFoundError(svc.Delete(created.SessionID)))
}

func TestSessionSweepEvictsIdleSessions(t *testing.T) {
	svc, metrics := newTestSessionService(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }

	idle := svc.Create()
	active := svc.Create()

	clock = base.Add(8 * time.Minute)
	_, err := svc.ResetAll(active.SessionID)
	require.NoError(t, err)

	assert.Equal(t, 0, svc.Sweep(base.Add(9*time.Minute)))

	evicted := svc.Sweep(base.Add(11 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, svc.Count())

	_, err = svc.View(idle.SessionID)
	assert.True(t, apperrors.IsNotFoundError(err))
	_, err = svc.View(active.SessionID)
	assert.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsEvicted))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsActive))
}

func TestSessionConcurrentEventsAreSerialized(t *testing.T) {
	svc, _ := newTestSessionService(t)
	created := svc.Create()
	root := created.Timelines[0].ID

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_, _ = svc.ResetAll(created.SessionID)
				return
			}
			_, _, _ = svc.ChooseIndex(created.SessionID, root, i%2)
		}(i)
	}
	wg.Wait()

	view, err := svc.View(created.SessionID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, view.Count, 1)
	assert.LessOrEqual(t, view.Count, models.MaxTimelines)
}

func TestSessionStartAndClose(t *testing.T) {
	svc, _ := newTestSessionService(t)
	svc.sweepInterval = 10 * time.Millisecond
	svc.ttl = time.Millisecond

	svc.Create()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)
	defer svc.Close()

	assert.Eventually(t, func() bool {
		return svc.Count() == 0
	}, time.Second, 10*time.Millisecond)

	svc.Close()
}
