package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/aristath/instrument-sync/internal/scheduler"
	"github.com/aristath/instrument-sync/internal/storage"
	testhelpers "github.com/aristath/instrument-sync/internal/testing"
)

// MockRunController records triggers instead of running jobs
type MockRunController struct {
	mu       sync.Mutex
	inFlight bool
	triggers []scheduler.Trigger
	done     chan struct{}
}

func newMockRunController() *MockRunController {
	return &MockRunController{done: make(chan struct{}, 8)}
}

func (m *MockRunController) Run(ctx context.Context, trigger scheduler.Trigger) error {
	m.mu.Lock()
	m.triggers = append(m.triggers, trigger)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func (m *MockRunController) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

func (m *MockRunController) Triggers() []scheduler.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scheduler.Trigger(nil), m.triggers...)
}

// slowRunController blocks in Run until the run context is cancelled and the
// test releases it, like a chunk whose dispatched items are still writing
type slowRunController struct {
	started   chan struct{}
	release   chan struct{}
	cancelled chan struct{}
}

func newSlowRunController() *slowRunController {
	return &slowRunController{
		started:   make(chan struct{}),
		release:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func (m *slowRunController) Run(ctx context.Context, trigger scheduler.Trigger) error {
	close(m.started)
	<-ctx.Done()
	close(m.cancelled)
	<-m.release
	return ctx.Err()
}

func (m *slowRunController) InFlight() bool { return false }

type fixedSchedule struct {
	next time.Time
}

func (f fixedSchedule) Next() time.Time  { return f.next }
func (f fixedSchedule) Schedule() string { return "0 17 * * 1-5" }

type failingStore struct {
	*storage.Store
}

func (failingStore) Counts(ctx context.Context) (storage.Counts, error) {
	return storage.Counts{}, errors.New("database is locked")
}

func newTestServer(t *testing.T, store RunStore, runner RunController) *Server {
	t.Helper()
	s := New(Config{
		Log:      zerolog.Nop(),
		Store:    store,
		Runner:   runner,
		Schedule: fixedSchedule{next: time.Date(2025, 5, 5, 21, 0, 0, 0, time.UTC)},
		DevMode:  true,
	})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func saveRun(t *testing.T, store *storage.Store, id string, started time.Time) {
	t.Helper()
	finished := started.Add(time.Minute)
	require.NoError(t, store.SaveRun(context.Background(), domain.RunRecord{
		ID:         id,
		Trigger:    domain.TriggerScheduled,
		DayOfMonth: started.Day(),
		Jobs:       []domain.JobName{domain.JobPriceHistory, domain.JobSplits},
		Status:     domain.RunStatusSucceeded,
		StartedAt:  started,
		FinishedAt: &finished,
	}))
}

func TestHandleHealth(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	runner := newMockRunController()
	runner.inFlight = true
	s := newTestServer(t, store, runner)

	w := doRequest(t, s, http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "healthy", response.Status)
	assert.True(t, response.RunInFlight)
	assert.Equal(t, "0 17 * * 1-5", response.Schedule)
	require.NotNil(t, response.NextRun)
	assert.Equal(t, 5, response.NextRun.Day())
	require.NotNil(t, response.Counts)
	assert.Zero(t, response.Counts.Runs)
	assert.GreaterOrEqual(t, response.MemoryPercent, 0.0)
}

func TestHandleHealth_DegradedWhenStoreFails(t *testing.T) {
	s := newTestServer(t, failingStore{testhelpers.NewTestStore(t)}, newMockRunController())

	w := doRequest(t, s, http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, w.Code)
	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "degraded", response.Status)
	assert.Nil(t, response.Counts)
}

func TestHandleListRuns(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	base := time.Date(2025, 5, 1, 21, 0, 0, 0, time.UTC)
	saveRun(t, store, "run-1", base)
	saveRun(t, store, "run-2", base.AddDate(0, 0, 1))
	saveRun(t, store, "run-3", base.AddDate(0, 0, 2))
	s := newTestServer(t, store, newMockRunController())

	tests := []struct {
		name        string
		target      string
		status      int
		expectedIDs []string
	}{
		{name: "default limit", target: "/api/runs", status: http.StatusOK, expectedIDs: []string{"run-3", "run-2", "run-1"}},
		{name: "explicit limit", target: "/api/runs?limit=2", status: http.StatusOK, expectedIDs: []string{"run-3", "run-2"}},
		{name: "invalid limit", target: "/api/runs?limit=abc", status: http.StatusBadRequest},
		{name: "zero limit", target: "/api/runs?limit=0", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodGet, tt.target)
			require.Equal(t, tt.status, w.Code)
			if tt.expectedIDs == nil {
				return
			}

			var runs []domain.RunRecord
			require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
			ids := make([]string, len(runs))
			for i, run := range runs {
				ids[i] = run.ID
			}
			assert.Equal(t, tt.expectedIDs, ids)
		})
	}
}

func TestHandleGetRun(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	saveRun(t, store, "run-1", time.Date(2025, 5, 2, 21, 0, 0, 0, time.UTC))
	s := newTestServer(t, store, newMockRunController())

	w := doRequest(t, s, http.MethodGet, "/api/runs/run-1")
	require.Equal(t, http.StatusOK, w.Code)

	var run domain.RunRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, []domain.JobName{domain.JobPriceHistory, domain.JobSplits}, run.Jobs)

	w = doRequest(t, s, http.MethodGet, "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleTriggerRun(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	runner := newMockRunController()
	s := newTestServer(t, store, runner)

	w := doRequest(t, s, http.MethodPost, "/api/runs?type=dividend")
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("triggered run never started")
	}

	triggers := runner.Triggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, domain.TriggerManual, triggers[0].Kind)
	assert.Equal(t, scheduler.SelectDividend, triggers[0].Selector)
}

func TestHandleTriggerRun_DefaultsToBoth(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	runner := newMockRunController()
	s := newTestServer(t, store, runner)

	w := doRequest(t, s, http.MethodPost, "/api/runs")
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("triggered run never started")
	}

	triggers := runner.Triggers()
	require.Len(t, triggers, 1)
	assert.Equal(t, scheduler.SelectBoth, triggers[0].Selector)
}

func TestHandleTriggerRun_Rejections(t *testing.T) {
	store := testhelpers.NewTestStore(t)

	t.Run("invalid type", func(t *testing.T) {
		runner := newMockRunController()
		s := newTestServer(t, store, runner)

		w := doRequest(t, s, http.MethodPost, "/api/runs?type=foo")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid job type")
		assert.Empty(t, runner.Triggers())
	})

	t.Run("type is case sensitive", func(t *testing.T) {
		runner := newMockRunController()
		s := newTestServer(t, store, runner)

		w := doRequest(t, s, http.MethodPost, "/api/runs?type=Split")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, runner.Triggers())
	})

	t.Run("run in flight", func(t *testing.T) {
		runner := newMockRunController()
		runner.inFlight = true
		s := newTestServer(t, store, runner)

		w := doRequest(t, s, http.MethodPost, "/api/runs")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Empty(t, runner.Triggers())
	})
}

func TestShutdown_WaitsForTriggeredRun(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	runner := newSlowRunController()
	s := newTestServer(t, store, runner)

	w := doRequest(t, s, http.MethodPost, "/api/runs?type=both")
	require.Equal(t, http.StatusAccepted, w.Code)
	<-runner.started

	shutdown := make(chan error, 1)
	go func() { shutdown <- s.Shutdown(context.Background()) }()

	select {
	case <-runner.cancelled:
	case <-time.After(time.Second):
		t.Fatal("run context was not cancelled")
	}

	select {
	case err := <-shutdown:
		t.Fatalf("Shutdown returned while the run was still executing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after the run finished")
	}
}

func TestShutdown_BoundedByContext(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	runner := newSlowRunController()
	s := newTestServer(t, store, runner)
	t.Cleanup(func() { close(runner.release) })

	w := doRequest(t, s, http.MethodPost, "/api/runs")
	require.Equal(t, http.StatusAccepted, w.Code)
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Shutdown(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
