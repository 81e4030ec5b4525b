package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
	"github.com/Riboost-Studio/print-queue-agent/internal/link/linktest"
	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

func testSettings() model.Settings {
	return model.Settings{
		Link: model.LinkConfig{
			ReconnectDelay:     20 * time.Millisecond,
			ServiceUUID:        link.PrinterServiceUUID,
			CharacteristicUUID: link.PrinterCharacteristicUUID,
		},
		Transfer: model.TransferConfig{ChunkSize: 100, WriteDelay: time.Millisecond},
		Poller: model.PollerConfig{
			InitialDelay:   0,
			Interval:       20 * time.Millisecond,
			ConnectTimeout: time.Second,
			ReadTimeout:    time.Second,
		},
	}
}

// remoteQueue serves the printer-queue function from memory.
type remoteQueue struct {
	mu      sync.Mutex
	pending []model.PrintJob
	hits    atomic.Int32
}

func (q *remoteQueue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.hits.Add(1)
	q.mu.Lock()
	defer q.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(append([]model.PrintJob{}, q.pending...))
	case http.MethodPost:
		var req model.MarkPrintedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i, j := range q.pending {
			if j.ID == req.ID {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (q *remoteQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func newTestAgent(t *testing.T, d link.Driver, bus *EventBus) *Agent {
	t.Helper()
	a := NewAgent(context.Background(), d, testSettings(), bus, nil)
	t.Cleanup(a.Stop)
	return a
}

func TestStartRejectsIncompleteConfig(t *testing.T) {
	q := &remoteQueue{}
	srv := httptest.NewServer(q)
	defer srv.Close()
	d := &linktest.Driver{}
	a := newTestAgent(t, d, NewEventBus())

	err := a.Start(model.AgentConfig{OrgID: "org", BaseURL: srv.URL})
	assert.ErrorIs(t, err, model.ErrConfigInvalid)
	assert.ErrorContains(t, err, "deviceAddress")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, a.Running())
	assert.Zero(t, d.Connects())
	assert.Zero(t, q.hits.Load())
}

func TestAgentPrintsQueuedJobs(t *testing.T) {
	q := &remoteQueue{pending: []model.PrintJob{{ID: "a1", Content: "Hello\n"}}}
	srv := httptest.NewServer(q)
	defer srv.Close()
	d := &linktest.Driver{}
	bus := NewEventBus()
	events, unsub := bus.Subscribe()
	defer unsub()
	a := newTestAgent(t, d, bus)

	require.NoError(t, a.Start(model.AgentConfig{OrgID: "org", BaseURL: srv.URL, DeviceAddress: "AA:BB:CC:DD:EE:FF"}))
	assert.True(t, a.Running())

	require.Eventually(t, func() bool { return q.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, append([]byte("Hello\n"), FeedTrailer...), d.Written())

	st := a.Status()
	assert.True(t, st.Running)
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, "org", st.OrgID)
	assert.Equal(t, link.StateReady.String(), st.LinkState)

	seen := map[model.EventType]bool{}
	timeout := time.After(time.Second)
	for !seen[model.EventJobPrinted] {
		select {
		case e := <-events:
			seen[e.Type] = true
			assert.Equal(t, st.RunID, e.RunID)
		case <-timeout:
			t.Fatalf("no job_printed event, saw %v", seen)
		}
	}
	assert.True(t, seen[model.EventAgentStarted])
	assert.True(t, seen[model.EventLinkState])
}

func TestStartTwiceFails(t *testing.T) {
	srv := httptest.NewServer(&remoteQueue{})
	defer srv.Close()
	a := newTestAgent(t, &linktest.Driver{}, NewEventBus())
	cfg := model.AgentConfig{OrgID: "org", BaseURL: srv.URL, DeviceAddress: "AA:BB:CC:DD:EE:FF"}

	require.NoError(t, a.Start(cfg))
	assert.ErrorIs(t, a.Start(cfg), ErrAlreadyRunning)
}

func TestStopHaltsPollingAndIsIdempotent(t *testing.T) {
	q := &remoteQueue{}
	srv := httptest.NewServer(q)
	defer srv.Close()
	d := &linktest.Driver{}
	a := newTestAgent(t, d, NewEventBus())

	require.NoError(t, a.Start(model.AgentConfig{OrgID: "org", BaseURL: srv.URL, DeviceAddress: "AA:BB:CC:DD:EE:FF"}))
	require.Eventually(t, func() bool { return q.hits.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	a.Stop()
	a.Stop()
	assert.False(t, a.Running())
	assert.Equal(t, link.StateDisconnected.String(), a.Status().LinkState)
	assert.True(t, d.Current().Closed())

	hits := q.hits.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, hits, q.hits.Load())
}

func TestStopOnFreshAgent(t *testing.T) {
	a := newTestAgent(t, &linktest.Driver{}, nil)
	a.Stop()
	assert.False(t, a.Running())
	assert.False(t, a.Status().Running)
}

func TestAgentCanRestartAfterStop(t *testing.T) {
	srv := httptest.NewServer(&remoteQueue{})
	defer srv.Close()
	d := &linktest.Driver{}
	a := newTestAgent(t, d, NewEventBus())
	cfg := model.AgentConfig{OrgID: "org", BaseURL: srv.URL, DeviceAddress: "AA:BB:CC:DD:EE:FF"}

	require.NoError(t, a.Start(cfg))
	first := a.Status().RunID
	a.Stop()

	require.NoError(t, a.Start(cfg))
	assert.NotEqual(t, first, a.Status().RunID)
	require.Eventually(t, func() bool { return a.Status().LinkState == "ready" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, d.Connects())
}
