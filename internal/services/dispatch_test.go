package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
	"github.com/Riboost-Studio/print-queue-agent/internal/link/linktest"
	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

// fakeQueue is an in-memory remote queue. Acked jobs leave the queue.
type fakeQueue struct {
	mu       sync.Mutex
	pending  []model.PrintJob
	fetchErr error
	ackErr   map[string]error
	fetches  int
	acks     []string
}

func (q *fakeQueue) FetchPending(ctx context.Context) ([]model.PrintJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetches++
	if q.fetchErr != nil {
		return nil, q.fetchErr
	}
	return append([]model.PrintJob(nil), q.pending...), nil
}

func (q *fakeQueue) MarkPrinted(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ackErr[jobID]; err != nil {
		return err
	}
	q.acks = append(q.acks, jobID)
	for i, j := range q.pending {
		if j.ID == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (q *fakeQueue) setAckErr(id string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ackErr == nil {
		q.ackErr = make(map[string]error)
	}
	q.ackErr[id] = err
}

func (q *fakeQueue) Fetches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetches
}

func (q *fakeQueue) Acks() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acks...)
}

// fakePrinter records payloads and fails the ones listed in fail.
type fakePrinter struct {
	mu   sync.Mutex
	sent [][]byte
	fail map[string]error
}

func (p *fakePrinter) Send(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[string(payload)]; err != nil {
		return err
	}
	p.sent = append(p.sent, payload)
	return nil
}

func (p *fakePrinter) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, s := range p.sent {
		out[i] = string(s)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) publish(e model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []model.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func newTestDispatcher(q JobSource, p PayloadSender, events *eventLog) *Dispatcher {
	var publish func(model.Event)
	if events != nil {
		publish = events.publish
	}
	return NewDispatcher(q, p, model.PollerConfig{InitialDelay: 0, Interval: 20 * time.Millisecond}, nil, publish)
}

func TestCyclePrintsAndAcksInOrder(t *testing.T) {
	q := &fakeQueue{pending: []model.PrintJob{{ID: "a1", Content: "Hello\n"}, {ID: "a2", Content: "World"}}}
	p := &fakePrinter{}
	events := &eventLog{}

	report := newTestDispatcher(q, p, events).RunCycle(context.Background())

	assert.NoError(t, report.Err)
	assert.Equal(t, CycleReport{Fetched: 2, Printed: 2, Acked: 2}, report)
	assert.Equal(t, []string{"Hello\n", "World"}, p.Sent())
	assert.Equal(t, []string{"a1", "a2"}, q.Acks())
	assert.Equal(t, []model.EventType{model.EventJobPrinted, model.EventJobPrinted}, events.types())
}

func TestCycleEmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	p := &fakePrinter{}

	report := newTestDispatcher(q, p, nil).RunCycle(context.Background())
	assert.Equal(t, CycleReport{}, report)
	assert.Empty(t, p.Sent())
}

func TestCycleFetchFailureSkipsDispatch(t *testing.T) {
	q := &fakeQueue{fetchErr: ErrRemoteUnreachable, pending: []model.PrintJob{{ID: "a1", Content: "x"}}}
	p := &fakePrinter{}
	events := &eventLog{}

	report := newTestDispatcher(q, p, events).RunCycle(context.Background())
	assert.ErrorIs(t, report.Err, ErrRemoteUnreachable)
	assert.Empty(t, p.Sent())
	assert.Equal(t, []model.EventType{model.EventPollFailed}, events.types())
}

func TestAckFailureReprintsNextCycle(t *testing.T) {
	q := &fakeQueue{pending: []model.PrintJob{{ID: "a1", Content: "one"}, {ID: "a2", Content: "two"}}}
	q.setAckErr("a1", ErrRemoteBadStatus)
	p := &fakePrinter{}
	d := newTestDispatcher(q, p, nil)

	report := d.RunCycle(context.Background())
	assert.ErrorIs(t, report.Err, ErrRemoteBadStatus)
	assert.Equal(t, 1, report.Printed)
	assert.Equal(t, 0, report.Acked)
	assert.Equal(t, []string{"one"}, p.Sent(), "cycle stops after the failed ack")

	q.setAckErr("a1", nil)
	report = d.RunCycle(context.Background())
	assert.NoError(t, report.Err)
	assert.Equal(t, []string{"one", "one", "two"}, p.Sent())
	assert.Equal(t, []string{"a1", "a2"}, q.Acks())
}

func TestPrintFailureIsNotAcked(t *testing.T) {
	q := &fakeQueue{pending: []model.PrintJob{{ID: "a1", Content: "bad"}, {ID: "a2", Content: "good"}}}
	p := &fakePrinter{fail: map[string]error{"bad": link.ErrWriteFailed}}
	events := &eventLog{}

	report := newTestDispatcher(q, p, events).RunCycle(context.Background())
	assert.ErrorIs(t, report.Err, link.ErrWriteFailed)
	assert.Equal(t, []string{"good"}, p.Sent())
	assert.Equal(t, []string{"a2"}, q.Acks())
	assert.Equal(t, []model.EventType{model.EventJobPrintFailed, model.EventJobPrinted}, events.types())
}

func TestNotReadyEndsCycle(t *testing.T) {
	q := &fakeQueue{pending: []model.PrintJob{{ID: "a1", Content: "one"}, {ID: "a2", Content: "two"}}}
	p := &fakePrinter{fail: map[string]error{"one": link.ErrNotReady, "two": link.ErrNotReady}}

	report := newTestDispatcher(q, p, nil).RunCycle(context.Background())
	assert.ErrorIs(t, report.Err, link.ErrNotReady)
	assert.Empty(t, q.Acks())
}

func TestMidTransferDisconnectLeavesJobPending(t *testing.T) {
	d := &linktest.Driver{}
	mgr := link.NewManager(d, "AA:BB:CC:DD:EE:FF", link.WithReconnectDelay(time.Hour))
	t.Cleanup(mgr.Shutdown)
	require.NoError(t, mgr.Connect())
	require.Eventually(t, mgr.IsReady, 2*time.Second, 5*time.Millisecond)

	// The link drops right after the second chunk lands.
	d.OnWrite(func(n int, p []byte) error {
		if n == 3 {
			d.Drop()
			return link.ErrLinkLost
		}
		return nil
	})

	payload := bytes.Repeat([]byte{'r'}, 300)
	q := &fakeQueue{pending: []model.PrintJob{{ID: "a1", Content: string(payload)}, {ID: "a2", Content: "next"}}}
	tr := NewTransfer(mgr, model.TransferConfig{ChunkSize: 100, WriteDelay: time.Millisecond}, nil)

	report := newTestDispatcher(q, tr, nil).RunCycle(context.Background())

	assert.Error(t, report.Err)
	assert.Empty(t, q.Acks())
	assert.Equal(t, payload[:200], d.Written())
	assert.NotContains(t, d.Writes(), FeedTrailer)
}

func TestRunPollsOnCadenceUntilCancelled(t *testing.T) {
	q := &fakeQueue{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		newTestDispatcher(q, &fakePrinter{}, nil).Run(ctx)
	}()

	require.Eventually(t, func() bool { return q.Fetches() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	n := q.Fetches()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, q.Fetches())
}

func TestRunWaitsForInitialDelay(t *testing.T) {
	q := &fakeQueue{}
	d := NewDispatcher(q, &fakePrinter{}, model.PollerConfig{InitialDelay: time.Hour, Interval: time.Millisecond}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, q.Fetches())
}

// blockingQueue holds FetchPending until released so overlapping cycles
// would show up as concurrent calls.
type blockingQueue struct {
	fakeQueue
	inFlight  int
	maxFlight int
	release   chan struct{}
}

func (q *blockingQueue) FetchPending(ctx context.Context) ([]model.PrintJob, error) {
	q.mu.Lock()
	q.inFlight++
	q.maxFlight = max(q.maxFlight, q.inFlight)
	q.fetches++
	q.mu.Unlock()

	select {
	case <-q.release:
	case <-ctx.Done():
	}

	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
	return nil, errors.New("slow remote")
}

func TestCyclesNeverOverlap(t *testing.T) {
	q := &blockingQueue{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewDispatcher(q, &fakePrinter{}, model.PollerConfig{Interval: 2 * time.Millisecond}, nil, nil).Run(ctx)
	}()

	time.Sleep(40 * time.Millisecond)
	close(q.release)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, 1, q.maxFlight)
}
