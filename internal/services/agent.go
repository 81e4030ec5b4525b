package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
	"github.com/Riboost-Studio/print-queue-agent/internal/model"
	"github.com/Riboost-Studio/print-queue-agent/internal/utils"
)

// Agent is the start/stop handle for one print agent. It owns the liveness
// flag and, while running, the link manager and the dispatch worker.
type Agent struct {
	base     context.Context
	driver   link.Driver
	settings model.Settings
	bus      *EventBus
	log      *zap.Logger

	mu      sync.Mutex
	run     *agentRun
	running atomic.Bool
}

type agentRun struct {
	id     string
	cfg    model.AgentConfig
	link   *link.Manager
	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a snapshot of the agent for the control surface.
type Status struct {
	Running       bool   `json:"running"`
	RunID         string `json:"run_id,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
	DeviceAddress string `json:"device_address,omitempty"`
	LinkState     string `json:"link_state"`
}

// NewAgent builds a stopped agent. Values stored in ctx (such as the app
// version) are visible to every run; its cancellation is not.
func NewAgent(ctx context.Context, driver link.Driver, settings model.Settings, bus *EventBus, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		base:     context.WithoutCancel(ctx),
		driver:   driver,
		settings: settings,
		bus:      bus,
		log:      log,
	}
}

// Start validates cfg and, when valid, connects the link and starts polling.
// Validation happens before any link or network activity.
func (a *Agent) Start(cfg model.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run != nil {
		return ErrAlreadyRunning
	}

	runID := uuid.NewString()
	log := a.log.With(zap.String("run_id", runID), zap.String("org_id", cfg.OrgID))
	utils.InspectToken(cfg.AuthToken, log)

	mgr := link.NewManager(a.driver, cfg.DeviceAddress,
		link.WithLogger(log.Named("link")),
		link.WithReconnectDelay(a.settings.Link.ReconnectDelay),
		link.WithTarget(a.settings.Link.ServiceUUID, a.settings.Link.CharacteristicUUID),
		link.WithStateObserver(func(_, to link.ConnectionState) {
			a.bus.Publish(model.Event{Type: model.EventLinkState, RunID: runID, State: to.String()})
		}),
	)
	if err := mgr.Connect(); err != nil {
		mgr.Shutdown()
		return fmt.Errorf("connect link: %w", err)
	}

	queue := NewQueueClient(cfg, a.settings.Poller, log.Named("queue"))
	transfer := NewTransfer(mgr, a.settings.Transfer, log.Named("transfer"))
	dispatcher := NewDispatcher(queue, transfer, a.settings.Poller, log.Named("dispatch"), a.bus.Publish)

	ctx, cancel := context.WithCancel(model.WithRunID(a.base, runID))
	run := &agentRun{
		id:     runID,
		cfg:    cfg,
		link:   mgr,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		dispatcher.Run(ctx)
	}()

	a.run = run
	a.running.Store(true)
	log.Info("agent started", zap.String("device", cfg.DeviceAddress), zap.String("base_url", cfg.BaseURL))
	a.bus.Publish(model.Event{Type: model.EventAgentStarted, RunID: runID})
	return nil
}

// Stop halts polling, abandons an in-flight cycle and releases the link.
// Calling Stop on a stopped agent does nothing.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	run := a.run
	if run == nil {
		return
	}
	a.running.Store(false)
	run.cancel()
	<-run.done
	run.link.Shutdown()
	a.run = nil

	a.log.Info("agent stopped", zap.String("run_id", run.id))
	a.bus.Publish(model.Event{Type: model.EventAgentStopped, RunID: run.id})
}

// Running reports liveness.
func (a *Agent) Running() bool {
	return a.running.Load()
}

// Status returns a snapshot for the control surface.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{Running: a.running.Load(), LinkState: link.StateDisconnected.String()}
	if a.run != nil {
		st.RunID = a.run.id
		st.OrgID = a.run.cfg.OrgID
		st.DeviceAddress = a.run.cfg.DeviceAddress
		st.LinkState = a.run.link.State().String()
	}
	return st
}
