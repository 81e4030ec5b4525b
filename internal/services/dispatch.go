package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

const (
	DefaultInitialDelay = 2 * time.Second
	DefaultPollInterval = 10 * time.Second
)

// JobSource is the remote queue as seen by the dispatcher.
type JobSource interface {
	FetchPending(ctx context.Context) ([]model.PrintJob, error)
	MarkPrinted(ctx context.Context, jobID string) error
}

// PayloadSender delivers one payload to the device as a unit.
type PayloadSender interface {
	Send(ctx context.Context, payload []byte) error
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Fetched int
	Printed int
	Acked   int
	Err     error
}

// Dispatcher polls the remote queue and turns each job into a print and an
// acknowledgment. A job is acknowledged only after its transfer succeeded;
// a failed acknowledgment leaves the job pending, so it is printed again on
// the next cycle.
type Dispatcher struct {
	queue        JobSource
	printer      PayloadSender
	initialDelay time.Duration
	interval     time.Duration
	log          *zap.Logger
	publish      func(model.Event)
}

func NewDispatcher(queue JobSource, printer PayloadSender, cfg model.PollerConfig, log *zap.Logger, publish func(model.Event)) *Dispatcher {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	if publish == nil {
		publish = func(model.Event) {}
	}
	return &Dispatcher{
		queue:        queue,
		printer:      printer,
		initialDelay: cfg.InitialDelay,
		interval:     cfg.Interval,
		log:          log,
		publish:      publish,
	}
}

// Run polls on a fixed cadence until ctx is done. Cycles never overlap:
// ticks that fall due while a cycle is still running are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(d.initialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	d.RunCycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle fetches pending jobs and dispatches them in queue order.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleReport {
	runID := model.RunIDFromContext(ctx)

	jobs, err := d.queue.FetchPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("poll failed", zap.Error(err))
			d.publish(model.Event{Type: model.EventPollFailed, RunID: runID, Error: err.Error()})
		}
		return CycleReport{Err: err}
	}

	report := CycleReport{Fetched: len(jobs)}
	if len(jobs) > 0 {
		d.log.Debug("jobs fetched", zap.Int("count", len(jobs)))
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			report.Err = err
			return report
		}

		if err := d.printer.Send(ctx, job.Payload()); err != nil {
			report.Err = err
			d.publish(model.Event{Type: model.EventJobPrintFailed, RunID: runID, JobID: job.ID, Error: err.Error()})
			if errors.Is(err, link.ErrNotReady) {
				// Every later job would fail the same way.
				d.log.Info("printer not ready, leaving jobs pending", zap.String("job_id", job.ID))
				return report
			}
			d.log.Warn("print failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		report.Printed++

		if err := d.queue.MarkPrinted(ctx, job.ID); err != nil {
			report.Err = err
			d.log.Warn("job printed but not acknowledged, it will print again next cycle",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			d.publish(model.Event{Type: model.EventJobAckFailed, RunID: runID, JobID: job.ID, Error: err.Error()})
			return report
		}
		report.Acked++
		d.log.Info("job printed", zap.String("job_id", job.ID), zap.Int("bytes", len(job.Content)))
		d.publish(model.Event{Type: model.EventJobPrinted, RunID: runID, JobID: job.ID})
	}
	return report
}
