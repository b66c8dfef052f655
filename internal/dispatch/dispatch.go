package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcplite/caphost/internal/capability"
	"github.com/mcplite/caphost/internal/infrastructure/config"
)

// Publisher delivers a completed observation to the orchestrator. The
// bridge implements it over the events topic with its session mutex
// held, so calls here serialize against status and announce publishes.
type Publisher interface {
	PublishObservation(payload []byte) error
}

// Logger is the subset of the structured logger the dispatcher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Dispatcher owns the bounded job queue and the single worker that
// drains it.
//
// Enqueue is safe from any goroutine; everything a capability does runs
// on the worker. Once dequeued a job runs to completion: there is no
// cancellation around an invocation, only an optional slow-run warning.
type Dispatcher struct {
	cfg       config.DispatchConfig
	registry  *capability.Registry
	publisher Publisher
	logger    Logger

	// httpBase reports the device's current reachable address, used to
	// rewrite relative asset URLs before publish. It changes with the
	// network address, so it is read per job, never cached.
	httpBase func() string

	queue   chan []byte
	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a dispatcher. httpBase may be nil when the device serves
// no local HTTP surface.
func New(cfg config.DispatchConfig, registry *capability.Registry, publisher Publisher, httpBase func() string, logger Logger) *Dispatcher {
	capacity := cfg.QueueCapacity
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		publisher: publisher,
		httpBase:  httpBase,
		logger:    logger,
		queue:     make(chan []byte, capacity),
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.worker(ctx)
	})
}

// Stop signals the worker and waits for the in-flight job to finish.
// Jobs still queued are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

// Enqueue copies a raw command payload into the job queue.
//
// Called from the transport's message callback. It never blocks: an
// oversized payload or a full queue drops the job with a warning, and
// the caller returns to servicing the connection immediately.
func (d *Dispatcher) Enqueue(payload []byte) {
	if len(payload) > d.cfg.MaxPayloadBytes {
		d.dropped.Add(1)
		d.logger.Warn("command payload over size limit, dropped",
			"size", len(payload),
			"limit", d.cfg.MaxPayloadBytes,
		)
		return
	}

	// The transport may reuse its buffer after the callback returns.
	job := make([]byte, len(payload))
	copy(job, payload)

	select {
	case d.queue <- job:
	default:
		d.dropped.Add(1)
		d.logger.Warn("job queue full, command dropped", "capacity", cap(d.queue))
	}
}

// QueueDepth returns the number of jobs waiting for the worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Dropped returns the number of jobs dropped since start.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	d.logger.Info("dispatch worker started", "queue_capacity", cap(d.queue))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatch worker stopping", "reason", "context cancelled")
			return
		case <-d.done:
			d.logger.Info("dispatch worker stopping", "reason", "stop requested")
			return
		case job := <-d.queue:
			d.process(job)
		}
	}
}

// process decodes one job, dispatches it, and publishes the resulting
// observation. Decode failures still produce an observation so the
// orchestrator can correlate the failure.
func (d *Dispatcher) process(job []byte) {
	cmd, err := capability.DecodeCommand(job)
	if err != nil {
		d.logger.Warn("undecodable command payload", "error", err)
		ob := capability.NewObservation()
		ob.Fail(capability.ErrCodeBadRequest, "malformed command payload")
		d.publish(ob)
		return
	}

	start := time.Now()
	_, ob := d.registry.Dispatch(cmd)
	elapsed := time.Since(start)

	if threshold := d.cfg.SlowWarnThreshold(); threshold > 0 && elapsed > threshold {
		d.logger.Warn("slow capability invocation",
			"tool", cmd.Tool,
			"request_id", ob.RequestID,
			"elapsed", elapsed,
		)
	}

	if d.httpBase != nil {
		ob.RewriteAssetURLs(d.httpBase())
	}
	d.publish(ob)
}

func (d *Dispatcher) publish(ob *capability.Observation) {
	payload, err := ob.Encode()
	if err != nil {
		d.logger.Error("encoding observation", "error", err)
		return
	}
	// At-most-once delivery: publish failures are logged and the
	// observation is dropped, there is no outbound retry queue.
	if err := d.publisher.PublishObservation(payload); err != nil {
		d.logger.Warn("publishing observation", "request_id", ob.RequestID, "error", err)
	}
}
