package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/mcplite/caphost/internal/capability"
	"github.com/mcplite/caphost/internal/infrastructure/config"
	"github.com/mcplite/caphost/internal/infrastructure/mqtt"
)

// tickInterval drives foreground work (pattern rendering, event
// polling, outport schedules). Individual ports gate themselves on
// their own periods.
const tickInterval = 250 * time.Millisecond

// Session is the broker session the bridge drives. Satisfied by
// *mqtt.Client; tests substitute a fake.
type Session interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	IsConnected() bool
	Close() error
}

// Enqueuer accepts raw command payloads for asynchronous dispatch.
type Enqueuer interface {
	Enqueue(payload []byte)
}

// SampleSink receives outport samples for long-term storage. Optional;
// writes are fire-and-forget, the sink handles its own errors.
type SampleSink interface {
	WritePortSample(deviceID, port string, value float64, ts time.Time)
}

// Logger is the subset of the structured logger the bridge needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Status is the heartbeat payload.
type Status struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Online    bool      `json:"online"`
	Uptime    float64   `json:"uptime"`
	Signal    int       `json:"signal"`
	Timestamp time.Time `json:"timestamp"`
}

// statusType is the envelope type for heartbeat payloads.
const statusType = "device.status"

// Bridge connects the registries to the broker session.
type Bridge struct {
	cfg      config.MQTTConfig
	topics   Topics
	session  Session
	registry *capability.Registry
	ports    *capability.PortRegistry
	jobs     Enqueuer
	logger   Logger

	// identity is read per publish: http_base follows the current
	// network address.
	identity func() capability.Identity

	// signal reports link quality for the status payload. Optional.
	signal func() int

	tickers []capability.Ticker
	sink    SampleSink

	// pubMu serializes every outbound publish on the session.
	pubMu   sync.Mutex
	started time.Time

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New wires a bridge. sink may be nil.
func New(
	cfg config.MQTTConfig,
	topics Topics,
	session Session,
	registry *capability.Registry,
	ports *capability.PortRegistry,
	identity func() capability.Identity,
	logger Logger,
) *Bridge {
	b := &Bridge{
		cfg:      cfg,
		topics:   topics,
		session:  session,
		registry: registry,
		ports:    ports,
		identity: identity,
		logger:   logger,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	for _, tool := range registry.Tools() {
		if ticker, ok := tool.(capability.Ticker); ok {
			b.tickers = append(b.tickers, ticker)
		}
	}
	return b
}

// SetJobQueue wires the dispatch queue for inbound commands. Must be
// set before Start; the bridge and dispatcher reference each other, so
// one side has to be wired late.
func (b *Bridge) SetJobQueue(jobs Enqueuer) {
	b.jobs = jobs
}

// SetSampleSink forwards outport samples to long-term storage on top
// of the normal ports/data publish.
func (b *Bridge) SetSampleSink(sink SampleSink) {
	b.sink = sink
}

// SetSignalSource provides the link-quality reading for status
// payloads.
func (b *Bridge) SetSignalSource(signal func() int) {
	b.signal = signal
}

// LastWill builds the broker-held offline status. Retained, so the
// orchestrator sees the device offline the moment the session drops.
func LastWill(topics Topics, deviceID string) (*mqtt.Will, error) {
	payload, err := json.Marshal(Status{
		Type:      statusType,
		DeviceID:  deviceID,
		Online:    false,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding last-will status: %w", err)
	}
	return &mqtt.Will{
		Topic:    topics.Status(),
		Payload:  payload,
		QoS:      1,
		Retained: true,
	}, nil
}

// Start subscribes the inbound topics, registers the session-up hook
// and launches the periodic loop. The announce sequence runs
// immediately when the session is already connected.
func (b *Bridge) Start(ctx context.Context) error {
	qos := byte(b.cfg.QoS)

	if err := b.session.Subscribe(b.topics.Cmd(), qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing command topic: %w", err)
	}
	if err := b.session.Subscribe(b.topics.PortsSet(), qos, b.handlePortSet); err != nil {
		return fmt.Errorf("subscribing port set topic: %w", err)
	}

	b.session.SetOnConnect(b.sessionUp)
	if b.session.IsConnected() {
		b.sessionUp()
	}

	b.wg.Add(1)
	go b.loop(ctx)
	return nil
}

// Stop halts the periodic loop. The session itself is closed by the
// caller after a final offline status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// Connected reports whether the broker session is up.
func (b *Bridge) Connected() bool {
	return b.session.IsConnected()
}

// sessionUp runs after every (re)connect: retained announces first,
// then the first status. Holding pubMu across the sequence keeps the
// ordering visible to the orchestrator.
func (b *Bridge) sessionUp() {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := b.publishAnnounceLocked(); err != nil {
		b.logger.Warn("announce after connect", "error", err)
	}
	if err := b.publishStatusLocked(); err != nil {
		b.logger.Warn("status after connect", "error", err)
	}
	b.logger.Info("session up, device announced", "topic", b.topics.Announce())
}

// handleCommand copies the payload into the dispatch queue and returns
// immediately; nothing executes on the network callback.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	if b.jobs == nil {
		b.logger.Warn("command received before dispatcher wired")
		return nil
	}
	b.jobs.Enqueue(payload)
	return nil
}

// handlePortSet applies an inport write. No observation is produced
// for port writes.
func (b *Bridge) handlePortSet(topic string, payload []byte) error {
	msg, err := capability.DecodeSetMessage(payload)
	if err != nil {
		b.logger.Warn("undecodable port set payload", "error", err)
		return nil
	}
	b.ports.HandleSet(msg.Port, msg.Value)
	return nil
}

// PublishObservation publishes one observation on the events topic.
// Implements the dispatcher's publisher.
func (b *Bridge) PublishObservation(payload []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.session.Publish(b.topics.Events(), payload, byte(b.cfg.QoS), false)
}

// Emit publishes an asynchronous observation from an event tool,
// rewriting asset URLs the same way the dispatch path does.
func (b *Bridge) Emit(ob *capability.Observation) {
	ob.RewriteAssetURLs(b.identity().HTTPBase)
	payload, err := ob.Encode()
	if err != nil {
		b.logger.Error("encoding emitted observation", "error", err)
		return
	}
	if err := b.PublishObservation(payload); err != nil {
		b.logger.Warn("publishing emitted observation", "error", err)
	}
}

// StatusNow forces an immediate heartbeat publish.
func (b *Bridge) StatusNow() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.publishStatusLocked()
}

// Reannounce republishes the retained announce documents.
func (b *Bridge) Reannounce() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.publishAnnounceLocked()
}

// ClearRetainedState erases the broker-held snapshots: announce,
// status and ports announce all get empty retained payloads.
func (b *Bridge) ClearRetainedState() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	var firstErr error
	for _, topic := range []string{b.topics.Announce(), b.topics.Status(), b.topics.PortsAnnounce()} {
		if err := b.session.ClearRetained(topic); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clearing retained %s: %w", topic, err)
		}
	}
	return firstErr
}

func (b *Bridge) publishAnnounceLocked() error {
	announce, err := b.registry.Announce(b.identity())
	if err != nil {
		return err
	}
	if err := b.session.PublishRetained(b.topics.Announce(), announce); err != nil {
		return fmt.Errorf("publishing announce: %w", err)
	}

	portsDoc, err := b.ports.Announce(b.identity().DeviceID)
	if err != nil {
		return err
	}
	if err := b.session.PublishRetained(b.topics.PortsAnnounce(), portsDoc); err != nil {
		return fmt.Errorf("publishing ports announce: %w", err)
	}
	return nil
}

func (b *Bridge) publishStatusLocked() error {
	signal := 0
	if b.signal != nil {
		signal = b.signal()
	}
	// Host uptime when readable, process uptime otherwise.
	uptime := time.Since(b.started).Seconds()
	if up, err := host.Uptime(); err == nil {
		uptime = float64(up)
	}
	payload, err := json.Marshal(Status{
		Type:      statusType,
		DeviceID:  b.identity().DeviceID,
		Online:    true,
		Uptime:    uptime,
		Signal:    signal,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return b.session.Publish(b.topics.Status(), payload, byte(b.cfg.QoS), false)
}

// loop is the foreground periodic driver: fast ticks for tools and
// ports, slower timers for status and announce refresh.
func (b *Bridge) loop(ctx context.Context) {
	defer b.wg.Done()

	statusEvery := b.cfg.Intervals.StatusInterval()
	if statusEvery <= 0 {
		statusEvery = 30 * time.Second
	}
	announceEvery := b.cfg.Intervals.AnnounceInterval()
	if announceEvery <= 0 {
		announceEvery = 300 * time.Second
	}

	tick := time.NewTicker(tickInterval)
	status := time.NewTicker(statusEvery)
	announce := time.NewTicker(announceEvery)
	defer tick.Stop()
	defer status.Stop()
	defer announce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case now := <-tick.C:
			b.tick(now)
		case <-status.C:
			if !b.session.IsConnected() {
				continue
			}
			if err := b.StatusNow(); err != nil {
				b.logger.Warn("periodic status", "error", err)
			}
		case <-announce.C:
			if !b.session.IsConnected() {
				continue
			}
			if err := b.Reannounce(); err != nil {
				b.logger.Warn("periodic announce", "error", err)
			}
		}
	}
}

// tick runs tool tickers and due outports. Samples publish on
// ports/data and mirror into the sample sink when one is set.
func (b *Bridge) tick(now time.Time) {
	for _, t := range b.tickers {
		t.Tick(now)
	}

	if !b.session.IsConnected() {
		return
	}
	b.ports.TickAll(now, func(s capability.PortSample) {
		payload, err := json.Marshal(s)
		if err != nil {
			b.logger.Error("encoding port sample", "port", s.Port, "error", err)
			return
		}
		b.pubMu.Lock()
		err = b.session.Publish(b.topics.PortsData(), payload, byte(b.cfg.QoS), false)
		b.pubMu.Unlock()
		if err != nil {
			b.logger.Warn("publishing port sample", "port", s.Port, "error", err)
		}

		if b.sink != nil {
			b.sink.WritePortSample(b.identity().DeviceID, s.Port, s.Value, s.Timestamp)
		}
	})
}
