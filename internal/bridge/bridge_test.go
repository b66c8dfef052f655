package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mcplite/caphost/internal/capability"
	"github.com/mcplite/caphost/internal/infrastructure/config"
	"github.com/mcplite/caphost/internal/infrastructure/mqtt"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type publishRecord struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeSession records publishes in order and lets tests drive
// connect/disconnect transitions.
type fakeSession struct {
	mu        sync.Mutex
	connected bool
	published []publishRecord
	handlers  map[string]mqtt.MessageHandler
	onConnect func()
}

func newFakeSession(connected bool) *fakeSession {
	return &fakeSession{connected: connected, handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeSession) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishRecord{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakeSession) PublishRetained(topic string, payload []byte) error {
	return f.Publish(topic, payload, 1, true)
}

func (f *fakeSession) ClearRetained(topic string) error {
	return f.Publish(topic, []byte{}, 1, true)
}

func (f *fakeSession) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSession) SetOnConnect(callback func()) {
	f.mu.Lock()
	f.onConnect = callback
	f.mu.Unlock()
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Close() error { return nil }

// reconnect simulates a broker session drop and re-establishment.
func (f *fakeSession) reconnect() {
	f.mu.Lock()
	f.connected = false
	f.connected = true
	cb := f.onConnect
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakeSession) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

func (f *fakeSession) records() []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishRecord, len(f.published))
	copy(out, f.published)
	return out
}

func (f *fakeSession) reset() {
	f.mu.Lock()
	f.published = nil
	f.mu.Unlock()
}

// recordEnqueuer captures enqueued payloads.
type recordEnqueuer struct {
	mu   sync.Mutex
	jobs [][]byte
}

func (r *recordEnqueuer) Enqueue(payload []byte) {
	r.mu.Lock()
	r.jobs = append(r.jobs, payload)
	r.mu.Unlock()
}

func (r *recordEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func testIdentity() func() capability.Identity {
	return func() capability.Identity {
		return capability.Identity{DeviceID: "dev-abc123", HTTPBase: "http://10.0.0.5:8080", Firmware: "1.0.0"}
	}
}

func newTestBridge(t *testing.T, session Session) (*Bridge, *capability.Registry, *recordEnqueuer) {
	t.Helper()
	registry := capability.NewRegistry()
	ports := capability.NewPortRegistry()
	jobs := &recordEnqueuer{}
	b := New(
		config.MQTTConfig{QoS: 1, Intervals: config.MQTTIntervalConfig{Status: 30, Announce: 300}},
		NewTopics("dev-abc123"),
		session,
		registry,
		ports,
		testIdentity(),
		nopLogger{},
	)
	b.SetJobQueue(jobs)
	return b, registry, jobs
}

func TestTopics(t *testing.T) {
	topics := NewTopics("dev-abc123")

	tests := []struct {
		got, want string
	}{
		{topics.Announce(), "mcp/dev/dev-abc123/announce"},
		{topics.Status(), "mcp/dev/dev-abc123/status"},
		{topics.Cmd(), "mcp/dev/dev-abc123/cmd"},
		{topics.Events(), "mcp/dev/dev-abc123/events"},
		{topics.PortsAnnounce(), "mcp/dev/dev-abc123/ports/announce"},
		{topics.PortsData(), "mcp/dev/dev-abc123/ports/data"},
		{topics.PortsSet(), "mcp/dev/dev-abc123/ports/set"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestStart_AnnounceBeforeStatus(t *testing.T) {
	session := newFakeSession(true)
	b, _, _ := newTestBridge(t, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	records := session.records()
	if len(records) < 3 {
		t.Fatalf("publishes after connect = %d, want announce, ports announce, status", len(records))
	}
	if records[0].topic != b.topics.Announce() || !records[0].retained {
		t.Errorf("first publish = %+v, want retained announce", records[0])
	}
	if records[1].topic != b.topics.PortsAnnounce() || !records[1].retained {
		t.Errorf("second publish = %+v, want retained ports announce", records[1])
	}
	if records[2].topic != b.topics.Status() || records[2].retained {
		t.Errorf("third publish = %+v, want non-retained status", records[2])
	}

	var status Status
	if err := json.Unmarshal(records[2].payload, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if !status.Online {
		t.Error("status online = false, want true")
	}
}

func TestReconnect_RepublishesAnnounceFirst(t *testing.T) {
	session := newFakeSession(true)
	b, _, _ := newTestBridge(t, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	session.reset()
	session.reconnect()

	records := session.records()
	if len(records) < 3 {
		t.Fatalf("publishes after reconnect = %d, want 3", len(records))
	}
	if records[0].topic != b.topics.Announce() {
		t.Errorf("first publish after reconnect = %q, want announce", records[0].topic)
	}
	statusIdx := -1
	for i, rec := range records {
		if rec.topic == b.topics.Status() {
			statusIdx = i
			break
		}
	}
	if statusIdx >= 0 && statusIdx < 1 {
		t.Error("status published before announce after reconnect")
	}
}

func TestInboundCommand_EnqueuedNotExecuted(t *testing.T) {
	session := newFakeSession(true)
	b, _, jobs := newTestBridge(t, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	session.deliver(b.topics.Cmd(), []byte(`{"type":"device.command","tool":"x"}`))
	if jobs.count() != 1 {
		t.Errorf("enqueued jobs = %d, want 1", jobs.count())
	}
}

func TestInboundPortSet(t *testing.T) {
	session := newFakeSession(true)
	registry := capability.NewRegistry()
	ports := capability.NewPortRegistry()
	p, err := ports.CreateInPort("brightness", "float")
	if err != nil {
		t.Fatalf("CreateInPort() error = %v", err)
	}
	b := New(config.MQTTConfig{QoS: 1}, NewTopics("dev-abc123"), session, registry, ports, testIdentity(), nopLogger{})
	b.SetJobQueue(&recordEnqueuer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	session.deliver(b.topics.PortsSet(), []byte(`{"port":"brightness","value":0.6}`))
	if got := p.Value(); got != 0.6 {
		t.Errorf("inport value = %v, want 0.6", got)
	}

	// Garbage neither panics nor produces an observation.
	session.deliver(b.topics.PortsSet(), []byte("junk"))
	for _, rec := range session.records() {
		if rec.topic == b.topics.Events() {
			t.Errorf("port set produced an observation: %+v", rec)
		}
	}
}

func TestClearRetainedThenReannounce_Idempotent(t *testing.T) {
	session := newFakeSession(true)
	b, registry, _ := newTestBridge(t, session)
	_ = registry

	before, err := b.registry.Announce(b.identity())
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	if err := b.ClearRetainedState(); err != nil {
		t.Fatalf("ClearRetainedState() error = %v", err)
	}
	records := session.records()
	cleared := map[string]bool{}
	for _, rec := range records {
		if len(rec.payload) == 0 && rec.retained {
			cleared[rec.topic] = true
		}
	}
	for _, topic := range []string{b.topics.Announce(), b.topics.Status(), b.topics.PortsAnnounce()} {
		if !cleared[topic] {
			t.Errorf("topic %q not cleared", topic)
		}
	}

	session.reset()
	if err := b.Reannounce(); err != nil {
		t.Fatalf("Reannounce() error = %v", err)
	}
	records = session.records()
	if len(records) == 0 || records[0].topic != b.topics.Announce() {
		t.Fatalf("reannounce publishes = %+v", records)
	}
	if string(records[0].payload) != string(before) {
		t.Errorf("announce after clear differs from before:\n%s\n%s", records[0].payload, before)
	}
}

func TestPublishObservation_UsesEventsTopic(t *testing.T) {
	session := newFakeSession(true)
	b, _, _ := newTestBridge(t, session)

	if err := b.PublishObservation([]byte(`{"ok":true}`)); err != nil {
		t.Fatalf("PublishObservation() error = %v", err)
	}
	records := session.records()
	if len(records) != 1 || records[0].topic != b.topics.Events() || records[0].retained {
		t.Errorf("records = %+v, want one non-retained events publish", records)
	}
}

func TestEmit_RewritesAssets(t *testing.T) {
	session := newFakeSession(true)
	b, _, _ := newTestBridge(t, session)

	ob := capability.NewObservation()
	ob.Success("impact")
	ob.AddAsset("a1", "image/jpeg", "/camera/last.jpg")
	b.Emit(ob)

	records := session.records()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	var decoded capability.Observation
	if err := json.Unmarshal(records[0].payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := decoded.Result.Assets[0].URL; got != "http://10.0.0.5:8080/camera/last.jpg" {
		t.Errorf("asset url = %q, want absolute", got)
	}
}

func TestTick_PublishesDuePortSamples(t *testing.T) {
	session := newFakeSession(true)
	registry := capability.NewRegistry()
	ports := capability.NewPortRegistry()
	if err := ports.AddOutPort(&staticPort{name: "load", period: time.Second, value: 0.7}); err != nil {
		t.Fatalf("AddOutPort() error = %v", err)
	}
	sink := &recordSink{}
	b := New(config.MQTTConfig{QoS: 1}, NewTopics("dev-abc123"), session, registry, ports, testIdentity(), nopLogger{})
	b.SetSampleSink(sink)

	now := time.Now()
	b.tick(now)

	records := session.records()
	if len(records) != 1 || records[0].topic != b.topics.PortsData() {
		t.Fatalf("records = %+v, want one ports data publish", records)
	}
	var sample capability.PortSample
	if err := json.Unmarshal(records[0].payload, &sample); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sample.Port != "load" || sample.Value != 0.7 {
		t.Errorf("sample = %+v", sample)
	}
	if len(sink.samples) != 1 || sink.samples[0].port != "load" {
		t.Errorf("sink samples = %+v, want the same sample mirrored", sink.samples)
	}

	// Inside the period nothing republishes.
	session.reset()
	b.tick(now.Add(200 * time.Millisecond))
	if len(session.records()) != 0 {
		t.Error("port sample published before its period elapsed")
	}
}

func TestLastWill(t *testing.T) {
	topics := NewTopics("dev-abc123")
	will, err := LastWill(topics, "dev-abc123")
	if err != nil {
		t.Fatalf("LastWill() error = %v", err)
	}
	if will.Topic != topics.Status() || !will.Retained {
		t.Errorf("will = %+v, want retained status", will)
	}
	var status Status
	if err := json.Unmarshal(will.Payload, &status); err != nil {
		t.Fatalf("unmarshal will payload: %v", err)
	}
	if status.Online {
		t.Error("will payload online = true, want false")
	}
}

type staticPort struct {
	name   string
	period time.Duration
	value  float64
}

func (s *staticPort) Name() string { return s.name }

func (s *staticPort) Describe() capability.PortDescriptor {
	return capability.PortDescriptor{Name: s.name, Type: "outport", DataType: "float"}
}

func (s *staticPort) Period() time.Duration { return s.period }

func (s *staticPort) Sample(time.Time) (float64, bool) { return s.value, true }

type sinkRecord struct {
	device, port string
	value        float64
}

type recordSink struct {
	samples []sinkRecord
}

func (r *recordSink) WritePortSample(deviceID, port string, value float64, ts time.Time) {
	r.samples = append(r.samples, sinkRecord{device: deviceID, port: port, value: value})
}
