package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mcplite/caphost/internal/capability"
	"github.com/mcplite/caphost/internal/infrastructure/config"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// capturePublisher records every published observation.
type capturePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *capturePublisher) PublishObservation(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturePublisher) observations(t *testing.T) []*capability.Observation {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	obs := make([]*capability.Observation, 0, len(p.payloads))
	for _, payload := range p.payloads {
		var ob capability.Observation
		if err := json.Unmarshal(payload, &ob); err != nil {
			t.Fatalf("unmarshal observation: %v", err)
		}
		obs = append(obs, &ob)
	}
	return obs
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

// gateTool blocks inside Invoke until released.
type gateTool struct {
	name    string
	gate    chan struct{}
	started chan struct{}
	assets  []string
}

func (g *gateTool) Init() error { return nil }

func (g *gateTool) Name() string { return g.name }

func (g *gateTool) Describe() capability.Descriptor {
	return capability.Descriptor{Name: g.name, Kind: capability.KindAction}
}

func (g *gateTool) Invoke(args map[string]any, ob *capability.Observation) bool {
	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.gate != nil {
		<-g.gate
	}
	ob.Success("done")
	for _, url := range g.assets {
		ob.AddAsset("a1", "image/jpeg", url)
	}
	return true
}

func testConfig(capacity int) config.DispatchConfig {
	return config.DispatchConfig{
		QueueCapacity:   capacity,
		MaxPayloadBytes: 1024,
	}
}

func command(t *testing.T, tool, rid string) []byte {
	t.Helper()
	payload, err := json.Marshal(capability.Command{Type: capability.CommandType, RequestID: rid, Tool: tool})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return payload
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestDispatcher_ProcessesCommand(t *testing.T) {
	registry := capability.NewRegistry()
	if err := registry.Register(&gateTool{name: "capture_image"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	pub := &capturePublisher{}
	d := New(testConfig(4), registry, pub, nil, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(command(t, "capture_image", "r1"))

	waitFor(t, func() bool { return pub.count() == 1 })
	ob := pub.observations(t)[0]
	if !ob.OK || ob.RequestID != "r1" {
		t.Errorf("observation = %+v, want ok with request id r1", ob)
	}
}

func TestDispatcher_Backpressure(t *testing.T) {
	registry := capability.NewRegistry()
	tool := &gateTool{name: "slow", gate: make(chan struct{}), started: make(chan struct{}, 1)}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	pub := &capturePublisher{}

	const capacity = 2
	d := New(testConfig(capacity), registry, pub, nil, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	// Occupy the worker, then burst past the queue capacity.
	d.Enqueue(command(t, "slow", "r0"))
	<-tool.started

	const burst = 5
	for i := 0; i < burst; i++ {
		d.Enqueue(command(t, "slow", fmt.Sprintf("r%d", i+1)))
	}
	if got := d.Dropped(); got != burst-capacity {
		t.Errorf("Dropped() = %d, want %d", got, burst-capacity)
	}

	close(tool.gate)
	// The in-flight job plus the queued jobs complete; the dropped
	// ones never produce an observation.
	waitFor(t, func() bool { return pub.count() == capacity+1 })

	// Surviving jobs complete in arrival order.
	obs := pub.observations(t)
	want := []string{"r0", "r1", "r2"}
	for i, ob := range obs {
		if ob.RequestID != want[i] {
			t.Errorf("observation[%d].RequestID = %q, want %q", i, ob.RequestID, want[i])
		}
	}
}

func TestDispatcher_OversizedPayloadDropped(t *testing.T) {
	registry := capability.NewRegistry()
	pub := &capturePublisher{}
	cfg := testConfig(4)
	cfg.MaxPayloadBytes = 16
	d := New(cfg, registry, pub, nil, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(make([]byte, 64))
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
	if d.QueueDepth() != 0 {
		t.Errorf("QueueDepth() = %d, want 0", d.QueueDepth())
	}
}

func TestDispatcher_MalformedPayloadProducesBadRequest(t *testing.T) {
	registry := capability.NewRegistry()
	pub := &capturePublisher{}
	d := New(testConfig(4), registry, pub, nil, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue([]byte("{not json"))

	waitFor(t, func() bool { return pub.count() == 1 })
	ob := pub.observations(t)[0]
	if ob.OK || ob.Error == nil || ob.Error.Code != capability.ErrCodeBadRequest {
		t.Errorf("observation = %+v, want bad_request error", ob)
	}
}

func TestDispatcher_RewritesAssetURLs(t *testing.T) {
	registry := capability.NewRegistry()
	tool := &gateTool{name: "capture_image", assets: []string{"/camera/last.jpg"}}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	pub := &capturePublisher{}
	d := New(testConfig(4), registry, pub, func() string { return "http://10.0.0.5:8080" }, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(command(t, "capture_image", "r1"))

	waitFor(t, func() bool { return pub.count() == 1 })
	ob := pub.observations(t)[0]
	if len(ob.Result.Assets) != 1 {
		t.Fatalf("assets = %+v, want one", ob.Result.Assets)
	}
	if got := ob.Result.Assets[0].URL; got != "http://10.0.0.5:8080/camera/last.jpg" {
		t.Errorf("asset url = %q, want absolute", got)
	}
}

func TestDispatcher_EnqueueCopiesPayload(t *testing.T) {
	registry := capability.NewRegistry()
	tool := &gateTool{name: "capture_image"}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	pub := &capturePublisher{}
	d := New(testConfig(4), registry, pub, nil, nopLogger{})

	payload := command(t, "capture_image", "r1")
	d.Enqueue(payload)
	// The transport reuses its buffer after the callback returns.
	for i := range payload {
		payload[i] = 'x'
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	waitFor(t, func() bool { return pub.count() == 1 })
	ob := pub.observations(t)[0]
	if !ob.OK || ob.RequestID != "r1" {
		t.Errorf("observation = %+v, want the enqueued command to survive buffer reuse", ob)
	}
}
