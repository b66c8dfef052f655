package tools

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcplite/caphost/internal/capability"
)

// EventTool is the shared base for subscription capabilities. Commands
// toggle the subscription; the embedding tool emits observations
// asynchronously through the emitter while subscribed.
type EventTool struct {
	name        string
	description string
	signals     map[string]string
	emitter     capability.Emitter

	mu         sync.Mutex
	subscribed bool
}

// NewEventTool creates a subscription base. signals documents the
// asynchronous emissions in the announce document.
func NewEventTool(name, description string, signals map[string]string, emitter capability.Emitter) *EventTool {
	return &EventTool{
		name:        name,
		description: description,
		signals:     signals,
		emitter:     emitter,
	}
}

func (e *EventTool) Init() error { return nil }

func (e *EventTool) Name() string { return e.name }

func (e *EventTool) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        e.name,
		Description: e.description,
		Kind:        capability.KindEvent,
		Capabilities: map[string]bool{
			"subscribe":   true,
			"unsubscribe": true,
		},
		Signals: e.signals,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"op": {"type": "string", "enum": ["subscribe", "unsubscribe"]}
			},
			"required": ["op"],
			"additionalProperties": false
		}`),
	}
}

func (e *EventTool) Invoke(args map[string]any, ob *capability.Observation) bool {
	op, _ := args["op"].(string)
	switch op {
	case "subscribe":
		e.setSubscribed(true)
		ob.Success("subscribed")
		return true
	case "unsubscribe":
		e.setSubscribed(false)
		ob.Success("unsubscribed")
		return true
	default:
		ob.Fail(capability.ErrCodeInvalidArgs, fmt.Sprintf("unknown op %q", op))
		return false
	}
}

// SetEmitter wires the asynchronous publish path. Called by the
// composition root once the transport exists.
func (e *EventTool) SetEmitter(emitter capability.Emitter) {
	e.emitter = emitter
}

func (e *EventTool) setSubscribed(v bool) {
	e.mu.Lock()
	e.subscribed = v
	e.mu.Unlock()
}

// Subscribed reports whether emissions are currently wanted.
func (e *EventTool) Subscribed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribed
}

// EmitSignal pushes one asynchronous observation when subscribed.
// Unsubscribed tools stay silent.
func (e *EventTool) EmitSignal(signal, text string) {
	if !e.Subscribed() || e.emitter == nil {
		return
	}
	ob := capability.NewObservation()
	ob.Success(fmt.Sprintf("%s: %s", signal, text))
	e.emitter.Emit(ob)
}

// ImpactMonitor emits an impact signal when a sampled magnitude
// crosses a threshold. The sample function is polled from the periodic
// tick; a hold-off suppresses repeat emissions while the magnitude
// stays high.
type ImpactMonitor struct {
	*EventTool

	sample    func() float64
	threshold float64
	holdOff   time.Duration

	lastFired time.Time
}

// NewImpactMonitor creates the monitor over the given sampler.
func NewImpactMonitor(sample func() float64, threshold float64, holdOff time.Duration, emitter capability.Emitter) *ImpactMonitor {
	return &ImpactMonitor{
		EventTool: NewEventTool(
			"impact_monitor",
			"Emit an event when measured impact exceeds the threshold",
			map[string]string{"impact": "magnitude crossed the configured threshold"},
			emitter,
		),
		sample:    sample,
		threshold: threshold,
		holdOff:   holdOff,
	}
}

func (m *ImpactMonitor) Init() error {
	if m.sample == nil {
		return fmt.Errorf("impact_monitor: no sampler")
	}
	return nil
}

// Tick polls the sampler and emits on a threshold crossing.
func (m *ImpactMonitor) Tick(now time.Time) {
	if !m.Subscribed() {
		return
	}
	v := m.sample()
	// NaN (no reading yet) must not fire.
	if !(v >= m.threshold) {
		return
	}
	if !m.lastFired.IsZero() && now.Sub(m.lastFired) < m.holdOff {
		return
	}
	m.lastFired = now
	m.EmitSignal("impact", fmt.Sprintf("magnitude %.2f", v))
}
