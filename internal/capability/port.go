package capability

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// PortDescriptor is the self-description of one port, serialized into
// the ports/announce document.
type PortDescriptor struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "outport" or "inport"
	DataType    string `json:"data_type"`
	Description string `json:"description,omitempty"`

	// PeriodMS is the emission period for outports.
	PeriodMS int64 `json:"period_ms,omitempty"`
}

// PortSample is one OutPort emission, published on ports/data.
type PortSample struct {
	Port      string    `json:"port"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// OutPort is a scheduled data source. The port registry calls Sample
// once per period from the bridge's periodic tick.
type OutPort interface {
	Name() string
	Describe() PortDescriptor

	// Period is the emission interval.
	Period() time.Duration

	// Sample produces the next value. The second return is false when
	// there is nothing to emit this round (e.g. a sensor read failed).
	Sample(now time.Time) (float64, bool)
}

// InPort is a general-purpose variable slot mutated only by inbound
// ports/set messages and read by tool logic on the dispatch worker.
//
// Writes are last-writer-wins with no ordering guarantee against
// concurrent reads, but access is mutex-guarded so reads never observe
// a torn value.
type InPort struct {
	name     string
	dataType string

	mu    sync.RWMutex
	value float64
	set   bool
}

// Name returns the port name.
func (p *InPort) Name() string { return p.name }

// Value returns the current value. NaN until the first Set.
func (p *InPort) Value() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.set {
		return math.NaN()
	}
	return p.value
}

// Set stores a new value (last-writer-wins).
func (p *InPort) Set(value float64) {
	p.mu.Lock()
	p.value = value
	p.set = true
	p.mu.Unlock()
}

// Describe returns the port descriptor.
func (p *InPort) Describe() PortDescriptor {
	return PortDescriptor{
		Name:        p.name,
		Type:        "inport",
		DataType:    p.dataType,
		Description: "General-purpose variable slot",
	}
}

// PortRegistry holds the device's ports.
//
// Like the tool registry it is populated at boot and structurally
// read-only afterwards; only InPort values mutate, behind their own
// locks.
type PortRegistry struct {
	outports []OutPort
	inports  map[string]*InPort
	order    []*InPort

	// lastEmit tracks per-outport emission times for the periodic tick.
	lastEmit map[string]time.Time

	logger Logger
}

// NewPortRegistry creates an empty port registry.
func NewPortRegistry() *PortRegistry {
	return &PortRegistry{
		inports:  make(map[string]*InPort),
		lastEmit: make(map[string]time.Time),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the port registry.
func (r *PortRegistry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddOutPort registers a scheduled data source.
func (r *PortRegistry) AddOutPort(p OutPort) error {
	for _, existing := range r.outports {
		if existing.Name() == p.Name() {
			r.logger.Error("duplicate outport registration rejected", "port", p.Name())
			return fmt.Errorf("%w: %q", ErrDuplicatePort, p.Name())
		}
	}
	if _, exists := r.inports[p.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePort, p.Name())
	}
	r.outports = append(r.outports, p)
	return nil
}

// CreateInPort registers a new variable slot and returns it.
func (r *PortRegistry) CreateInPort(name, dataType string) (*InPort, error) {
	if _, exists := r.inports[name]; exists {
		r.logger.Error("duplicate inport registration rejected", "port", name)
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePort, name)
	}
	for _, existing := range r.outports {
		if existing.Name() == name {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePort, name)
		}
	}
	p := &InPort{name: name, dataType: dataType}
	r.inports[name] = p
	r.order = append(r.order, p)
	return p, nil
}

// InPort returns the named variable slot, or ErrPortNotFound.
func (r *PortRegistry) InPort(name string) (*InPort, error) {
	p, ok := r.inports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPortNotFound, name)
	}
	return p, nil
}

// InPortValue returns the named slot's value, NaN if the port is
// unknown or unset. Pattern expressions use this as their variable
// resolver.
func (r *PortRegistry) InPortValue(name string) float64 {
	p, ok := r.inports[name]
	if !ok {
		return math.NaN()
	}
	return p.Value()
}

// HandleSet applies an inbound ports/set message. Unknown ports are
// logged and ignored (the orchestrator gets no observation for port
// writes).
func (r *PortRegistry) HandleSet(name string, value float64) {
	p, ok := r.inports[name]
	if !ok {
		r.logger.Warn("set for unknown inport", "port", name)
		return
	}
	p.Set(value)
	r.logger.Debug("inport updated", "port", name, "value", value)
}

// Counts returns the number of registered outports and inports.
func (r *PortRegistry) Counts() (outports, inports int) {
	return len(r.outports), len(r.inports)
}

// TickAll samples every OutPort whose period has elapsed and hands the
// emissions to emit. Called from the bridge's periodic loop.
func (r *PortRegistry) TickAll(now time.Time, emit func(PortSample)) {
	for _, p := range r.outports {
		period := p.Period()
		if period <= 0 {
			continue
		}
		if last, ok := r.lastEmit[p.Name()]; ok && now.Sub(last) < period {
			continue
		}
		value, ok := p.Sample(now)
		if !ok {
			continue
		}
		r.lastEmit[p.Name()] = now
		emit(PortSample{Port: p.Name(), Value: value, Timestamp: now})
	}
}

// PortsDocument is the retained ports/announce snapshot.
type PortsDocument struct {
	Type     string           `json:"type"`
	DeviceID string           `json:"device_id"`
	Ports    []PortDescriptor `json:"ports"`
}

// Announce builds the ports announcement document. Regenerated on every
// call, never cached.
func (r *PortRegistry) Announce(deviceID string) ([]byte, error) {
	doc := PortsDocument{
		Type:     "device.ports",
		DeviceID: deviceID,
		Ports:    make([]PortDescriptor, 0, len(r.outports)+len(r.order)),
	}
	for _, p := range r.outports {
		doc.Ports = append(doc.Ports, p.Describe())
	}
	for _, p := range r.order {
		doc.Ports = append(doc.Ports, p.Describe())
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding ports document: %w", err)
	}
	return payload, nil
}

// SetMessage is the inbound ports/set payload.
type SetMessage struct {
	Port  string  `json:"port"`
	Value float64 `json:"value"`
}

// DecodeSetMessage parses a raw ports/set payload.
func DecodeSetMessage(payload []byte) (*SetMessage, error) {
	var msg SetMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
