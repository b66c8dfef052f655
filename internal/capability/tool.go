package capability

import (
	"encoding/json"
	"time"

	"github.com/go-chi/chi/v5"
)

// Kind classifies a capability in its descriptor.
type Kind string

const (
	// KindAction is a request/response capability: one command, one
	// observation.
	KindAction Kind = "action"

	// KindEvent is a subscription capability: commands manage the
	// subscription, observations are emitted asynchronously.
	KindEvent Kind = "event"
)

// Descriptor is the self-description of one capability, serialized into
// the announce document. Built once at registration and immutable
// afterwards.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`

	// Parameters is a JSON-schema object describing the args the
	// capability accepts. The registry validates inbound args against
	// it before invoking.
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Capabilities advertises optional feature flags (e.g. subscribe /
	// unsubscribe for event tools).
	Capabilities map[string]bool `json:"capabilities,omitempty"`

	// Signals describes the asynchronous emissions of an event tool.
	Signals map[string]string `json:"signals,omitempty"`
}

// Tool is the contract every capability implements.
//
// Implementations live outside the core (hardware actions are external
// collaborators); the registry only depends on this interface.
type Tool interface {
	// Init prepares the capability (hardware probe, buffer allocation).
	// Called once at boot before any concurrent access.
	Init() error

	// Name returns the unique capability name used for dispatch.
	Name() string

	// Describe returns the immutable capability descriptor.
	Describe() Descriptor

	// Invoke executes the capability with the given args, filling the
	// observation. The boolean mirrors the observation's ok flag but is
	// returned separately: a capability may return false while still
	// having produced a payload, and both are forwarded verbatim.
	//
	// Invoke is always called from the dispatch worker and may block.
	Invoke(args map[string]any, ob *Observation) bool
}

// HTTPRegistrar is implemented by tools that expose local HTTP
// endpoints (e.g. the camera serving its last captured frame). The
// bridge mounts these on the status server at startup.
type HTTPRegistrar interface {
	RegisterHTTP(r chi.Router)
}

// Ticker is implemented by tools that need periodic foreground work
// (debounce timers, pattern rendering). Tick is called from the bridge's
// periodic loop and must not block.
type Ticker interface {
	Tick(now time.Time)
}

// Emitter pushes asynchronous observations to the events topic. Event
// tools hold one to emit outside the command/response cycle.
type Emitter interface {
	Emit(ob *Observation)
}

// Identity is the device identity stamped into every announce document.
//
// DeviceID must remain stable across reboots: the orchestrator's
// retained-state model keys on it. HTTPBase changes with the network
// address and forces a fresh announce whenever it does.
type Identity struct {
	DeviceID string `json:"device_id"`
	HTTPBase string `json:"http_base"`
	Firmware string `json:"firmware,omitempty"`
}
