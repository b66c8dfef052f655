package capability

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the device's registered capabilities and routes
// commands to them.
//
// It is populated at boot, before any concurrent access begins, and is
// read-only afterwards: Register is not safe to call once Dispatch may
// run. The registry holds no hardware state of its own.
type Registry struct {
	tools     []Tool
	byName    map[string]Tool
	validator *schemaValidator
	logger    Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]Tool),
		validator: newSchemaValidator(),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a capability to the registry.
//
// Duplicate names are a configuration error: the call returns
// ErrDuplicateTool and the original registration stays in place.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if _, exists := r.byName[name]; exists {
		r.logger.Error("duplicate tool registration rejected", "tool", name)
		return fmt.Errorf("%w: %q", ErrDuplicateTool, name)
	}
	r.tools = append(r.tools, tool)
	r.byName[name] = tool
	r.logger.Info("tool registered", "tool", name, "kind", tool.Describe().Kind)
	return nil
}

// InitAll initialises every registered capability.
//
// All tools are attempted even when earlier ones fail; the first error
// is returned so boot can log it. A failed tool stays registered - its
// Invoke decides how to report the degraded state.
func (r *Registry) InitAll() error {
	var firstErr error
	for _, tool := range r.tools {
		if err := tool.Init(); err != nil {
			r.logger.Error("tool init failed", "tool", tool.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("initialising tool %q: %w", tool.Name(), err)
			}
		}
	}
	return firstErr
}

// Tools returns the registered capabilities in registration order.
func (r *Registry) Tools() []Tool {
	return r.tools
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	return len(r.tools)
}

// AnnounceDocument is the retained capability/identity snapshot the
// orchestrator discovers the device through.
type AnnounceDocument struct {
	Type     string       `json:"type"`
	DeviceID string       `json:"device_id"`
	HTTPBase string       `json:"http_base"`
	Firmware string       `json:"firmware,omitempty"`
	Tools    []Descriptor `json:"tools"`
}

// Announce builds the announcement document for the current identity.
//
// The document is regenerated on every call - never cached - so an
// identity or address change is always reflected in the next publish.
func (r *Registry) Announce(id Identity) ([]byte, error) {
	doc := AnnounceDocument{
		Type:     "device.announce",
		DeviceID: id.DeviceID,
		HTTPBase: id.HTTPBase,
		Firmware: id.Firmware,
		Tools:    make([]Descriptor, 0, len(r.tools)),
	}
	for _, tool := range r.tools {
		doc.Tools = append(doc.Tools, tool.Describe())
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding announce document: %w", err)
	}
	return payload, nil
}

// Dispatch routes a decoded command envelope to the matching
// capability.
//
// On a name miss it returns an unsupported_tool error observation
// without invoking anything. On a hit it validates args against the
// tool's parameter schema, invokes synchronously (callers must be on
// the dispatch worker, never a network-servicing goroutine), and
// forwards whatever the tool produced verbatim - a tool may return
// false while still having filled a payload.
//
// An empty request id is replaced with a generated one so the
// observation can always be correlated.
func (r *Registry) Dispatch(cmd *Command) (bool, *Observation) {
	ob := NewObservation()

	rid := cmd.RequestID
	if rid == "" {
		rid = uuid.NewString()
	}
	ob.SetRequestID(rid)

	if cmd.Type != CommandType {
		r.logger.Warn("command with unexpected type", "type", cmd.Type)
		ob.Fail(ErrCodeBadRequest, "unexpected envelope type")
		return false, ob
	}

	tool, ok := r.byName[cmd.Tool]
	if !ok {
		r.logger.Warn("command for unknown tool", "tool", cmd.Tool, "request_id", rid)
		ob.Fail(ErrCodeUnsupportedTool, "tool not found")
		return false, ob
	}

	if err := r.validator.Validate(tool.Describe().Parameters, cmd.Args); err != nil {
		r.logger.Warn("command args failed schema validation",
			"tool", cmd.Tool,
			"request_id", rid,
			"error", err,
		)
		ob.Fail(ErrCodeInvalidArgs, err.Error())
		return false, ob
	}

	r.logger.Debug("invoking tool", "tool", cmd.Tool, "request_id", rid)
	invoked := tool.Invoke(cmd.Args, ob)
	return invoked, ob
}
