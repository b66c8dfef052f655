package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mcplite/caphost/internal/capability"
	"github.com/mcplite/caphost/internal/pattern"
)

// FrameSink receives rendered pixel frames. The LED driver lives
// behind it.
type FrameSink interface {
	// Show displays one frame. Called from the periodic tick, must not
	// block.
	Show(frame []pattern.HSV)

	// Pixels returns the strip length.
	Pixels() int
}

// LightPattern is the light_pattern capability: saved expression
// patterns rendered to a FrameSink on every tick.
type LightPattern struct {
	store *pattern.Store
	sink  FrameSink
}

// NewLightPattern creates the capability over the given store and sink.
func NewLightPattern(store *pattern.Store, sink FrameSink) *LightPattern {
	return &LightPattern{store: store, sink: sink}
}

func (l *LightPattern) Init() error {
	if l.sink == nil {
		return fmt.Errorf("light_pattern: no frame sink")
	}
	if l.sink.Pixels() < 1 {
		return fmt.Errorf("light_pattern: sink reports %d pixels", l.sink.Pixels())
	}
	return nil
}

func (l *LightPattern) Name() string { return "light_pattern" }

func (l *LightPattern) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        l.Name(),
		Description: "Save, play and stop expression-driven light patterns",
		Kind:        capability.KindAction,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"op": {"type": "string", "enum": ["save", "play", "stop", "list"]},
				"name": {"type": "string"},
				"hue": {"type": "string"},
				"sat": {"type": "string"},
				"val": {"type": "string"},
				"duration_sec": {"type": "number", "minimum": 0}
			},
			"required": ["op"],
			"additionalProperties": false
		}`),
	}
}

func (l *LightPattern) Invoke(args map[string]any, ob *capability.Observation) bool {
	op, _ := args["op"].(string)
	switch op {
	case "save":
		return l.save(args, ob)
	case "play":
		name, _ := args["name"].(string)
		if !l.store.Play(name, time.Now()) {
			ob.Fail("pattern_not_found", fmt.Sprintf("no pattern named %q", name))
			return false
		}
		ob.Success(fmt.Sprintf("playing %q", name))
		return true
	case "stop":
		l.store.Stop()
		ob.Success("stopped")
		return true
	case "list":
		names := make([]string, 0, l.store.Count())
		for _, p := range l.store.List() {
			names = append(names, p.Name)
		}
		ob.Success(strings.Join(names, ","))
		return true
	default:
		ob.Fail(capability.ErrCodeInvalidArgs, fmt.Sprintf("unknown op %q", op))
		return false
	}
}

func (l *LightPattern) save(args map[string]any, ob *capability.Observation) bool {
	name, _ := args["name"].(string)
	if name == "" {
		ob.Fail(capability.ErrCodeInvalidArgs, "save requires a name")
		return false
	}
	p := pattern.Pattern{Name: name}
	p.Hue, _ = args["hue"].(string)
	p.Sat, _ = args["sat"].(string)
	p.Val, _ = args["val"].(string)
	if d, ok := args["duration_sec"].(float64); ok {
		p.Duration = d
	}

	if !l.store.Save(p) {
		ob.Fail("store_full", fmt.Sprintf("pattern store holds at most %d patterns", pattern.MaxPatterns))
		return false
	}
	ob.Success(fmt.Sprintf("saved %q", name))
	return true
}

// Tick renders the active pattern's current frame to the sink. No-op
// while nothing plays.
func (l *LightPattern) Tick(now time.Time) {
	frame, ok := l.store.Frame(l.sink.Pixels(), now)
	if !ok {
		return
	}
	l.sink.Show(frame)
}
