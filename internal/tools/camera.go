package tools

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcplite/caphost/internal/capability"
)

// FrameSource captures one JPEG frame. Hardware lives behind this
// interface; the tool owns only the captured bytes.
type FrameSource interface {
	// Capture returns a complete JPEG. quality is one of low, mid,
	// high.
	Capture(quality string, flash bool) ([]byte, error)
}

// lastCapture is the owned buffer for the most recent frame. Replacing
// it drops the previous frame wholesale; there is no partial reuse and
// nothing to free by hand.
type lastCapture struct {
	mu   sync.RWMutex
	id   string
	data []byte
}

func (c *lastCapture) replace(id string, data []byte) {
	c.mu.Lock()
	c.id = id
	c.data = data
	c.mu.Unlock()
}

func (c *lastCapture) get() (string, []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id, c.data
}

// Camera is the capture_image capability. It holds the last captured
// frame and serves it over the local HTTP surface at /camera/last.jpg.
type Camera struct {
	source FrameSource
	last   lastCapture
}

// NewCamera creates the capture capability over the given source.
func NewCamera(source FrameSource) *Camera {
	return &Camera{source: source}
}

func (c *Camera) Init() error {
	if c.source == nil {
		return fmt.Errorf("camera: no frame source")
	}
	return nil
}

func (c *Camera) Name() string { return "capture_image" }

func (c *Camera) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        c.Name(),
		Description: "Capture a still image and return it as an asset",
		Kind:        capability.KindAction,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"quality": {"type": "string", "enum": ["low", "mid", "high"]},
				"flash": {"type": "string", "enum": ["on", "off"]}
			},
			"additionalProperties": false
		}`),
	}
}

func (c *Camera) Invoke(args map[string]any, ob *capability.Observation) bool {
	quality := "mid"
	if q, ok := args["quality"].(string); ok {
		quality = q
	}
	flash := false
	if f, ok := args["flash"].(string); ok {
		flash = f == "on"
	}

	data, err := c.source.Capture(quality, flash)
	if err != nil {
		ob.Fail("capture_failed", err.Error())
		return false
	}

	id := uuid.NewString()
	c.last.replace(id, data)

	ob.Success(fmt.Sprintf("captured %d bytes", len(data)))
	ob.AddAsset(id, "image/jpeg", "/camera/last.jpg")
	return true
}

// RegisterHTTP mounts the last-capture endpoint on the status server.
func (c *Camera) RegisterHTTP(r chi.Router) {
	r.Get("/camera/last.jpg", func(w http.ResponseWriter, req *http.Request) {
		id, data := c.last.get()
		if len(data) == 0 {
			http.Error(w, "no capture yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("X-Asset-ID", id)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})
}
