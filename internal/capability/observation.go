package capability

import (
	"encoding/json"
	"strings"
)

// Asset is one binary artefact referenced from an observation, served
// over the device's local HTTP surface.
type Asset struct {
	ID   string `json:"id,omitempty"`
	MIME string `json:"mime,omitempty"`

	// URL is relative ("/camera/last.jpg") when the capability builds
	// it; the dispatch worker rewrites it to an absolute URL using the
	// device's current http_base before publish.
	URL string `json:"url"`
}

// Result is the success payload of an observation.
type Result struct {
	Text   string  `json:"text"`
	Assets []Asset `json:"assets"`
}

// ObservationError is the failure payload of an observation.
type ObservationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Observation is the result message produced by one capability
// invocation, published on the events topic.
//
// The zero value is not usable; create with NewObservation. The result
// object and assets array are always present (even empty) because the
// orchestrator bridge indexes into them unconditionally.
type Observation struct {
	Type      string            `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	OK        bool              `json:"ok"`
	Result    Result            `json:"result"`
	Error     *ObservationError `json:"error,omitempty"`
}

// NewObservation creates an empty, not-yet-successful observation.
func NewObservation() *Observation {
	return &Observation{
		Type:   "device.observation",
		OK:     false,
		Result: Result{Assets: []Asset{}},
	}
}

// SetRequestID attaches the originating command's request id.
func (o *Observation) SetRequestID(rid string) {
	o.RequestID = rid
}

// Success marks the observation ok with the given result text.
func (o *Observation) Success(text string) {
	o.OK = true
	o.Result.Text = text
	o.Error = nil
}

// SetText sets the result text without changing the ok flag.
func (o *Observation) SetText(text string) {
	o.Result.Text = text
}

// Fail marks the observation failed with a structured error.
func (o *Observation) Fail(code, message string) {
	o.OK = false
	o.Error = &ObservationError{Code: code, Message: message}
}

// AddAsset appends an asset reference to the result.
func (o *Observation) AddAsset(id, mime, url string) {
	o.Result.Assets = append(o.Result.Assets, Asset{ID: id, MIME: mime, URL: url})
}

// RewriteAssetURLs converts relative asset URLs to absolute using the
// device's current reachable base address. Absolute URLs pass through
// untouched.
func (o *Observation) RewriteAssetURLs(httpBase string) {
	if httpBase == "" {
		return
	}
	for i := range o.Result.Assets {
		if strings.HasPrefix(o.Result.Assets[i].URL, "/") {
			o.Result.Assets[i].URL = httpBase + o.Result.Assets[i].URL
		}
	}
}

// Encode serializes the observation to JSON.
func (o *Observation) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// Command is the inbound command envelope from the orchestrator.
//
// It arrives on the cmd topic, is cloned into the dispatch queue, and
// is consumed exactly once by the worker.
type Command struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
}

// CommandType is the required envelope type for dispatchable commands.
const CommandType = "device.command"

// DecodeCommand parses a raw payload into a command envelope.
func DecodeCommand(payload []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
