package bridge

// topicPrefix is the namespace root shared with the orchestrator.
const topicPrefix = "mcp/dev/"

// Topics is the per-device topic layout.
type Topics struct {
	base string
}

// NewTopics builds the topic set for one device identity.
func NewTopics(deviceID string) Topics {
	return Topics{base: topicPrefix + deviceID + "/"}
}

// Announce is the retained capability/identity document.
func (t Topics) Announce() string { return t.base + "announce" }

// Status is the heartbeat topic. Live publishes are not retained; the
// broker-held last-will copy is.
func (t Topics) Status() string { return t.base + "status" }

// Cmd carries inbound command envelopes.
func (t Topics) Cmd() string { return t.base + "cmd" }

// Events carries outbound observations.
func (t Topics) Events() string { return t.base + "events" }

// PortsAnnounce is the retained port descriptor list.
func (t Topics) PortsAnnounce() string { return t.base + "ports/announce" }

// PortsData carries outport samples.
func (t Topics) PortsData() string { return t.base + "ports/data" }

// PortsSet carries inbound inport writes.
func (t Topics) PortsSet() string { return t.base + "ports/set" }
