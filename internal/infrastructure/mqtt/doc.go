// Package mqtt provides the broker session used by the transport bridge.
//
// It wraps eclipse/paho.mqtt.golang with connection management,
// caller-supplied last-will registration, subscription tracking with
// automatic restoration on reconnect, and panic-safe message handlers.
//
// The package knows nothing about the device topic layout or the
// announce/status ordering - that policy lives in internal/bridge, which
// also serializes every outbound write through its own session mutex.
package mqtt
