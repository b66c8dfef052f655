// Package store provides the persistent key/value store for provisioned
// device configuration.
//
// The store is deliberately opaque to the rest of the runtime: callers
// get, put, and clear string keys, and the provisioning service owns the
// key layout (wifi_ssid, wifi_secret, broker_host, broker_port,
// device_id). Group writes go through PutAll so a save is atomic.
//
// Backed by a single-table SQLite database with WAL mode enabled.
package store
