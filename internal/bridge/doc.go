// Package bridge owns the device's broker session: topic layout,
// announce/status lifecycle, inbound subscriptions and the periodic
// publish loop.
//
// All outbound publishes go through one mutex, so observations from the
// dispatch worker, heartbeat status and retained announces never
// interleave on the session. After every (re)connect the retained
// announce documents go out before the first status.
package bridge
