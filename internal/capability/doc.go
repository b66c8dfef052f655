// Package capability defines the capability contract and registry at
// the heart of caphost.
//
// A capability ("Tool") is a named, remotely invokable device action
// with a declared JSON-schema parameter contract. The Registry holds
// every registered Tool, builds the retained announce document the
// orchestrator discovers the device through, and routes inbound command
// envelopes to the matching Tool.
//
// Ports are the second capability surface: OutPorts emit values on a
// schedule, InPorts are externally settable variable slots. The
// PortRegistry mirrors the Tool registry for them.
//
// The registry holds no hardware state and is populated once at boot;
// after that it is read-only (only InPort values mutate, behind their
// own lock). Dispatch always runs on the dispatch core's worker, never
// on the network-servicing goroutines.
package capability
