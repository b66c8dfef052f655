// Package tsdb provides an optional InfluxDB sink for OutPort samples.
//
// When enabled, every value emitted on ports/data is also batched into
// InfluxDB so operators get local history for device channels. The sink
// is strictly best-effort: writes are asynchronous, failures surface
// only through the error callback, and nothing in the publish path
// waits on it.
package tsdb
