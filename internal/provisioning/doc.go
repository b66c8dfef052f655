// Package provisioning decides how the device boots and gets it onto a
// network.
//
// With a complete provisioned configuration (Wi-Fi credentials plus a
// broker host) the device joins the network and enters run mode.
// Otherwise it raises an access point with a captive portal, collects
// the configuration over HTTP, persists it atomically and requests a
// restart.
package provisioning
