// Package config loads and validates the static runtime configuration
// for caphost.
//
// Configuration comes from a YAML file with hardcoded defaults and
// CAPHOST_* environment variable overrides. Only settings that are
// fixed for a deployment live here: HTTP port, publish intervals, queue
// sizing, store path, logging.
//
// Provisioned settings - Wi-Fi credentials, broker address, device
// identity - deliberately do not appear in this package. They are
// written at runtime through the provisioning portal, persisted in the
// store, and erased by factory reset. See internal/provisioning.
package config
