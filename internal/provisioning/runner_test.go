package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcplite/caphost/internal/infrastructure/config"
	"github.com/mcplite/caphost/internal/infrastructure/logging"
)

func testRunnerConfig() *config.Config {
	return &config.Config{
		Device:       config.DeviceConfig{IDPrefix: "dev-"},
		Network:      config.NetworkConfig{Backend: "null", ConnectTimeout: 1, RetryInterval: 1},
		Provisioning: config.ProvisioningConfig{APPassword: "12345678", APPrefix: "MCP-SETUP-", Port: 0},
	}
}

func TestRunner_EntersRunModeWithCompleteConfig(t *testing.T) {
	kv := newFakeKV()
	svc := NewService(kv)
	if err := svc.Save(context.Background(), ConnConfig{
		WiFiSSID: "home", WiFiSecret: "s", BrokerHost: "broker.local", BrokerPort: 1883, DeviceID: "dev-1",
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	network := &fakeNetwork{linkUp: true, ip: "10.0.0.5"}
	r := NewRunner(testRunnerConfig(), svc, network, logging.Default())

	cfg, ip, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if cfg.WiFiSSID != "home" || cfg.DeviceID != "dev-1" {
		t.Errorf("cfg = %+v", cfg)
	}
	if ip != "10.0.0.5" {
		t.Errorf("ip = %q, want station address", ip)
	}
	if network.apStarted {
		t.Error("access point raised in run mode")
	}
}

func TestRunner_EntersProvisioningWithoutMinimum(t *testing.T) {
	// Missing broker host: even with credentials the device provisions.
	kv := newFakeKV()
	kv.values[keyWiFiSSID] = "home"

	network := &fakeNetwork{}
	r := NewRunner(testRunnerConfig(), NewService(kv), network, logging.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, _, err := r.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context deadline while portal serves", err)
	}
	if !network.apStarted {
		t.Error("access point not raised in provisioning mode")
	}
	if network.apSSID == "" || network.apSSID[:10] != "MCP-SETUP-" {
		t.Errorf("AP ssid = %q, want MCP-SETUP- prefix", network.apSSID)
	}
}

func TestRunner_ConnectFailureFallsBackToProvisioning(t *testing.T) {
	kv := newFakeKV()
	svc := NewService(kv)
	if err := svc.Save(context.Background(), ConnConfig{
		WiFiSSID: "home", BrokerHost: "broker.local", BrokerPort: 1883, DeviceID: "dev-1",
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	network := &fakeNetwork{connectErr: errors.New("auth failure")}
	r := NewRunner(testRunnerConfig(), svc, network, logging.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, _, err := r.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want portal to take over after join failure", err)
	}
	if !network.apStarted {
		t.Error("access point not raised after join failure")
	}
}
