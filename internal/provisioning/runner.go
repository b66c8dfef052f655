package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcplite/caphost/internal/infrastructure/config"
	"github.com/mcplite/caphost/internal/infrastructure/logging"
)

// ErrRestartRequested signals that provisioning finished and the
// process should restart to boot into run mode.
var ErrRestartRequested = errors.New("provisioning: restart requested")

// Runner is the boot state machine: it decides between provisioning
// and run mode and gets the device onto the network.
type Runner struct {
	netCfg  config.NetworkConfig
	provCfg config.ProvisioningConfig
	idCfg   config.DeviceConfig
	service *Service
	network Network
	logger  *logging.Logger
}

// NewRunner wires the state machine.
func NewRunner(cfg *config.Config, service *Service, network Network, logger *logging.Logger) *Runner {
	return &Runner{
		netCfg:  cfg.Network,
		provCfg: cfg.Provisioning,
		idCfg:   cfg.Device,
		service: service,
		network: network,
		logger:  logger,
	}
}

// Run executes the boot decision.
//
// Run mode: the stored configuration is complete and the station join
// succeeds; returns the configuration and the station IP. Provisioning
// mode: serves the captive portal until a save completes, then returns
// ErrRestartRequested. A failed station join falls back to
// provisioning rather than erroring out.
func (r *Runner) Run(ctx context.Context) (ConnConfig, string, error) {
	cfg, err := r.service.Load(ctx)
	if err != nil {
		return ConnConfig{}, "", fmt.Errorf("loading provisioned configuration: %w", err)
	}

	if !cfg.HasMinimum() {
		r.logger.Info("no complete configuration, entering provisioning mode")
		return ConnConfig{}, "", r.provision(ctx, cfg)
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.netCfg.GetConnectTimeout())
	err = r.network.Connect(connectCtx, cfg.WiFiSSID, cfg.WiFiSecret)
	cancel()
	if err != nil {
		r.logger.Warn("station join failed, entering provisioning mode",
			"ssid", cfg.WiFiSSID,
			"error", err,
		)
		return ConnConfig{}, "", r.provision(ctx, cfg)
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = DefaultDeviceID(r.idCfg.IDPrefix)
	}
	ip := r.network.IPAddress()
	r.logger.Info("entering run mode", "device_id", cfg.DeviceID, "ip", ip)
	return cfg, ip, nil
}

// provision raises the access point and serves the portal until a
// configuration is saved or the context ends.
func (r *Runner) provision(ctx context.Context, stored ConnConfig) error {
	deviceID := stored.DeviceID
	if deviceID == "" {
		deviceID = DefaultDeviceID(r.idCfg.IDPrefix)
	}

	apSSID := APName(r.provCfg.APPrefix, deviceID)
	if err := r.network.StartAccessPoint(ctx, apSSID, r.provCfg.APPassword); err != nil {
		// Broker-only deployments have no AP; the portal still serves
		// on whatever link exists.
		r.logger.Warn("starting access point", "ssid", apSSID, "error", err)
	} else {
		r.logger.Info("access point up", "ssid", apSSID)
	}

	saved := make(chan struct{}, 1)
	portal := NewPortal(r.provCfg, r.service, r.network, deviceID, func() {
		saved <- struct{}{}
	}, r.logger)

	if err := portal.Start(ctx); err != nil {
		return fmt.Errorf("starting provisioning portal: %w", err)
	}
	defer portal.Close()

	select {
	case <-saved:
		return ErrRestartRequested
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MonitorLink watches the station link and retries the join on loss.
// Blocks until the context ends; intended to run as a goroutine in run
// mode.
func (r *Runner) MonitorLink(ctx context.Context) {
	interval := r.netCfg.GetRetryInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.network.LinkUp() {
				continue
			}
			r.logger.Warn("station link down, reconnecting")
			retryCtx, cancel := context.WithTimeout(ctx, r.netCfg.GetConnectTimeout())
			if err := r.network.Reconnect(retryCtx); err != nil {
				r.logger.Warn("station reconnect failed", "error", err)
			}
			cancel()
		}
	}
}
