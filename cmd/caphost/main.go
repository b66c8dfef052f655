// caphost is an on-device capability host: it announces the device's
// tools over MQTT, executes orchestrator commands through a bounded
// dispatch queue, and provisions itself through a captive portal when
// no configuration exists.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcplite/caphost/internal/bridge"
	"github.com/mcplite/caphost/internal/capability"
	"github.com/mcplite/caphost/internal/dispatch"
	"github.com/mcplite/caphost/internal/infrastructure/config"
	"github.com/mcplite/caphost/internal/infrastructure/logging"
	"github.com/mcplite/caphost/internal/infrastructure/mqtt"
	"github.com/mcplite/caphost/internal/infrastructure/store"
	"github.com/mcplite/caphost/internal/infrastructure/tsdb"
	"github.com/mcplite/caphost/internal/pattern"
	"github.com/mcplite/caphost/internal/provisioning"
	"github.com/mcplite/caphost/internal/tools"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// restartExitCode tells the process supervisor to relaunch us: used
// after provisioning save and factory reset.
const restartExitCode = 3

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		if errors.Is(err, provisioning.ErrRestartRequested) {
			os.Exit(restartExitCode)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting caphost", "version", version, "commit", commit)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", getConfigPath())

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("closing store", "error", closeErr)
		}
	}()
	log.Info("store opened", "path", st.Path())

	var network provisioning.Network
	switch cfg.Network.Backend {
	case "nmcli":
		network = provisioning.NewNMCLI(cfg.Network)
	default:
		network = &provisioning.NullNetwork{}
	}

	service := provisioning.NewService(st)
	runner := provisioning.NewRunner(cfg, service, network, log)

	conn, ip, err := runner.Run(ctx)
	if err != nil {
		// Includes ErrRestartRequested after a provisioning save.
		return err
	}

	identity := func() capability.Identity {
		return capability.Identity{
			DeviceID: conn.DeviceID,
			HTTPBase: fmt.Sprintf("http://%s:%d", ip, cfg.HTTP.Port),
			Firmware: cfg.Device.Firmware,
		}
	}

	registry, ports, err := buildCapabilities(cfg, log)
	if err != nil {
		return err
	}

	topics := bridge.NewTopics(conn.DeviceID)
	will, err := bridge.LastWill(topics, conn.DeviceID)
	if err != nil {
		return err
	}

	session, err := mqtt.Connect(mqtt.Options{
		Host:                  conn.BrokerHost,
		Port:                  conn.BrokerPort,
		ClientID:              conn.DeviceID,
		QoS:                   byte(cfg.MQTT.QoS),
		ReconnectInitialDelay: time.Duration(cfg.MQTT.Reconnect.InitialDelay) * time.Second,
		ReconnectMaxDelay:     time.Duration(cfg.MQTT.Reconnect.MaxDelay) * time.Second,
		Will:                  will,
	})
	if err != nil {
		// Only unusable options or a broker rejection land here; an
		// unreachable broker returns a client that keeps retrying.
		return fmt.Errorf("connecting to broker: %w", err)
	}
	session.SetLogger(log)
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Error("closing broker session", "error", closeErr)
		}
	}()
	if session.IsConnected() {
		log.Info("broker session up", "host", conn.BrokerHost, "port", conn.BrokerPort)
	} else {
		log.Warn("broker unreachable, retrying in background",
			"host", conn.BrokerHost, "port", conn.BrokerPort)
	}

	b := bridge.New(cfg.MQTT, topics, session, registry, ports, identity, log)
	b.SetSignalSource(network.SignalStrength)

	if cfg.InfluxDB.Enabled {
		sink, err := tsdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("port sample sink unavailable", "error", err)
		} else {
			sink.SetOnError(func(err error) {
				log.Warn("port sample write", "error", err)
			})
			defer sink.Close()
			b.SetSampleSink(sink)
			log.Info("port samples mirrored to influxdb", "url", cfg.InfluxDB.URL)
		}
	}

	// Event tools emit through the bridge.
	wireEmitters(registry, b)

	if err := registry.InitAll(); err != nil {
		// A degraded tool stays registered; boot continues.
		log.Warn("capability init", "error", err)
	}

	dispatcher := dispatch.New(cfg.Dispatch, registry, b, func() string {
		return identity().HTTPBase
	}, log)
	b.SetJobQueue(dispatcher)

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer b.Stop()

	restart := make(chan struct{}, 1)
	httpSrv, err := bridge.NewServer(bridge.ServerDeps{
		Config:   cfg.HTTP,
		Logger:   log,
		Bridge:   b,
		Registry: registry,
		Store:    storeCleaner{st},
		Restart:  func() { restart <- struct{}{} },
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("building status server: %w", err)
	}
	if err := httpSrv.Start(ctx); err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}
	defer func() {
		if closeErr := httpSrv.Close(); closeErr != nil {
			log.Error("closing status server", "error", closeErr)
		}
	}()

	go runner.MonitorLink(ctx)

	log.Info("caphost running", "device_id", conn.DeviceID, "http_base", identity().HTTPBase)

	select {
	case <-ctx.Done():
		log.Info("shutting down", "reason", "signal")
		return nil
	case <-restart:
		log.Info("shutting down", "reason", "restart requested")
		return provisioning.ErrRestartRequested
	}
}

// buildCapabilities assembles the tool and port registries from the
// static configuration.
func buildCapabilities(cfg *config.Config, log *logging.Logger) (*capability.Registry, *capability.PortRegistry, error) {
	registry := capability.NewRegistry()
	registry.SetLogger(log)
	ports := capability.NewPortRegistry()
	ports.SetLogger(log)

	if err := ports.AddOutPort(tools.NewLoadPort(30 * time.Second)); err != nil {
		return nil, nil, fmt.Errorf("registering load port: %w", err)
	}
	if err := ports.AddOutPort(tools.NewUptimePort(time.Minute)); err != nil {
		return nil, nil, fmt.Errorf("registering uptime port: %w", err)
	}
	if _, err := ports.CreateInPort("brightness", "float"); err != nil {
		return nil, nil, fmt.Errorf("registering brightness port: %w", err)
	}

	if cfg.Tools.CameraCommand != "" {
		source := tools.NewCommandFrameSource(
			cfg.Tools.CameraCommand,
			time.Duration(cfg.Tools.CameraTimeout)*time.Second,
		)
		if err := registry.Register(tools.NewCamera(source)); err != nil {
			return nil, nil, fmt.Errorf("registering camera: %w", err)
		}
	}

	// Pattern expressions can read inport values by name.
	eval := pattern.NewEvaluator(func(name string) (float64, bool) {
		p, err := ports.InPort(name)
		if err != nil {
			return 0, false
		}
		return p.Value(), true
	})
	sink := tools.NewLogSink(cfg.Tools.LEDPixels, log)
	if err := registry.Register(tools.NewLightPattern(pattern.NewStore(eval), sink)); err != nil {
		return nil, nil, fmt.Errorf("registering light pattern: %w", err)
	}

	if cfg.Tools.ImpactThreshold > 0 {
		monitor := tools.NewImpactMonitor(func() float64 {
			return ports.InPortValue("impact_magnitude")
		}, cfg.Tools.ImpactThreshold, 5*time.Second, nil)
		if _, err := ports.CreateInPort("impact_magnitude", "float"); err != nil {
			return nil, nil, fmt.Errorf("registering impact port: %w", err)
		}
		if err := registry.Register(monitor); err != nil {
			return nil, nil, fmt.Errorf("registering impact monitor: %w", err)
		}
	}

	return registry, ports, nil
}

// wireEmitters hands event tools their asynchronous publish path once
// the bridge exists.
func wireEmitters(registry *capability.Registry, b *bridge.Bridge) {
	for _, tool := range registry.Tools() {
		if e, ok := tool.(interface{ SetEmitter(capability.Emitter) }); ok {
			e.SetEmitter(b)
		}
	}
}

// storeCleaner adapts the context-taking store clear to the status
// server's factory reset hook.
type storeCleaner struct {
	st *store.Store
}

func (s storeCleaner) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.st.Clear(ctx)
}

func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if v := os.Getenv("CAPHOST_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}
