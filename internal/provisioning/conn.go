package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mcplite/caphost/internal/infrastructure/store"
)

// Store keys for the provisioned configuration. Written atomically as
// a group on save and erased together on factory reset.
const (
	keyWiFiSSID   = "wifi_ssid"
	keyWiFiSecret = "wifi_secret"
	keyBrokerHost = "broker_host"
	keyBrokerPort = "broker_port"
	keyDeviceID   = "device_id"
)

// defaultBrokerPort applies when nothing was provisioned for the port.
const defaultBrokerPort = 1883

// ErrInvalidConfig rejects an incomplete configuration before anything
// is persisted.
var ErrInvalidConfig = errors.New("provisioning: invalid configuration")

// ConnConfig is the provisioned connection configuration.
type ConnConfig struct {
	WiFiSSID   string
	WiFiSecret string
	BrokerHost string
	BrokerPort int
	DeviceID   string
}

// HasMinimum reports whether the device can enter run mode: network
// credentials and a broker host must both be present.
func (c ConnConfig) HasMinimum() bool {
	return c.WiFiSSID != "" && c.BrokerHost != ""
}

// Validate checks a configuration before persistence.
func (c ConnConfig) Validate() error {
	switch {
	case c.WiFiSSID == "":
		return fmt.Errorf("%w: wifi ssid is required", ErrInvalidConfig)
	case c.BrokerHost == "":
		return fmt.Errorf("%w: broker host is required", ErrInvalidConfig)
	case c.BrokerPort < 1 || c.BrokerPort > 65535:
		return fmt.Errorf("%w: broker port %d out of range", ErrInvalidConfig, c.BrokerPort)
	case c.DeviceID == "":
		return fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	}
	return nil
}

// KV is the slice of the persistent store the service uses.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	PutAll(ctx context.Context, values map[string]string) error
	Clear(ctx context.Context) error
}

// Service reads and writes the provisioned configuration.
type Service struct {
	kv KV
}

// NewService creates a provisioning service over the given store.
func NewService(kv KV) *Service {
	return &Service{kv: kv}
}

// Load reads the stored configuration. Missing keys load as zero
// values; the broker port falls back to its default.
func (s *Service) Load(ctx context.Context) (ConnConfig, error) {
	cfg := ConnConfig{BrokerPort: defaultBrokerPort}

	read := func(key string) (string, error) {
		v, err := s.kv.Get(ctx, key)
		if errors.Is(err, store.ErrKeyNotFound) {
			return "", nil
		}
		return v, err
	}

	var err error
	if cfg.WiFiSSID, err = read(keyWiFiSSID); err != nil {
		return ConnConfig{}, fmt.Errorf("reading %s: %w", keyWiFiSSID, err)
	}
	if cfg.WiFiSecret, err = read(keyWiFiSecret); err != nil {
		return ConnConfig{}, fmt.Errorf("reading %s: %w", keyWiFiSecret, err)
	}
	if cfg.BrokerHost, err = read(keyBrokerHost); err != nil {
		return ConnConfig{}, fmt.Errorf("reading %s: %w", keyBrokerHost, err)
	}
	if cfg.DeviceID, err = read(keyDeviceID); err != nil {
		return ConnConfig{}, fmt.Errorf("reading %s: %w", keyDeviceID, err)
	}

	port, err := read(keyBrokerPort)
	if err != nil {
		return ConnConfig{}, fmt.Errorf("reading %s: %w", keyBrokerPort, err)
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return ConnConfig{}, fmt.Errorf("parsing %s: %w", keyBrokerPort, err)
		}
		cfg.BrokerPort = p
	}
	return cfg, nil
}

// Save validates and persists a configuration as one atomic group.
// Nothing is written when validation fails.
func (s *Service) Save(ctx context.Context, cfg ConnConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	values := map[string]string{
		keyWiFiSSID:   cfg.WiFiSSID,
		keyWiFiSecret: cfg.WiFiSecret,
		keyBrokerHost: cfg.BrokerHost,
		keyBrokerPort: strconv.Itoa(cfg.BrokerPort),
		keyDeviceID:   cfg.DeviceID,
	}
	if err := s.kv.PutAll(ctx, values); err != nil {
		return fmt.Errorf("persisting configuration: %w", err)
	}
	return nil
}

// Clear erases the provisioned configuration (factory reset).
func (s *Service) Clear(ctx context.Context) error {
	return s.kv.Clear(ctx)
}

// DefaultDeviceID derives a stable fallback identity from the primary
// MAC address: prefix plus the last three bytes in hex. Falls back to
// prefix + "000000" when no interface has a hardware address.
func DefaultDeviceID(prefix string) string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 3 {
				continue
			}
			mac := iface.HardwareAddr
			tail := mac[len(mac)-3:]
			return fmt.Sprintf("%s%02x%02x%02x", prefix, tail[0], tail[1], tail[2])
		}
	}
	return prefix + "000000"
}

// APName builds the provisioning access point SSID from the configured
// prefix and the device identity tail.
func APName(prefix, deviceID string) string {
	tail := deviceID
	if idx := strings.LastIndexByte(deviceID, '-'); idx >= 0 && idx+1 < len(deviceID) {
		tail = deviceID[idx+1:]
	}
	return prefix + strings.ToUpper(tail)
}
