package provisioning

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mcplite/caphost/internal/infrastructure/config"
)

// Network abstracts the host's network manager so the state machine
// and portal can be tested with fakes.
type Network interface {
	// StartAccessPoint raises the provisioning AP.
	StartAccessPoint(ctx context.Context, ssid, password string) error

	// Connect joins a station network. Bounded by the context.
	Connect(ctx context.Context, ssid, secret string) error

	// LinkUp reports whether the station link is currently up.
	LinkUp() bool

	// Reconnect retries the last station join after link loss.
	Reconnect(ctx context.Context) error

	// IPAddress returns the current station address, empty when down.
	IPAddress() string

	// SignalStrength returns the link signal in percent, 0 when
	// unknown.
	SignalStrength() int

	// Scan lists visible network names.
	Scan(ctx context.Context) ([]string, error)
}

// nmcliTimeout bounds the individual nmcli invocations that are not
// already bounded by a caller context.
const nmcliTimeout = 10 * time.Second

// NMCLI drives NetworkManager through the nmcli command line.
type NMCLI struct {
	iface string

	lastSSID   string
	lastSecret string
}

// NewNMCLI creates the nmcli backend for the given wireless interface.
func NewNMCLI(cfg config.NetworkConfig) *NMCLI {
	return &NMCLI{iface: cfg.Interface}
}

func (n *NMCLI) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "nmcli", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("nmcli %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (n *NMCLI) StartAccessPoint(ctx context.Context, ssid, password string) error {
	_, err := n.run(ctx, "dev", "wifi", "hotspot",
		"ifname", n.iface,
		"ssid", ssid,
		"password", password,
	)
	return err
}

func (n *NMCLI) Connect(ctx context.Context, ssid, secret string) error {
	args := []string{"dev", "wifi", "connect", ssid, "ifname", n.iface}
	if secret != "" {
		args = append(args, "password", secret)
	}
	if _, err := n.run(ctx, args...); err != nil {
		return err
	}
	n.lastSSID, n.lastSecret = ssid, secret
	return nil
}

func (n *NMCLI) Reconnect(ctx context.Context) error {
	if n.lastSSID == "" {
		return fmt.Errorf("no previous connection to retry")
	}
	return n.Connect(ctx, n.lastSSID, n.lastSecret)
}

func (n *NMCLI) LinkUp() bool {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()
	out, err := n.run(ctx, "-t", "-f", "DEVICE,STATE", "dev")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 && parts[0] == n.iface && parts[1] == "connected" {
			return true
		}
	}
	return false
}

func (n *NMCLI) IPAddress() string {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()
	out, err := n.run(ctx, "-t", "-f", "IP4.ADDRESS", "dev", "show", n.iface)
	if err != nil {
		return ""
	}
	// IP4.ADDRESS[1]:10.0.0.5/24
	for _, line := range strings.Split(out, "\n") {
		if _, addr, found := strings.Cut(line, ":"); found {
			if ip, _, found := strings.Cut(addr, "/"); found && ip != "" {
				return ip
			}
		}
	}
	return ""
}

func (n *NMCLI) SignalStrength() int {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()
	out, err := n.run(ctx, "-t", "-f", "IN-USE,SIGNAL", "dev", "wifi")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(out, "\n") {
		if inUse, signal, found := strings.Cut(line, ":"); found && inUse == "*" {
			if v, err := strconv.Atoi(strings.TrimSpace(signal)); err == nil {
				return v
			}
		}
	}
	return 0
}

func (n *NMCLI) Scan(ctx context.Context) ([]string, error) {
	out, err := n.run(ctx, "-t", "-f", "SSID", "dev", "wifi", "list", "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ssids []string
	for _, line := range strings.Split(out, "\n") {
		ssid := strings.TrimSpace(line)
		if ssid == "" || seen[ssid] {
			continue
		}
		seen[ssid] = true
		ssids = append(ssids, ssid)
	}
	return ssids, nil
}

// NullNetwork assumes the link is managed externally (wired hosts,
// containers). Station operations succeed immediately; there is no
// access point.
type NullNetwork struct {
	// IP is reported as the device address. Defaults to 127.0.0.1.
	IP string
}

func (n *NullNetwork) StartAccessPoint(ctx context.Context, ssid, password string) error {
	return fmt.Errorf("null network backend cannot raise an access point")
}

func (n *NullNetwork) Connect(ctx context.Context, ssid, secret string) error { return nil }

func (n *NullNetwork) Reconnect(ctx context.Context) error { return nil }

func (n *NullNetwork) LinkUp() bool { return true }

func (n *NullNetwork) IPAddress() string {
	if n.IP != "" {
		return n.IP
	}
	return "127.0.0.1"
}

func (n *NullNetwork) SignalStrength() int { return 0 }

func (n *NullNetwork) Scan(ctx context.Context) ([]string, error) { return nil, nil }
