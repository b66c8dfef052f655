package tools

import (
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/mcplite/caphost/internal/capability"
)

// LoadPort publishes the host's one-minute load average as a scheduled
// outport sample.
type LoadPort struct {
	period time.Duration
}

// NewLoadPort creates the port with the given emission period.
func NewLoadPort(period time.Duration) *LoadPort {
	return &LoadPort{period: period}
}

func (p *LoadPort) Name() string { return "load_1m" }

func (p *LoadPort) Describe() capability.PortDescriptor {
	return capability.PortDescriptor{
		Name:        p.Name(),
		Type:        "outport",
		DataType:    "float",
		Description: "One-minute load average",
		PeriodMS:    p.period.Milliseconds(),
	}
}

func (p *LoadPort) Period() time.Duration { return p.period }

func (p *LoadPort) Sample(now time.Time) (float64, bool) {
	avg, err := load.Avg()
	if err != nil {
		return 0, false
	}
	return avg.Load1, true
}

// UptimePort publishes host uptime in seconds.
type UptimePort struct {
	period time.Duration
}

// NewUptimePort creates the port with the given emission period.
func NewUptimePort(period time.Duration) *UptimePort {
	return &UptimePort{period: period}
}

func (p *UptimePort) Name() string { return "uptime_s" }

func (p *UptimePort) Describe() capability.PortDescriptor {
	return capability.PortDescriptor{
		Name:        p.Name(),
		Type:        "outport",
		DataType:    "float",
		Description: "Host uptime in seconds",
		PeriodMS:    p.period.Milliseconds(),
	}
}

func (p *UptimePort) Period() time.Duration { return p.period }

func (p *UptimePort) Sample(now time.Time) (float64, bool) {
	uptime, err := host.Uptime()
	if err != nil {
		return 0, false
	}
	return float64(uptime), true
}
