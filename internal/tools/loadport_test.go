package tools

import (
	"testing"
	"time"
)

func TestLoadPort_Descriptor(t *testing.T) {
	p := NewLoadPort(30 * time.Second)

	if p.Name() != "load_1m" {
		t.Errorf("Name() = %q", p.Name())
	}
	desc := p.Describe()
	if desc.Type != "outport" || desc.PeriodMS != 30000 {
		t.Errorf("descriptor = %+v", desc)
	}
	if p.Period() != 30*time.Second {
		t.Errorf("Period() = %v", p.Period())
	}
}

func TestUptimePort_Sample(t *testing.T) {
	p := NewUptimePort(time.Minute)

	v, ok := p.Sample(time.Now())
	if !ok {
		t.Skip("host uptime unavailable")
	}
	if v <= 0 {
		t.Errorf("Sample() = %v, want positive uptime", v)
	}
}
