package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mcplite/caphost/internal/infrastructure/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "kv.db"),
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "wifi_ssid", "workshop"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, "wifi_ssid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "workshop" {
		t.Errorf("Get() = %q, want %q", got, "workshop")
	}
}

func TestGet_MissingKey(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() error = %v, want ErrKeyNotFound", err)
	}
}

func TestPut_Overwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "broker_host", "10.0.0.1"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "broker_host", "10.0.0.2"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, "broker_host")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "10.0.0.2" {
		t.Errorf("Get() = %q, want %q", got, "10.0.0.2")
	}
}

func TestPutAll_GroupWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	values := map[string]string{
		"wifi_ssid":   "workshop",
		"wifi_secret": "hunter22",
		"broker_host": "192.168.0.100",
		"broker_port": "1883",
		"device_id":   "dev-AB12CD",
	}
	if err := s.PutAll(ctx, values); err != nil {
		t.Fatalf("PutAll() error = %v", err)
	}

	for key, want := range values {
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", key, err)
		}
		if got != want {
			t.Errorf("Get(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutAll(ctx, map[string]string{
		"wifi_ssid":   "workshop",
		"broker_host": "192.168.0.100",
	}); err != nil {
		t.Fatalf("PutAll() error = %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if _, err := s.Get(ctx, "wifi_ssid"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after Clear() error = %v, want ErrKeyNotFound", err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() after Clear() = %v, want empty", keys)
	}
}

func TestDelete_MissingKeyIsNotError(t *testing.T) {
	s := openTestStore(t)

	if err := s.Delete(context.Background(), "nonexistent"); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
}

func TestHealthCheck(t *testing.T) {
	s := openTestStore(t)

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	cfg := config.StoreConfig{Path: path, BusyTimeout: 1}
	ctx := context.Background()

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Put(ctx, "device_id", "dev-AB12CD"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close() //nolint:errcheck // Test cleanup

	got, err := s2.Get(ctx, "device_id")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got != "dev-AB12CD" {
		t.Errorf("Get() = %q, want %q", got, "dev-AB12CD")
	}
}

func TestConnString_BusyTimeoutSecondsToMillis(t *testing.T) {
	got := connString(config.StoreConfig{Path: "kv.db", BusyTimeout: 5})
	want := "file:kv.db?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL"
	if got != want {
		t.Errorf("connString() = %q, want %q", got, want)
	}
}
