package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testOptions returns connection options pointing at an unroutable
// broker. Tests that need a live session are covered by the bridge's
// fake publisher instead; everything here exercises validation and
// state handling without a broker.
func testOptions() Options {
	return Options{
		Host:                  "127.0.0.1",
		Port:                  1883,
		ClientID:              "caphost-test",
		QoS:                   0,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     5 * time.Second,
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestPublish_EmptyTopic(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Publish("", []byte("x"), 0, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublish_InvalidQoS(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Publish("mcp/dev/test/events", []byte("x"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublish_Disconnected(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Publish("mcp/dev/test/events", []byte("x"), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_OversizedPayload(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	payload := make([]byte, maxPayloadSize+1)
	err := client.Publish("mcp/dev/test/events", payload, 0, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_EmptyTopic(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Subscribe("", 0, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribe_NilHandler(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Subscribe("mcp/dev/test/cmd", 0, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribe_Disconnected(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Subscribe("mcp/dev/test/cmd", 0, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribe_Disconnected(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Unsubscribe("mcp/dev/test/cmd")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriptionCount_Empty(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
	if client.HasSubscription("mcp/dev/test/cmd") {
		t.Error("HasSubscription() should be false for unsubscribed topic")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &Client{}

	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestBuildClientOptions_Will(t *testing.T) {
	opts := testOptions()
	opts.Will = &Will{
		Topic:    "mcp/dev/caphost-test/status",
		Payload:  []byte(`{"online":false}`),
		QoS:      0,
		Retained: true,
	}

	pahoOpts := buildClientOptions(opts)

	if pahoOpts.WillTopic != opts.Will.Topic {
		t.Errorf("WillTopic = %q, want %q", pahoOpts.WillTopic, opts.Will.Topic)
	}
	if !pahoOpts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
	if string(pahoOpts.WillPayload) != string(opts.Will.Payload) {
		t.Errorf("WillPayload = %q, want %q", pahoOpts.WillPayload, opts.Will.Payload)
	}
}

func TestBuildClientOptions_BrokerURL(t *testing.T) {
	pahoOpts := buildClientOptions(testOptions())

	if len(pahoOpts.Servers) != 1 {
		t.Fatalf("Servers count = %d, want 1", len(pahoOpts.Servers))
	}
	if got := pahoOpts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}
	if pahoOpts.ClientID != "caphost-test" {
		t.Errorf("ClientID = %q, want caphost-test", pahoOpts.ClientID)
	}
}

func TestConnect_UnreachableBrokerIsNotFatal(t *testing.T) {
	opts := testOptions()
	opts.Port = 1 // nothing listens here
	opts.ConnectTimeout = 200 * time.Millisecond

	client, err := Connect(opts)
	if err != nil {
		t.Fatalf("Connect() error = %v, want nil for an unreachable broker", err)
	}
	if client == nil {
		t.Fatal("Connect() returned no client to retry with")
	}
	defer func() { _ = client.Close() }()

	// The session is still down; the retry loop owns it from here.
	if client.IsConnected() {
		t.Error("IsConnected() = true against a dead broker")
	}
}

func TestConnect_RejectsUnusableOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"empty host", func(o *Options) { o.Host = "" }},
		{"zero port", func(o *Options) { o.Port = 0 }},
		{"port out of range", func(o *Options) { o.Port = 70000 }},
		{"empty client id", func(o *Options) { o.ClientID = "" }},
		{"invalid qos", func(o *Options) { o.QoS = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)

			client, err := Connect(opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Connect() error = %v, want ErrInvalidOptions", err)
			}
			if client != nil {
				t.Error("Connect() returned a client for unusable options")
			}
		})
	}
}
