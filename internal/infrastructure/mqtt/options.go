package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// Will describes the Last Will and Testament registered at connect time.
//
// The broker publishes this message if the session drops without a
// graceful disconnect. The transport bridge supplies a retained offline
// status here so the orchestrator observes unexpected disconnects
// without waiting for a heartbeat timeout.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Options configures a broker connection.
//
// Host and Port come from the provisioned store; ClientID is the device
// identity.
type Options struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string
	QoS      byte

	// ReconnectInitialDelay and ReconnectMaxDelay bound the automatic
	// reconnection backoff.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	// ConnectTimeout bounds the wait for the first connection attempt.
	// Zero uses the default. Elapsing is not an error; the client keeps
	// retrying in the background.
	ConnectTimeout time.Duration

	// Will is the optional Last Will and Testament.
	Will *Will
}

// validate rejects options that can never produce a working session.
func (o Options) validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidOptions)
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client id cannot be empty", ErrInvalidOptions)
	}
	if o.QoS > 2 {
		return fmt.Errorf("%w: qos %d out of range", ErrInvalidOptions, o.QoS)
	}
	return nil
}

// connectTimeout returns the bounded first-attempt wait.
func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return defaultConnectTimeout
}

// buildClientOptions creates paho MQTT options from connect options.
//
// This configures:
//   - Broker URL and client ID
//   - Authentication credentials (if provided)
//   - The caller-supplied Last Will and Testament
//   - Auto-reconnect with exponential backoff
//   - Clean session mode
func buildClientOptions(opts Options) *pahomqtt.ClientOptions {
	pahoOpts := pahomqtt.NewClientOptions()

	pahoOpts.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port))
	pahoOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
		pahoOpts.SetPassword(opts.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	pahoOpts.SetCleanSession(true)

	// Auto-reconnect with exponential backoff
	pahoOpts.SetAutoReconnect(true)
	pahoOpts.SetConnectRetry(true)
	if opts.ReconnectInitialDelay > 0 {
		pahoOpts.SetConnectRetryInterval(opts.ReconnectInitialDelay)
	}
	if opts.ReconnectMaxDelay > 0 {
		pahoOpts.SetMaxReconnectInterval(opts.ReconnectMaxDelay)
	}

	pahoOpts.SetConnectTimeout(opts.connectTimeout())

	// Keepalive - broker detects dead connections and fires the LWT
	pahoOpts.SetKeepAlive(defaultKeepAlive)

	if opts.Will != nil {
		pahoOpts.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retained)
	}

	return pahoOpts
}
