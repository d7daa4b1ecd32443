package paramstore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// MQTTOpts are options for an MQTT backed store.
type MQTTOpts struct {
	Broker         string        // Host:port of the broker, eg "localhost:1883".
	Topic          string        // Root topic, keys are published below it. Default "bucketvision".
	ClientID       string        // Default is a random ID.
	ConnectTimeout time.Duration // Default 5s.
	PublishTimeout time.Duration // How long Put waits for the broker. Default 100ms.
	Logger         *zerolog.Logger
}

// MQTT is a store shared over an MQTT broker, like a robot's network table:
// each key is a retained topic below the root topic. Values from other
// clients are cached as they arrive, so Get never waits on the network.
type MQTT struct {
	opts   MQTTOpts
	client mqtt.Client
	log    zerolog.Logger

	mu     sync.RWMutex
	values map[string]string
}

// Ensure MQTT implements interface Store.
var _ Store = (*MQTT)(nil)

// DialMQTT connects to the broker and subscribes to all keys below the root
// topic. The connection is re-established automatically when lost.
//
// Callers must call Close to disconnect.
func DialMQTT(opts MQTTOpts) (*MQTT, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("missing broker address")
	}
	if opts.Topic == "" {
		opts.Topic = "bucketvision"
	}
	opts.Topic = strings.TrimSuffix(opts.Topic, "/")
	if opts.ClientID == "" {
		opts.ClientID = "bucketvision-" + uuid.NewString()
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.PublishTimeout == 0 {
		opts.PublishTimeout = 100 * time.Millisecond
	}

	s := &MQTT{
		opts:   opts,
		log:    logging.Component(opts.Logger, "paramstore", "mqtt"),
		values: map[string]string{},
	}

	copts := mqtt.NewClientOptions()
	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	copts.AddBroker(broker)
	copts.SetClientID(opts.ClientID)
	copts.SetAutoReconnect(true)
	copts.SetConnectRetry(true)
	copts.SetConnectRetryInterval(2 * time.Second)
	copts.SetMaxReconnectInterval(30 * time.Second)
	copts.OnConnect = func(c mqtt.Client) {
		s.log.Info().Str("broker", broker).Str("client_id", opts.ClientID).Msg("mqtt connected")
		// Subscriptions are not kept across reconnects with a clean session.
		token := c.Subscribe(opts.Topic+"/#", 1, s.handle)
		go func() {
			if token.WaitTimeout(opts.ConnectTimeout) && token.Error() != nil {
				s.log.Warn().Err(token.Error()).Msg("mqtt subscribe")
			}
		}()
	}
	copts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
	}

	s.client = mqtt.NewClient(copts)
	token := s.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("connecting to mqtt broker %s: timeout after %v", broker, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("connecting to mqtt broker %s: %v", broker, err)
	}
	return s, nil
}

func (s *MQTT) handle(c mqtt.Client, msg mqtt.Message) {
	key := strings.TrimPrefix(msg.Topic(), s.opts.Topic+"/")
	s.mu.Lock()
	s.values[key] = string(msg.Payload())
	s.mu.Unlock()
}

// Get returns the last known value for key. Without a known value, Get
// returns ErrUnavailable while disconnected and ErrNotFound otherwise.
func (s *MQTT) Get(key string) (string, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}
	if !s.client.IsConnectionOpen() {
		return "", ErrUnavailable
	}
	return "", ErrNotFound
}

// Put publishes value as retained message for key.
func (s *MQTT) Put(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()

	if !s.client.IsConnectionOpen() {
		return ErrUnavailable
	}
	token := s.client.Publish(s.opts.Topic+"/"+key, 1, true, value)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		// Still in flight, paho completes it in the background.
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: publishing %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTT) Close() error {
	s.client.Disconnect(250)
	return nil
}
