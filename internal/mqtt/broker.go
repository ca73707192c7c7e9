package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"loraclima-server/internal/config"
)

// Broker is one publish/subscribe connection. Each Connect is a single
// attempt; reconnecting is the Subscriber's job.
type Broker interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, onMessage func(topic string, payload []byte)) error
	Disconnect()
	IsConnected() bool
	// SetConnectionLostHandler registers the callback for transport drops.
	SetConnectionLostHandler(func(error))
}

const pollInterval = 200 * time.Millisecond

type pahoBroker struct {
	client paho.Client
	onLost func(error)
}

// NewPahoBroker builds a paho client with its own reconnect logic disabled.
func NewPahoBroker(cfg config.Config) (Broker, error) {
	b := &pahoBroker{}

	scheme := "tcp"
	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		scheme = "ssl"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.MQTTConnectTimeout)
	opts.SetOrderMatters(true)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if b.onLost != nil {
			b.onLost(err)
		}
	})

	b.client = paho.NewClient(opts)
	return b, nil
}

func (b *pahoBroker) SetConnectionLostHandler(fn func(error)) {
	b.onLost = fn
}

func (b *pahoBroker) Connect(ctx context.Context) error {
	if err := wait(ctx, b.client.Connect()); err != nil {
		b.client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (b *pahoBroker) Subscribe(ctx context.Context, topic string, qos byte, onMessage func(string, []byte)) error {
	token := b.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		onMessage(msg.Topic(), msg.Payload())
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

func (b *pahoBroker) Disconnect() {
	b.client.Disconnect(250)
}

func (b *pahoBroker) IsConnected() bool {
	return b.client.IsConnected()
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, token paho.Token) error {
	for {
		if token.WaitTimeout(pollInterval) {
			return token.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func tlsConfig(cfg config.Config) (*tls.Config, error) {
	if cfg.MQTTTLSCA == "" && cfg.MQTTTLSCert == "" {
		return nil, nil
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.MQTTTLSCA != "" {
		pem, err := os.ReadFile(cfg.MQTTTLSCA)
		if err != nil {
			return nil, fmt.Errorf("read MQTT_TLS_CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("MQTT_TLS_CA %s: no certificates found", cfg.MQTTTLSCA)
		}
		tc.RootCAs = pool
	}
	if cfg.MQTTTLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.MQTTTLSCert, cfg.MQTTTLSKey)
		if err != nil {
			return nil, fmt.Errorf("load MQTT client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}
