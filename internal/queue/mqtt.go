package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTT is the broker-backed queue backend for multi-instance deployments.
// Publishes and subscribes at QoS 1; duplicate deliveries are harmless
// because the pipeline's claim step is exclusive.
type MQTT struct {
	conn      mqtt.Client
	topic     string
	out       chan string
	connected atomic.Bool
	log       zerolog.Logger
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	QueueSize int
	Log       zerolog.Logger
}

const mqttQoS = 1

func ConnectMQTT(opts MQTTOptions) (*MQTT, error) {
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	q := &MQTT{
		topic: opts.Topic,
		out:   make(chan string, size),
		log:   opts.Log.With().Str("component", "queue").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(q.onConnect).
		SetConnectionLostHandler(q.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	q.conn = mqtt.NewClient(clientOpts)
	token := q.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return q, nil
}

func (q *MQTT) onConnect(client mqtt.Client) {
	q.connected.Store(true)
	q.log.Info().Str("topic", q.topic).Msg("mqtt connected, subscribing")

	token := client.Subscribe(q.topic, mqttQoS, q.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		q.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (q *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	q.connected.Store(false)
	q.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (q *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	callID := string(msg.Payload())
	select {
	case q.out <- callID:
	default:
		// Backpressure: drop rather than block the paho router. The call
		// stays PENDING and can be re-enqueued.
		q.log.Warn().Str("call_id", callID).Msg("local queue full, dropping delivery")
	}
}

func (q *MQTT) Enqueue(ctx context.Context, callID string) error {
	token := q.conn.Publish(q.topic, mqttQoS, false, []byte(callID))
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MQTT) Dequeue() <-chan string {
	return q.out
}

func (q *MQTT) IsConnected() bool {
	return q.connected.Load()
}

func (q *MQTT) Close() {
	q.log.Info().Msg("disconnecting mqtt queue")
	q.conn.Disconnect(1000)
	close(q.out)
}
