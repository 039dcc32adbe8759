// Package mqttclient mirrors job events onto an MQTT broker and accepts
// transcription commands from it.
package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/metrics"
)

// CommandHandler receives messages published under {prefix}/cmd/{command}.
type CommandHandler func(command string, payload []byte)

type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
	handler   atomic.Pointer[CommandHandler]
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.Trim(opts.TopicPrefix, "/"),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetCommandHandler installs the handler for command topics.
func (c *Client) SetCommandHandler(h CommandHandler) {
	c.handler.Store(&h)
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	filter := c.topic("cmd/#")
	c.log.Info().Str("filter", filter).Msg("mqtt connected, subscribing")

	token := client.Subscribe(filter, 1, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, ok := commandName(c.prefix, msg.Topic())
	if h := c.handler.Load(); ok && h != nil {
		(*h)(cmd, msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message ignored")
}

// Publish sends payload as JSON to {prefix}/{suffix}. It does not wait for
// the broker; the outcome is counted once the token completes.
func (c *Client) Publish(suffix string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		metrics.MQTTPublishedTotal.WithLabelValues("error").Inc()
		c.log.Error().Err(err).Str("topic", suffix).Msg("mqtt payload marshal failed")
		return
	}
	topic := c.topic(suffix)
	token := c.conn.Publish(topic, 0, false, b)
	go func() {
		if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
			metrics.MQTTPublishedTotal.WithLabelValues("error").Inc()
			c.log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
			return
		}
		metrics.MQTTPublishedTotal.WithLabelValues("ok").Inc()
	}()
}

// Sink returns an event bus sink that mirrors every event to MQTT.
func (c *Client) Sink() events.Sink {
	return func(e events.Event) {
		if !c.connected.Load() {
			metrics.MQTTPublishedTotal.WithLabelValues("skipped").Inc()
			return
		}
		c.Publish(eventTopic(e), e)
	}
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

func (c *Client) topic(suffix string) string {
	if c.prefix == "" {
		return suffix
	}
	return c.prefix + "/" + suffix
}

// eventTopic maps an event to "events/{type}[/{subtype}]".
func eventTopic(e events.Event) string {
	t := "events/" + e.Type
	if e.SubType != "" {
		t += "/" + e.SubType
	}
	return t
}

// commandName extracts {command} from "{prefix}/cmd/{command}".
func commandName(prefix, topic string) (string, bool) {
	want := "cmd/"
	if prefix != "" {
		want = prefix + "/" + want
	}
	cmd, ok := strings.CutPrefix(topic, want)
	if !ok || cmd == "" || strings.Contains(cmd, "/") {
		return "", false
	}
	return cmd, true
}
