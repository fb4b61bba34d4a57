package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/util"
)

// MqttConfig is the broker configuration
type MqttConfig struct {
	Broker   string
	Topic    string
	User     string
	Password string
	ClientID string
}

// RootTopic returns the configured root topic or the default
func (c MqttConfig) RootTopic() string {
	if topic := strings.Trim(c.Topic, "/"); topic != "" {
		return topic
	}
	return "idconnect"
}

// MQTT is the values and events publisher
type MQTT struct {
	log     *util.Logger
	root    string
	publish func(topic string, retained bool, payload string)
}

// NewMQTT connects to the broker
func NewMQTT(conf MqttConfig) (*MQTT, error) {
	log := util.NewLogger("mqtt")
	log.Redact(conf.User, conf.Password)

	broker := conf.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	clientID := conf.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("idconnect-%d", time.Now().Unix())
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetUsername(conf.User)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.WARN.Printf("connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		log.DEBUG.Printf("connected to %s", broker)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}

	m := newMQTT(log, conf.RootTopic(), func(topic string, retained bool, payload string) {
		token := client.Publish(topic, 0, retained, payload)
		go func() {
			if token.WaitTimeout(10*time.Second) && token.Error() != nil {
				log.ERROR.Printf("publish %s: %v", topic, token.Error())
			}
		}()
	})

	return m, nil
}

func newMQTT(log *util.Logger, root string, publish func(string, bool, string)) *MQTT {
	return &MQTT{log: log, root: root, publish: publish}
}

// topic maps a parameter to <root>/<vin>/<domain>/<path>
func (m *MQTT) topic(p util.Param) string {
	parts := []string{m.root}
	for _, s := range []string{p.VIN, p.Domain} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if p.Key != "" {
		parts = append(parts, strings.ReplaceAll(p.Key, ".", "/"))
	}
	return strings.Join(parts, "/")
}

func encode(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	case bool, int, int64:
		return fmt.Sprintf("%v", val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case time.Duration:
		return fmt.Sprintf("%d", int64(val.Seconds()))
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// Run publishes the parameters received on the channel
func (m *MQTT) Run(in <-chan util.Param) {
	for p := range in {
		if p.Channel {
			m.publish(m.topic(p)+"/name", true, p.Name)
			continue
		}

		topic := m.topic(p)
		m.publish(topic, true, encode(p.Val))

		if p.Unit != "" {
			m.publish(topic+"/unit", true, p.Unit)
		}
	}
}

// Listen publishes detector events to <root>/<vin>/events/<name>
func (m *MQTT) Listen(bus EventBus.Bus) error {
	for _, name := range api.Events {
		if err := bus.SubscribeAsync(name, m.event, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *MQTT) event(ev api.Event) {
	m.publish(fmt.Sprintf("%s/%s/events/%s", m.root, ev.VIN, ev.Name), false, encode(ev.Payload))
}
