package server

import (
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/evcc-io/idconnect/api"
	"github.com/evcc-io/idconnect/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	topic    string
	retained bool
	payload  string
}

func recorder(msgs chan message) func(string, bool, string) {
	return func(topic string, retained bool, payload string) {
		msgs <- message{topic, retained, payload}
	}
}

func TestMqttRun(t *testing.T) {
	msgs := make(chan message, 10)
	m := newMQTT(util.NewLogger("mqtt"), "vw", recorder(msgs))

	in := make(chan util.Param, 3)
	in <- util.Param{VIN: "WVW1", Domain: "status", Key: "charging.batteryStatus.value.currentSOC_pct", Val: 50.0, Unit: "%"}
	in <- util.Param{VIN: "WVW1", Domain: "status", Key: "data_0x01", Name: "mileage", Channel: true}
	in <- util.Param{VIN: "WVW1", Domain: "parking", Key: "data.carIsParked", Val: true}
	close(in)

	m.Run(in)
	close(msgs)

	var res []message
	for msg := range msgs {
		res = append(res, msg)
	}

	assert.Equal(t, []message{
		{"vw/WVW1/status/charging/batteryStatus/value/currentSOC_pct", true, "50"},
		{"vw/WVW1/status/charging/batteryStatus/value/currentSOC_pct/unit", true, "%"},
		{"vw/WVW1/status/data_0x01/name", true, "mileage"},
		{"vw/WVW1/parking/data/carIsParked", true, "true"},
	}, res)
}

func TestMqttListen(t *testing.T) {
	msgs := make(chan message, 1)
	m := newMQTT(util.NewLogger("mqtt"), "vw", recorder(msgs))

	bus := EventBus.New()
	require.NoError(t, m.Listen(bus))

	bus.Publish(api.EventCurrentSOC, api.Event{Name: api.EventCurrentSOC, VIN: "WVW1", Payload: 55.0})

	select {
	case msg := <-msgs:
		assert.Equal(t, message{"vw/WVW1/events/currentSOC", false, "55"}, msg)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRootTopic(t *testing.T) {
	assert.Equal(t, "idconnect", MqttConfig{}.RootTopic())
	assert.Equal(t, "vw/id", MqttConfig{Topic: "/vw/id/"}.RootTopic())
}
