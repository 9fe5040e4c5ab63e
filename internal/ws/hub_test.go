package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driver-analytics/internal/domain"
)

func telemetryMsg(driverID string) domain.WireMessage {
	return domain.WireMessage{
		Type:    domain.MessageTypeTelemetry,
		Payload: domain.TelemetryPayload{DriverID: driverID},
	}
}

func TestPublishWithNoObserversIsNoOp(t *testing.T) {
	hub := NewHub()

	assert.NotPanics(t, func() {
		hub.Publish(telemetryMsg("driver_1"))
	})
	assert.Zero(t, hub.ClientCount())
}

func TestPublishDeliversToAllObservers(t *testing.T) {
	hub := NewHub()
	a := NewClient(hub, nil)
	b := NewClient(hub, nil)
	hub.Register(a)
	hub.Register(b)
	require.Equal(t, 2, hub.ClientCount())

	hub.Publish(telemetryMsg("driver_1"))

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			assert.Equal(t, domain.MessageTypeTelemetry, msg.Type)
		default:
			t.Fatal("expected a queued message")
		}
	}
}

func TestPublishPreservesRegistrationOrder(t *testing.T) {
	hub := NewHub()
	a := NewClient(hub, nil)
	b := NewClient(hub, nil)
	hub.Register(a)
	hub.Register(b)

	hub.Publish(telemetryMsg("first"))
	hub.Publish(telemetryMsg("second"))

	for _, c := range []*Client{a, b} {
		first := <-c.send
		second := <-c.send
		assert.Equal(t, "first", first.Payload.(domain.TelemetryPayload).DriverID)
		assert.Equal(t, "second", second.Payload.(domain.TelemetryPayload).DriverID)
	}
}

func TestPublishPrunesStalledObserver(t *testing.T) {
	hub := NewHub()
	stalled := NewClient(hub, nil)
	healthy := NewClient(hub, nil)
	hub.Register(stalled)
	hub.Register(healthy)

	// Fill the stalled client's buffer; nothing drains it.
	for i := 0; i < sendBufferSize; i++ {
		hub.Publish(telemetryMsg("filler"))
		// Keep the healthy client drained.
		<-healthy.send
	}

	// The next publish prunes the stalled client but still reaches the
	// healthy one.
	hub.Publish(telemetryMsg("driver_1"))

	assert.Equal(t, 1, hub.ClientCount())
	msg := <-healthy.send
	assert.Equal(t, "driver_1", msg.Payload.(domain.TelemetryPayload).DriverID)

	// The pruned client's channel was closed.
	_, open := <-stalled.send
	for open {
		_, open = <-stalled.send
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := NewClient(hub, nil)
	hub.Register(c)
	require.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c)
	assert.Zero(t, hub.ClientCount())

	assert.NotPanics(t, func() { hub.Unregister(c) })
}
