package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestEventsStream(t *testing.T) {
	server := newTestServer(t, &MockDeviceService{}, nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	all := subscribe(t, ts, "")
	front := subscribe(t, ts, "?device_id=front")

	assert.Equal(t, EventTypeWelcome, readEvent(t, all).Type)
	welcome := readEvent(t, front)
	assert.Equal(t, EventTypeWelcome, welcome.Type)
	assert.Equal(t, "front", welcome.Data["device_id"])

	require.Eventually(t, func() bool {
		return server.Events().ClientCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, server.Events().Broadcast(Event{Type: "device.sync", DeviceID: "back"}))
	assert.Equal(t, 2, server.Events().Broadcast(Event{
		Type:     "device.sync",
		DeviceID: "front",
		Data:     map[string]interface{}{"success": true},
	}))

	event := readEvent(t, all)
	assert.Equal(t, "back", event.DeviceID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "front", readEvent(t, all).DeviceID)

	event = readEvent(t, front)
	assert.Equal(t, "front", event.DeviceID)
	assert.Equal(t, true, event.Data["success"])
}

func TestEventsSubscriberDisconnect(t *testing.T) {
	server := newTestServer(t, &MockDeviceService{}, nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	conn := subscribe(t, ts, "")
	readEvent(t, conn)
	require.Eventually(t, func() bool { return server.Events().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return server.Events().ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventHubClose(t *testing.T) {
	server := newTestServer(t, &MockDeviceService{}, nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	conn := subscribe(t, ts, "")
	readEvent(t, conn)

	server.Events().Close()
	assert.Equal(t, 0, server.Events().ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// closed hubs refuse new subscribers
	late := subscribe(t, ts, "")
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestEventHubDropsSlowSubscriber(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewEventHub(logger)

	client := &eventClient{id: "slow", send: make(chan Event, 1)}
	hub.clients[client.id] = client

	assert.Equal(t, 1, hub.Broadcast(Event{Type: "device.sync"}))
	assert.Equal(t, 0, hub.Broadcast(Event{Type: "device.sync"}))
	assert.Equal(t, 0, hub.ClientCount())

	_, open := <-client.send
	assert.True(t, open, "queued event is still delivered")
	_, open = <-client.send
	assert.False(t, open)
}
