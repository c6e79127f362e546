package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventTypeWelcome is the first event every subscriber receives
const EventTypeWelcome = "welcome"

// Event is a message streamed to websocket subscribers
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	DeviceID  string                 `json:"device_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type eventClient struct {
	id       string
	conn     *websocket.Conn
	send     chan Event
	deviceID string
}

// EventHub fans events out to websocket subscribers. A subscriber that
// falls behind by a full buffer is disconnected.
type EventHub struct {
	mutex    sync.RWMutex
	clients  map[string]*eventClient
	closed   bool
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxClients   int
}

// NewEventHub creates an empty hub
func NewEventHub(logger logrus.FieldLogger) *EventHub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventHub{
		clients: make(map[string]*eventClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:       logger.WithField("component", "events"),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		maxClients:   100,
	}
}

// Broadcast queues event for every matching subscriber and returns how
// many it was queued for.
func (h *EventHub) Broadcast(event Event) int {
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var slow []*eventClient
	sent := 0

	h.mutex.RLock()
	for _, c := range h.clients {
		if c.deviceID != "" && event.DeviceID != "" && c.deviceID != event.DeviceID {
			continue
		}
		select {
		case c.send <- event:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mutex.RUnlock()

	for _, c := range slow {
		h.logger.WithField("client_id", c.id).Warn("Event subscriber buffer full, disconnecting")
		h.remove(c)
	}
	return sent
}

// ClientCount returns the number of connected subscribers
func (h *EventHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones
func (h *EventHub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// HandleEvents upgrades the request to a websocket and streams events.
// ?device_id= limits the stream to one device.
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade event subscription")
		return
	}

	client := &eventClient{
		id:       fmt.Sprintf("conn_%d", time.Now().UnixNano()),
		conn:     conn,
		send:     make(chan Event, 64),
		deviceID: r.URL.Query().Get("device_id"),
	}

	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber limit reached"),
			time.Now().Add(h.writeTimeout))
		conn.Close()
		return
	}

	h.logger.WithFields(logrus.Fields{
		"client_id":   client.id,
		"remote_addr": r.RemoteAddr,
		"device_id":   client.deviceID,
	}).Info("Event subscriber connected")

	go h.writePump(client)
	h.readPump(client)
}

func (h *EventHub) register(c *eventClient) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed || len(h.clients) >= h.maxClients {
		return false
	}
	h.clients[c.id] = c
	c.send <- Event{
		ID:        c.id,
		Type:      EventTypeWelcome,
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"device_id": c.deviceID},
	}
	return true
}

func (h *EventHub) remove(c *eventClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *EventHub) writePump(c *eventClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				h.logger.WithError(err).WithField("client_id", c.id).Debug("Failed to write event")
				h.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are handled;
// subscribers are not expected to send anything.
func (h *EventHub) readPump(c *eventClient) {
	defer func() {
		h.remove(c)
		h.logger.WithField("client_id", c.id).Info("Event subscriber disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
