// Package websocket carries the event stream over WebSocket: clients push
// events in and subscribe to the filtered live feed out.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/events"
	"github.com/windlass-io/windlass/internal/controlplane/metrics"
)

const (
	readDeadline = 90 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Event producers and dashboards connect from arbitrary hosts.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// IngestFunc accepts a validated batch of events into the pipeline.
type IngestFunc func(batch []events.Event, source string) error

// subscription is one connected egress client.
type subscription struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	filterMu sync.RWMutex
	filter   *events.Filter
}

func (s *subscription) setFilter(f *events.Filter) {
	s.filterMu.Lock()
	s.filter = f
	s.filterMu.Unlock()
}

func (s *subscription) wants(ev events.Event) bool {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	return s.filter == nil || s.filter.Matches(ev)
}

func (s *subscription) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// Hub manages the WebSocket event stream endpoints.
type Hub struct {
	bus    *events.Bus
	ingest IngestFunc
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*subscription
}

// NewHub creates a hub. ingest receives every event batch pushed in over
// a socket; bus feeds the outbound stream.
func NewHub(bus *events.Bus, ingest IngestFunc, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bus:    bus,
		ingest: ingest,
		logger: logger,
		subs:   make(map[string]*subscription),
	}
}

// Connected returns the number of live egress subscribers.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HandleEventsIn is the ingest socket. Each text message is one event or
// an array of events; malformed messages are reported back and skipped
// without closing the connection.
func (h *Hub) HandleEventsIn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	remote := r.RemoteAddr
	h.logger.Info("event producer connected", zap.String("remote_addr", remote))
	defer h.logger.Info("event producer disconnected", zap.String("remote_addr", remote))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

	var writeMu sync.Mutex
	stopPings := startPingLoop(conn, &writeMu)
	defer stopPings()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		batch, err := decodeBatch(msg)
		if err != nil {
			h.logger.Warn("invalid event message",
				zap.String("remote_addr", remote),
				zap.Error(err),
			)
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			writeMu.Unlock()
			continue
		}
		if err := h.ingest(batch, "websocket"); err != nil {
			h.logger.Error("ingesting socket events", zap.Error(err))
		}
	}
}

// HandleEventsOut is the live event feed. The client may send an event
// filter as a JSON message at any time; only matching events are pushed.
func (h *Hub) HandleEventsOut(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", zap.Error(err))
		return
	}

	sub := &subscription{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	metrics.SubscribersConnected.Set(float64(h.Connected()))
	h.logger.Info("event subscriber connected",
		zap.String("subscriber", sub.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	feed := h.bus.Subscribe(sub.id)
	done := make(chan struct{})

	defer func() {
		h.bus.Unsubscribe(sub.id)
		h.mu.Lock()
		delete(h.subs, sub.id)
		h.mu.Unlock()
		conn.Close()
		metrics.SubscribersConnected.Set(float64(h.Connected()))
		h.logger.Info("event subscriber disconnected", zap.String("subscriber", sub.id))
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

	stopPings := startPingLoop(conn, &sub.writeMu)
	defer stopPings()

	// Writer: pump the bus feed through the subscriber's filter.
	go func() {
		defer close(done)
		for ev := range feed {
			if !sub.wants(ev) {
				continue
			}
			if err := sub.write(websocket.TextMessage, ev.JSON()); err != nil {
				return
			}
		}
	}()

	// Reader: accept filter updates until the client goes away.
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var f events.Filter
		if err := json.Unmarshal(msg, &f); err != nil {
			h.logger.Warn("invalid filter from subscriber",
				zap.String("subscriber", sub.id),
				zap.Error(err),
			)
			continue
		}
		sub.setFilter(&f)
	}
}

// decodeBatch accepts either a single event or an array, validating every
// event before anything is ingested.
func decodeBatch(msg []byte) ([]events.Event, error) {
	var batch []events.Event
	if err := json.Unmarshal(msg, &batch); err != nil {
		var single events.Event
		if err := json.Unmarshal(msg, &single); err != nil {
			return nil, err
		}
		batch = []events.Event{single}
	}
	for i := range batch {
		batch[i] = batch[i].Receive()
		if err := batch[i].Validate(); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// startPingLoop keeps the connection alive with server-side pings. The
// returned stop function ends the loop.
func startPingLoop(conn *websocket.Conn, writeMu *sync.Mutex) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	return func() { close(stop) }
}
