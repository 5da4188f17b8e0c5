package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/logging"
)

const (
	EventAlbumRenamed = "album_renamed"
	EventAlbumRemoved = "album_removed"
	EventItemsChanged = "items_changed"
	EventRestored     = "store_restored"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
	queueSize      = 256
)

// Event is the JSON payload pushed to subscribers.
type Event struct {
	Type      string         `json:"type"`
	Album     string         `json:"album,omitempty"`
	OldName   string         `json:"old_name,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
}

// Hub fans store events out to websocket subscribers so open views can
// follow album renames, removals and restores.
type Hub struct {
	subscribers map[*subscriber]struct{}
	join        chan *subscriber
	leave       chan *subscriber
	broadcast   chan []byte
	stopped     chan struct{}
	mu          sync.RWMutex
	logger      *zap.Logger
}

var _ database.AlbumListener = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		join:        make(chan *subscriber),
		leave:       make(chan *subscriber),
		broadcast:   make(chan []byte, queueSize),
		stopped:     make(chan struct{}),
		logger:      logging.Log.Named("realtime"),
	}
}

// Run dispatches until done is closed, then disconnects every subscriber.
func (h *Hub) Run(done <-chan struct{}) {
	defer close(h.stopped)
	for {
		select {
		case <-done:
			h.mu.Lock()
			for sub := range h.subscribers {
				h.drop(sub)
			}
			h.mu.Unlock()
			return
		case sub := <-h.join:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("subscriber joined", zap.String("remote", sub.conn.RemoteAddr().String()))
		case sub := <-h.leave:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				h.drop(sub)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.out <- msg:
				default:
					// too slow to keep up
					h.drop(sub)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop requires h.mu.
func (h *Hub) drop(sub *subscriber) {
	delete(h.subscribers, sub)
	close(sub.out)
}

// Subscribers reports how many clients are connected.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast queues event for every subscriber. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- encoded:
	default:
		h.logger.Warn("dropping event, broadcast queue full", zap.String("type", event.Type))
	}
}

func (h *Hub) AlbumRenamed(oldName, newName string) {
	h.Broadcast(Event{Type: EventAlbumRenamed, Album: newName, OldName: oldName})
}

func (h *Hub) AlbumRemoved(name string) {
	h.Broadcast(Event{Type: EventAlbumRemoved, Album: name})
}

// Origins are checked by the CORS layer in front of the router.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and streams events until either side hangs up.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := &subscriber{hub: h, conn: conn, out: make(chan []byte, queueSize)}
	select {
	case h.join <- sub:
	case <-h.stopped:
		conn.Close()
		return
	}

	go sub.writeLoop()
	sub.readLoop()
}

// readLoop discards inbound frames; it exists to service pongs and notice
// disconnects.
func (s *subscriber) readLoop() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.stopped:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Debug("subscriber read failed", zap.Error(err))
			}
			return
		}
	}
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
