// Package feed mirrors board events to websocket clients.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/event"
)

const idlePingInterval = 20 * time.Second

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to connected clients. A client that does not keep up
// misses events instead of stalling the boards.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	ping    []byte
	upgrade websocket.Upgrader
}

func NewHub() *Hub {
	ping, _ := json.Marshal(message{Type: "ping"})
	return &Hub{
		clients: make(map[*client]struct{}),
		ping:    ping,
		upgrade: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends one event to every client.
func (h *Hub) Publish(e event.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Err(err).Str("kind", string(e.Kind)).Msg("event-marshal-failed")
		return
	}
	data, _ := json.Marshal(message{Type: "event", Payload: payload})
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Forward publishes every event read from in until it closes or ctx is
// done. tap, if not nil, sees each event first.
func (h *Hub) Forward(ctx context.Context, in <-chan event.Event, tap func(event.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			if tap != nil {
				tap(e)
			}
			h.Publish(e)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws-upgrade-failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.register(c)
	log.Debug().Str("remote", r.RemoteAddr).Msg("feed-client-connected")

	go func() {
		defer conn.Close()
		if err := h.write(c); err != nil {
			log.Debug().Err(err).Msg("feed-write-failed")
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}

func (h *Hub) write(c *client) error {
	ticker := time.NewTicker(idlePingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < idlePingInterval {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, h.ping); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}

// Serve runs an HTTP server with the hub at /ws until ctx is done.
func Serve(ctx context.Context, addr string, h *Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("feed-listening")
	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
