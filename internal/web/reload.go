package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reloadMessage = "reload"

	// defaultReloadWriteTimeout bounds how long a slow tab can hold up a change.
	defaultReloadWriteTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Reloader keeps the open browser tabs and tells them to reload after a
// change. It is safe for concurrent use.
type Reloader struct {
	mu           sync.Mutex
	clients      map[*websocket.Conn]struct{}
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewReloader creates an empty Reloader.
func NewReloader(logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		clients:      make(map[*websocket.Conn]struct{}),
		logger:       logger,
		writeTimeout: defaultReloadWriteTimeout,
	}
}

// Reload sends the reload message to every connected client. Clients that
// cannot be written to within the write timeout are dropped.
func (r *Reloader) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.clients {
		err := conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, []byte(reloadMessage))
		}
		if err != nil {
			r.logger.Debug("dropping live-reload client", "error", err)
			_ = conn.Close()
			delete(r.clients, conn)
		}
	}
}

// Clients returns the number of connected clients.
func (r *Reloader) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close disconnects every client.
func (r *Reloader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.clients {
		_ = conn.Close()
		delete(r.clients, conn)
	}
}

func (r *Reloader) register(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn] = struct{}{}
	r.logger.Debug("live-reload client connected", "clients", len(r.clients))
}

func (r *Reloader) unregister(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[conn]; ok {
		delete(r.clients, conn)
		_ = conn.Close()
		r.logger.Debug("live-reload client disconnected", "clients", len(r.clients))
	}
}

// ServeHTTP upgrades the request and holds the connection until the peer
// goes away. Clients never send anything meaningful.
func (r *Reloader) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.WarnContext(req.Context(), "websocket upgrade failed", "error", err)
		return
	}
	r.register(conn)
	defer r.unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
