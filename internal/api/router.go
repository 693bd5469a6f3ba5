// Package api exposes a small read-only HTTP surface over a running
// controller: health, current status, and a live mode-transition stream.
// Routing is a manual switch on req.URL.Path; no web framework.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zakarynichols/steamboiler/internal/control"
)

// StatusProvider is the read-only view of the controller the API needs;
// kept narrow so the API package never depends on control internals.
type StatusProvider interface {
	Status() string
	RunIDString() string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router serves /health, /status, and /stream for one controller run.
type Router struct {
	ctl StatusProvider
	log *logrus.Entry

	mu        sync.Mutex
	listeners map[uuid.UUID]chan string
	last      control.Mode
	hasLast   bool
}

func NewRouter(ctl StatusProvider) *Router {
	return &Router{
		ctl:       ctl,
		log:       logrus.WithField("component", "api"),
		listeners: make(map[uuid.UUID]chan string),
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/health":
		r.health(w, req)
	case "/status":
		r.status(w, req)
	case "/stream":
		r.stream(w, req)
	default:
		http.NotFound(w, req)
	}
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"mode":   r.ctl.Status(),
		"run_id": r.ctl.RunIDString(),
	})
}

func (r *Router) stream(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	id := uuid.New()
	ch := make(chan string, 16)
	r.mu.Lock()
	r.listeners[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(time.Hour))
	for mode := range ch {
		if err := conn.WriteJSON(map[string]string{"mode": mode}); err != nil {
			return
		}
	}
}

// Broadcast pushes a mode transition to every connected /stream client.
// Non-blocking: a slow client drops frames rather than stalling the
// controller's cycle.
func (r *Router) Broadcast(mode control.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasLast && mode == r.last {
		return
	}
	r.last, r.hasLast = mode, true
	for _, ch := range r.listeners {
		select {
		case ch <- mode.String():
		default:
		}
	}
}
