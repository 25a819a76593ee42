// Package gateway exposes the bridge to a chat platform adapter over HTTP.
// The adapter posts inbound events and holds a WebSocket open on which it
// receives outbound actions, one JSON frame per action.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatmux/pkg/chat"
)

// ErrNoAdapter is returned by a Sink when no adapter is connected for its
// server; the action is dropped.
var ErrNoAdapter = errors.New("no chat adapter connected")

// WebSocket timeouts.
const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20
)

const (
	defaultEventQueue  = 256
	defaultClientQueue = 64
	maxEventBody       = 1 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Adapters are not browsers and never send Origin.
	CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "" },
}

// Options configures a Gateway.
type Options struct {
	// Token, when set, is required as "Authorization: Bearer <token>".
	Token string
	// Servers are the chat server names accepted in URLs.
	Servers []string
	// EventQueue is the inbound buffer per server (default 256).
	EventQueue int
	Logger     *log.Logger
}

// Gateway routes adapter traffic to per-server event queues and outboxes.
type Gateway struct {
	token     string
	logger    *log.Logger
	router    chi.Router
	endpoints map[string]*endpoint
}

type endpoint struct {
	name   string
	events chan chat.Event

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// New builds a Gateway for the given servers.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	queue := opts.EventQueue
	if queue <= 0 {
		queue = defaultEventQueue
	}
	g := &Gateway{
		token:     opts.Token,
		logger:    logger.WithPrefix("gateway"),
		endpoints: make(map[string]*endpoint, len(opts.Servers)),
	}
	for _, name := range opts.Servers {
		g.endpoints[name] = &endpoint{
			name:    name,
			events:  make(chan chat.Event, queue),
			clients: make(map[*client]struct{}),
		}
	}
	g.router = g.buildRouter()
	return g
}

func (g *Gateway) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(g.loggingMiddleware)

	r.Get("/healthz", g.handleHealth)
	r.Route("/v1/servers/{server}", func(r chi.Router) {
		r.Use(rejectBrowsers)
		r.Use(g.authMiddleware)
		r.With(chimw.AllowContentType("application/json")).Post("/events", g.handleEvents)
		r.Get("/outbox", g.handleOutbox)
	})
	return r
}

// Handler returns the HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.router }

// Events returns the inbound event queue of server, or nil if unknown.
func (g *Gateway) Events(server string) <-chan chat.Event {
	ep, ok := g.endpoints[server]
	if !ok {
		return nil
	}
	return ep.events
}

// Connected returns the number of adapters attached to server's outbox.
func (g *Gateway) Connected(server string) int {
	ep, ok := g.endpoints[server]
	if !ok {
		return 0
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.clients)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		g.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("gateway listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	g.closeClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

func (g *Gateway) closeClients() {
	for _, ep := range g.endpoints {
		ep.mu.Lock()
		for c := range ep.clients {
			delete(ep.clients, c)
			close(c.send)
		}
		ep.mu.Unlock()
	}
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "dur", time.Since(start))
	})
}

// rejectBrowsers refuses any request carrying an Origin header. A page in a
// local browser can reach a loopback listener, an adapter never sets Origin.
func rejectBrowsers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") != "" {
			writeError(w, http.StatusForbidden, "cross-origin requests are not accepted")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.token != "" {
			token := extractBearerToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
				g.logger.Warn("auth failed", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (g *Gateway) endpointFor(w http.ResponseWriter, r *http.Request) (*endpoint, bool) {
	name := chi.URLParam(r, "server")
	ep, ok := g.endpoints[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown server %q", name))
		return nil, false
	}
	return ep, true
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	servers := make(map[string]int, len(g.endpoints))
	for name := range g.endpoints {
		servers[name] = g.Connected(name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "adapters": servers})
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	ep, ok := g.endpointFor(w, r)
	if !ok {
		return
	}
	var ev chat.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	if !ev.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid event: kind %q without matching payload", ev.Kind))
		return
	}
	select {
	case ep.events <- ev:
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
	case <-r.Context().Done():
	}
}

func (g *Gateway) handleOutbox(w http.ResponseWriter, r *http.Request) {
	ep, ok := g.endpointFor(w, r)
	if !ok {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "server", ep.name, "err", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, defaultClientQueue)}

	ep.mu.Lock()
	ep.clients[c] = struct{}{}
	total := len(ep.clients)
	ep.mu.Unlock()
	g.logger.Info("adapter connected", "server", ep.name, "id", c.id, "total", total)

	go g.writePump(c)
	g.readPump(ep, c)
}

func (g *Gateway) unregister(ep *endpoint, c *client) {
	ep.mu.Lock()
	if _, ok := ep.clients[c]; ok {
		delete(ep.clients, c)
		close(c.send)
	}
	total := len(ep.clients)
	ep.mu.Unlock()
	g.logger.Info("adapter disconnected", "server", ep.name, "id", c.id, "total", total)
}

// readPump keeps the connection alive and accepts events sent over the
// socket as an alternative to POST.
func (g *Gateway) readPump(ep *endpoint, c *client) {
	defer func() {
		g.unregister(ep, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Warn("websocket read", "server", ep.name, "id", c.id, "err", err)
			}
			return
		}
		var ev chat.Event
		if err := json.Unmarshal(data, &ev); err != nil || !ev.Valid() {
			g.logger.Warn("ignoring invalid websocket event", "server", ep.name, "id", c.id)
			continue
		}
		ep.events <- ev
	}
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// publish queues out for every adapter of server.
func (g *Gateway) publish(server string, out chat.Outbound) error {
	ep, ok := g.endpoints[server]
	if !ok {
		return fmt.Errorf("publish %s: unknown server %q", out.Action, server)
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode %s: %w", out.Action, err)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if len(ep.clients) == 0 {
		g.logger.Warn("dropping outbound action", "server", server, "action", out.Action, "channel", out.ChannelID)
		return ErrNoAdapter
	}
	for c := range ep.clients {
		select {
		case c.send <- data:
		default:
			g.logger.Warn("adapter queue full, dropping", "server", server, "id", c.id, "action", out.Action)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
