// Package relay implements the room server the websocket transport talks
// to. It is a fan-out hub with presence: every publish in a room is echoed
// to every member of that room, the publisher included, and each join or
// leave pushes a fresh member list to everyone.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

type envelope struct {
	Action   string          `json:"action"`
	Topic    string          `json:"topic,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Members  []member        `json:"members,omitempty"`
}

type member struct {
	ClientID string          `json:"clientId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

const writeTimeout = 5 * time.Second

// Config holds relay server configuration.
type Config struct {
	// Addr is the listen address, for example ":8090".
	Addr string
	// APIKey, when non-empty, must match the key query parameter of every
	// joining client. An empty key disables the check.
	APIKey string
	Logger *slog.Logger
}

// Server accepts websocket clients and routes messages within rooms.
type Server struct {
	cfg    Config
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	name    string
	clients map[*client]struct{}
}

type client struct {
	id      string
	ws      *websocket.Conn
	sendMu  sync.Mutex
	entered bool
	data    json.RawMessage
}

// NewServer builds a relay server. Start must be called to begin serving.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		rooms:  make(map[string]*room),
	}
}

// Start begins listening. It returns once the listener is bound; serving
// continues on a background goroutine until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("relay listening", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("relay serve failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr reports the bound listen address. Useful when Addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown closes every client connection and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var clients []*client
	for _, r := range s.rooms {
		for c := range r.clients {
			clients = append(clients, c)
		}
	}
	s.rooms = make(map[string]*room)
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.ws.Close(websocket.StatusGoingAway, "relay shutting down")
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomName := r.URL.Query().Get("room")
	clientID := r.URL.Query().Get("client")
	if roomName == "" || clientID == "" {
		http.Error(w, "room and client are required", http.StatusBadRequest)
		return
	}
	if s.cfg.APIKey != "" && r.URL.Query().Get("key") != s.cfg.APIKey {
		http.Error(w, "invalid key", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{id: clientID, ws: ws}
	s.mu.Lock()
	rm, ok := s.rooms[roomName]
	if !ok {
		rm = &room{name: roomName, clients: make(map[*client]struct{})}
		s.rooms[roomName] = rm
	}
	rm.clients[c] = struct{}{}
	total := len(rm.clients)
	s.mu.Unlock()

	s.logger.Info("client joined",
		slog.String("room", roomName), slog.String("client_id", clientID), slog.Int("clients", total))

	// The newcomer gets the current member list right away so presence
	// reads work before anyone enters or leaves.
	s.sendPresence(rm, c)

	s.readLoop(rm, c)
}

func (s *Server) readLoop(rm *room, c *client) {
	defer s.dropClient(rm, c)
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("drop malformed frame",
				slog.String("room", rm.name), slog.String("client_id", c.id))
			continue
		}
		switch env.Action {
		case "publish":
			s.broadcast(rm, envelope{
				Action:   "message",
				Topic:    env.Topic,
				Data:     env.Data,
				ClientID: c.id,
			})
		case "enter":
			s.mu.Lock()
			c.entered = true
			c.data = env.Data
			s.mu.Unlock()
			s.broadcastPresence(rm)
		case "leave":
			s.mu.Lock()
			c.entered = false
			c.data = nil
			s.mu.Unlock()
			s.broadcastPresence(rm)
		default:
			s.logger.Debug("drop unknown action",
				slog.String("action", env.Action), slog.String("client_id", c.id))
		}
	}
}

func (s *Server) dropClient(rm *room, c *client) {
	s.mu.Lock()
	wasEntered := c.entered
	delete(rm.clients, c)
	remaining := len(rm.clients)
	if remaining == 0 {
		delete(s.rooms, rm.name)
	}
	s.mu.Unlock()

	_ = c.ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("client left",
		slog.String("room", rm.name), slog.String("client_id", c.id), slog.Int("clients", remaining))
	if wasEntered && remaining > 0 {
		s.broadcastPresence(rm)
	}
}

func (s *Server) memberList(rm *room) []member {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]member, 0, len(rm.clients))
	for c := range rm.clients {
		if c.entered {
			members = append(members, member{ClientID: c.id, Data: c.data})
		}
	}
	return members
}

func (s *Server) broadcastPresence(rm *room) {
	s.broadcast(rm, envelope{Action: "presence", Members: s.memberList(rm)})
}

func (s *Server) sendPresence(rm *room, c *client) {
	env := envelope{Action: "presence", Members: s.memberList(rm)}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.write(c, data)
}

func (s *Server) broadcast(rm *room, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("marshal broadcast failed", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	clients := make([]*client, 0, len(rm.clients))
	for c := range rm.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.write(c, data)
	}
}

func (s *Server) write(c *client, data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("write to client failed",
			slog.String("client_id", c.id), slog.String("error", err.Error()))
	}
}
