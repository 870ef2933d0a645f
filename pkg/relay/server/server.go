// Package server exposes a relay.Relay over WebSocket.
//
// The WebSocket endpoint is implemented with the `gws` library; plain HTTP
// routes are served through gorilla/mux:
//
//	GET /ws      upgrade, subprotocol "cbor", one relay client per socket
//	GET /health  liveness
//	GET /status  room and client counts
//
// Use "127.0.0.1:0" to bind to a random available port in tests.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/relay"
)

const clientKey = "client"

type Config struct {
	Addr   string
	Relay  *relay.Relay
	Logger logger.Logger

	// ReadMaxPayloadSize caps one inbound frame. Defaults to 1 MiB.
	ReadMaxPayloadSize int

	// ShutdownTimeout bounds Stop when its ctx has no deadline.
	ShutdownTimeout time.Duration
}

// Server serves one relay.
type Server struct {
	cfg    Config
	relay  *relay.Relay
	logger logger.Logger

	router   *mux.Router
	upgrader *gws.Upgrader
	http     *http.Server

	mu       sync.Mutex
	listener net.Listener
	conns    map[*gws.Conn]*relay.Client
	started  time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// Handler implements gws.Event for relay connections.
type Handler struct {
	server *Server
}

func New(cfg Config) *Server {
	if cfg.Relay == nil {
		cfg.Relay = relay.New(relay.Config{Logger: cfg.Logger})
	}
	if cfg.ReadMaxPayloadSize <= 0 {
		cfg.ReadMaxPayloadSize = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		relay:  cfg.Relay,
		logger: logger.OrDiscard(cfg.Logger),
		conns:  make(map[*gws.Conn]*relay.Client),
		ctx:    ctx,
		cancel: cancel,
	}

	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{
		ReadMaxPayloadSize: cfg.ReadMaxPayloadSize,
		SubProtocols:       []string{constants.Subprotocol},
	})

	s.router = mux.NewRouter()
	s.router.HandleFunc(constants.WSPath, s.handleUpgrade).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes, for mounting under another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Relay returns the relay being served.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if err := s.relay.Start(s.ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(s.ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Relay server stopped", "error", err)
		}
	}()

	s.logger.Info("Relay listening", "addr", listener.Addr().String())
	return nil
}

// Stop closes the listener and every open socket, then the relay.
func (s *Server) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.cancel()

	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	sockets := make([]*gws.Conn, 0, len(s.conns))
	for socket := range s.conns {
		sockets = append(sockets, socket)
	}
	s.mu.Unlock()

	for _, socket := range sockets {
		socket.WriteClose(constants.CloseMessageCode, []byte("relay shutting down"))
	}

	return errors.Join(err, s.relay.Close())
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// URL returns the WebSocket URL clients dial.
func (s *Server) URL() string {
	return fmt.Sprintf("%s://%s%s", constants.WebsocketScheme, s.Address(), constants.WSPath)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	go socket.ReadLoop()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type status struct {
	relay.Stats
	Connections int     `json:"connections"`
	Uptime      float64 `json:"uptimeSeconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.relay.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	st := status{Stats: stats, Connections: len(s.conns), Uptime: time.Since(s.started).Seconds()}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	s := h.server
	client, err := s.relay.Attach(s.ctx, peer{socket: socket, logger: s.logger})
	if err != nil {
		s.logger.Error("Failed to attach client", "error", err)
		socket.WriteClose(1011, []byte("relay unavailable"))
		return
	}
	socket.Session().Store(clientKey, client)

	s.mu.Lock()
	s.conns[socket] = client
	s.mu.Unlock()

	s.logger.Debug("Socket opened", "client", client.ID(), "remote", socket.RemoteAddr().String())
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	s := h.server
	s.mu.Lock()
	client, ok := s.conns[socket]
	delete(s.conns, socket)
	s.mu.Unlock()

	if !ok {
		return
	}
	client.Detach(context.Background())
	s.logger.Debug("Socket closed", "client", client.ID(), "reason", err)
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Debug("Failed to write pong", "error", err)
	}
}

func (h *Handler) OnPong(*gws.Conn, []byte) {}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	if message.Opcode != gws.OpcodeBinary {
		h.server.logger.Debug("Dropping non-binary frame", "opcode", message.Opcode)
		return
	}

	v, ok := socket.Session().Load(clientKey)
	if !ok {
		return
	}
	client := v.(*relay.Client)

	// message.Bytes is only valid until Close.
	frame := append([]byte(nil), message.Bytes()...)
	client.Handle(h.server.ctx, frame)
}

// peer queues writes on the socket so relay deliveries never block on a
// slow client.
type peer struct {
	socket *gws.Conn
	logger logger.Logger
}

func (p peer) Send(frame []byte) error {
	p.socket.WriteAsync(gws.OpcodeBinary, frame, func(err error) {
		if err != nil {
			p.logger.Debug("Async write failed", "remote", p.socket.RemoteAddr().String(), "error", err)
		}
	})
	return nil
}
