package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/satindergrewal/stemdeck/internal/engine"
	"go.uber.org/zap"
)

const maxCommandBody = 1 << 20

// Server exposes the mixer over a websocket and a small HTTP API.
type Server struct {
	mixer    Mixer
	hub      *Hub
	dispatch *Dispatcher
	log      *zap.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewServer creates a server for m and starts its hub. Engine notifications
// are broadcast to every websocket client. Background commands are cancelled
// with ctx.
func NewServer(ctx context.Context, m Mixer, log *zap.Logger) *Server {
	s := &Server{
		mixer:    m,
		hub:      NewHub(log),
		dispatch: NewDispatcher(ctx, m, log),
		log:      log,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go s.hub.Run()
	m.Observe(s.notify)

	s.router.Use(cors)
	s.router.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.router.HandleFunc("/api/command", s.handleCommand).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/decks/{deck:[0-9]+}", s.handleDeck).Methods(http.MethodGet)
	return s
}

// Handle mounts an extra handler, such as a monitor stream, on the router.
func (s *Server) Handle(path string, h http.Handler, methods ...string) {
	r := s.router.Handle(path, h)
	if len(methods) > 0 {
		r.Methods(methods...)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.ClientCount()
}

// Close disconnects every websocket client and waits for background commands.
func (s *Server) Close() {
	s.hub.Stop()
	s.dispatch.Wait()
}

func (s *Server) notify(n engine.Notification) {
	msg, err := encodeNotification(n)
	if err != nil {
		s.log.Warn("encode notification", zap.Error(err))
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c, ok := s.hub.attach(conn)
	if !ok {
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump(s.dispatch)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeRaw(w, http.StatusBadRequest, encodeError("", err))
		return
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeRaw(w, http.StatusBadRequest, encodeError("", fmt.Errorf("%w: %v", ErrBadPayload, err)))
		return
	}

	out, err := s.dispatch.Dispatch(env)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnknownCommand) {
			status = http.StatusNotFound
		}
		writeRaw(w, status, encodeError(env.Type, err))
		return
	}
	if out == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mixer.Status())
}

func (s *Server) handleDeck(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["deck"])
	if err != nil {
		http.Error(w, "invalid deck", http.StatusBadRequest)
		return
	}
	st, ok := s.mixer.DeckStatus(engine.DeckID(n))
	if !ok {
		http.Error(w, "deck not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
