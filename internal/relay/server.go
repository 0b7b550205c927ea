package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server exposes the relay over HTTP: one websocket endpoint for hosts,
// one for peers, and a health probe.
type Server struct {
	log      *zap.Logger
	registry *registry
}

func NewServer(ctx context.Context, log *zap.Logger) *Server {
	return &Server{
		log:      log,
		registry: newRegistry(ctx),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/host", s.handleHost)
	r.Get("/ws/peer", s.handlePeer)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleHost claims the room code before upgrading, so a duplicate code is
// rejected with 409 instead of a dead websocket.
func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.URL.Query().Get("room"))
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	rm := newRoom(code, s.log)
	if err := s.registry.claim(code, rm); err != nil {
		rm.shutdown()
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("host upgrade failed", zap.String("room", code), zap.Error(err))
		s.registry.release(code, rm)
		rm.shutdown()
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "room closed")

	s.log.Info("room opened", zap.String("room", code))
	rm.runHost(conn)
	s.registry.release(code, rm)
	s.log.Info("room closed", zap.String("room", code))
}

// handlePeer joins an existing room. Unknown codes get 404 before the
// upgrade so dialers can tell "no such room" from a transport failure.
func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.URL.Query().Get("room"))
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}
	rm := s.registry.lookup(code)
	if rm == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("peer upgrade failed", zap.String("room", code), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	p := &peer{
		id:     uuid.NewString(),
		meta:   Meta{PlayerName: r.URL.Query().Get("name")},
		outbox: make(chan json.RawMessage, 64),
	}
	if !rm.attach(p) {
		// Room died between lookup and attach.
		return
	}
	defer rm.detach(p.id)

	s.log.Debug("peer attached",
		zap.String("room", code),
		zap.String("peer", p.id),
		zap.String("name", p.meta.PlayerName))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range p.outbox {
			wctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
		// Outbox closed: the host hung up on this peer.
		conn.Close(websocket.StatusNormalClosure, "host closed connection")
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			break
		}
		rm.forward(p.id, json.RawMessage(data))
	}

	select {
	case <-writerDone:
	case <-time.After(writeTimeout):
	}
}
