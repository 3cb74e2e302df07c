package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

type Config struct {
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	AnnouncePeers bool
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:   DefaultIdleTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		AnnouncePeers: true,
	}
}

// conversation binds a room to its bus subscription.
type conversation struct {
	id       string
	room     *Room
	stopRead context.CancelFunc
}

// Server is a development relay: every text frame a connection sends is
// delivered to every connection of the same conversation, the sender
// included. Bare "ping" frames are answered with "pong" and not relayed.
type Server struct {
	bus      *Bus
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	convs map[string]*conversation
}

func NewServer(bus *Bus, cfg Config) *Server {
	return &Server{
		bus: bus,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		convs: map[string]*conversation{},
	}
}

// Handler routes /ws/{conversationId} and /healthz.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{conversationId}", s.handleWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// Connections returns the number of sockets attached to convID.
func (s *Server) Connections(convID string) int {
	s.mu.Lock()
	conv := s.convs[convID]
	s.mu.Unlock()
	if conv == nil {
		return 0
	}
	return conv.room.Len()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	convID := strings.TrimSpace(mux.Vars(r)["conversationId"])
	if convID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	connectionID := q.Get("connection_id")
	identifier := q.Get("identifier")
	if identifier == "" {
		identifier = connectionID
	}
	if connectionID == "" {
		connectionID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wsLog := log.With().
		Str("component", "relay").
		Str("remote", conn.RemoteAddr().String()).
		Str("conv_id", convID).
		Str("connection_id", connectionID).
		Logger()

	m := &member{conn: conn, identifier: identifier, connectionID: connectionID}
	conv, stale, err := s.attach(convID, m)
	if err != nil {
		wsLog.Error().Err(err).Msg("failed to attach conversation")
		_ = conn.Close()
		return
	}
	if stale != nil {
		wsLog.Info().Str("identifier", stale.identifier).Msg("replaced stale socket for connection id")
	}
	wsLog.Info().Str("identifier", identifier).Msg("ws connected")
	s.announce(convID, m, true)

	defer func() {
		if conv.room.Leave(m) {
			s.announce(convID, m, false)
		}
		wsLog.Info().Msg("ws disconnected")
	}()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			wsLog.Debug().Err(err).Msg("ws read loop end")
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}
		if protocol.IsPing(data) {
			conv.room.SendTo(connectionID, []byte(protocol.Pong))
			continue
		}
		if err := s.bus.Publish(convID, data); err != nil {
			wsLog.Warn().Err(err).Msg("failed to relay frame")
		}
	}
}

func (s *Server) announce(convID string, m *member, joined bool) {
	if !s.cfg.AnnouncePeers || m.identifier == "" {
		return
	}
	var env protocol.Envelope = protocol.NewUserLeft(m.identifier, "")
	if joined {
		env = protocol.NewUserJoined(m.identifier, "")
	}
	b, err := protocol.Encode(env)
	if err != nil {
		return
	}
	if err := s.bus.Publish(convID, b); err != nil {
		log.Warn().Err(err).Str("component", "relay").Str("conv_id", convID).Msg("failed to announce peer")
	}
}

// attach joins m to the conversation for convID, starting its bus reader
// on first use. The join happens under the server lock so an idle eviction
// never removes a conversation that just gained a member. The returned
// member, if any, is the stale socket m replaced.
func (s *Server) attach(convID string, m *member) (*conversation, *member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[convID]; ok {
		return conv, conv.room.Join(m), nil
	}

	conv := &conversation{id: convID}
	conv.room = NewRoom(convID, s.cfg.WriteTimeout, s.cfg.IdleTimeout, func() { s.evict(conv) })

	readCtx, cancel := context.WithCancel(context.Background())
	ch, err := s.bus.Subscribe(readCtx, convID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	conv.stopRead = cancel
	s.convs[convID] = conv
	stale := conv.room.Join(m)

	go func() {
		for msg := range ch {
			conv.room.Broadcast(msg.Payload)
			msg.Ack()
		}
		log.Debug().Str("component", "relay").Str("conv_id", convID).Msg("conversation reader stopped")
	}()
	log.Info().Str("component", "relay").Str("conv_id", convID).Str("topic", Topic(convID)).Msg("starting conversation reader")
	return conv, stale, nil
}

// evict drops conv if it is still registered and has no members.
func (s *Server) evict(conv *conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convs[conv.id] != conv || conv.room.Len() > 0 {
		return
	}
	delete(s.convs, conv.id)
	conv.stopRead()
	log.Info().Str("component", "relay").Str("conv_id", conv.id).Msg("conversation idle, evicted")
}

// Close drops every connection and stops all readers. The bus is left to the
// caller.
func (s *Server) Close() {
	s.mu.Lock()
	convs := s.convs
	s.convs = map[string]*conversation{}
	s.mu.Unlock()
	for _, conv := range convs {
		conv.room.Shutdown()
		conv.stopRead()
	}
}
