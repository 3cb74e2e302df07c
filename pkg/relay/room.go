package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// frameConn is the part of a websocket connection the room writes to.
type frameConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// member is one attached client socket.
type member struct {
	conn         frameConn
	identifier   string
	connectionID string
}

// Room holds the sockets of one conversation keyed by connection id. Writes
// happen under the room lock, so a socket never sees concurrent writers.
// A socket whose write fails is closed and its read loop detaches it.
type Room struct {
	convID       string
	writeTimeout time.Duration
	idleTimeout  time.Duration
	onIdle       func()

	mu      sync.Mutex
	members map[string]*member
	idle    *time.Timer
}

func NewRoom(convID string, writeTimeout, idleTimeout time.Duration, onIdle func()) *Room {
	return &Room{
		convID:       convID,
		writeTimeout: writeTimeout,
		idleTimeout:  idleTimeout,
		onIdle:       onIdle,
		members:      map[string]*member{},
	}
}

// Join attaches m. A member already holding the same connection id is
// returned after its socket is closed; the client reconnected and the
// old socket is stale.
func (r *Room) Join(m *member) *member {
	r.mu.Lock()
	stale := r.members[m.connectionID]
	r.members[m.connectionID] = m
	r.disarmLocked()
	r.mu.Unlock()
	if stale != nil && stale != m {
		_ = stale.conn.Close()
		return stale
	}
	return nil
}

// Leave detaches m and closes its socket. It reports whether m was the
// member registered under its connection id.
func (r *Room) Leave(m *member) bool {
	r.mu.Lock()
	current := r.members[m.connectionID] == m
	if current {
		delete(r.members, m.connectionID)
	}
	r.armLocked()
	r.mu.Unlock()
	_ = m.conn.Close()
	return current
}

// Broadcast writes data to every member, the sender included.
func (r *Room) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		r.deliverLocked(m, data)
	}
}

// SendTo writes data to the member holding connectionID. It reports whether
// such a member was attached.
func (r *Room) SendTo(connectionID string, data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connectionID]
	if !ok {
		return false
	}
	r.deliverLocked(m, data)
	return true
}

func (r *Room) deliverLocked(m *member, data []byte) {
	if r.writeTimeout > 0 {
		_ = m.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).
			Str("component", "relay").
			Str("conv_id", r.convID).
			Str("connection_id", m.connectionID).
			Msg("write to member failed, closing its socket")
		_ = m.conn.Close()
	}
}

// Identifiers lists the identifiers of the attached members, sorted.
func (r *Room) Identifiers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]string, 0, len(r.members))
	for _, m := range r.members {
		ret = append(ret, m.identifier)
	}
	sort.Strings(ret)
	return ret
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Shutdown closes every socket and cancels a pending idle callback.
func (r *Room) Shutdown() {
	r.mu.Lock()
	members := r.members
	r.members = map[string]*member{}
	r.disarmLocked()
	r.mu.Unlock()
	for _, m := range members {
		_ = m.conn.Close()
	}
}

func (r *Room) disarmLocked() {
	if r.idle != nil {
		r.idle.Stop()
		r.idle = nil
	}
}

func (r *Room) armLocked() {
	if len(r.members) > 0 || r.idleTimeout <= 0 || r.onIdle == nil || r.idle != nil {
		return
	}
	r.idle = time.AfterFunc(r.idleTimeout, func() {
		r.mu.Lock()
		r.idle = nil
		r.mu.Unlock()
		r.onIdle()
	})
}
