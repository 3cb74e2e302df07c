package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

type handlerEntry struct {
	id int
	h  Handler
}

type statusEntry struct {
	id int
	f  func(Status)
}

// WebSocket is the socket-backed Transport. One instance owns at most one
// physical connection; callers share the instance instead of dialing their own.
type WebSocket struct {
	dialer Dialer
	cfg    Config

	mu     sync.Mutex
	conn   Conn
	target Target
	status Status
	// gen changes on every explicit Connect/Disconnect so read loops and
	// reconnect loops belonging to a replaced connection become inert.
	gen             uint64
	cancelReconnect context.CancelFunc

	writeMu sync.Mutex

	subsMu    sync.RWMutex
	nextSubID int
	handlers  []handlerEntry
	statusFns []statusEntry
}

var _ Transport = (*WebSocket)(nil)

func NewWebSocket(dialer Dialer, cfg Config) *WebSocket {
	return &WebSocket{
		dialer: dialer,
		cfg:    cfg.normalized(),
		status: Status{State: StateClosed},
	}
}

func (w *WebSocket) logger() *zerolog.Logger {
	w.mu.Lock()
	t := w.target
	w.mu.Unlock()
	l := log.With().
		Str("component", "transport").
		Str("conv_id", t.ConversationID).
		Str("connection_id", t.ConnectionID).
		Logger()
	return &l
}

// Connect opens the socket for target and returns once it is Open. Connecting
// to the conversation that is already Open is a no-op; connecting to a
// different one tears the current socket down first.
func (w *WebSocket) Connect(ctx context.Context, target Target) error {
	if w == nil || w.dialer == nil {
		return errors.New("transport is not initialized")
	}
	if target.ConversationID == "" {
		return ErrMissingTarget
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.Lock()
	if w.status.State == StateOpen && w.target.ConversationID == target.ConversationID {
		w.mu.Unlock()
		return nil
	}
	if w.conn != nil || w.cancelReconnect != nil {
		log.Info().Str("component", "transport").
			Str("from_conv_id", w.target.ConversationID).
			Str("to_conv_id", target.ConversationID).
			Msg("switching conversation, closing current socket")
	}
	w.teardownLocked()
	w.gen++
	gen := w.gen
	w.target = target
	st := w.setStatusLocked(Status{State: StateConnecting})
	w.mu.Unlock()
	w.emitStatus(st)

	conn, err := w.dialer.Dial(ctx, target)

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		st = w.setStatusLocked(Status{State: StateClosed, Err: err})
		w.mu.Unlock()
		w.emitStatus(st)
		return errors.Wrap(err, "connect")
	}
	w.conn = conn
	st = w.setStatusLocked(Status{State: StateOpen})
	w.mu.Unlock()

	w.logger().Info().Msg("socket open")
	w.emitStatus(st)
	go w.readLoop(conn, gen)
	return nil
}

// Disconnect closes the socket and cancels any pending reconnection.
func (w *WebSocket) Disconnect() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.conn == nil && w.cancelReconnect == nil && w.status.State == StateClosed {
		w.mu.Unlock()
		return
	}
	w.gen++
	closing := w.setStatusLocked(Status{State: StateClosing})
	w.teardownLocked()
	closed := w.setStatusLocked(Status{State: StateClosed})
	w.mu.Unlock()

	w.emitStatus(closing)
	w.emitStatus(closed)
	w.logger().Info().Msg("socket closed by caller")
}

func (w *WebSocket) teardownLocked() {
	if w.cancelReconnect != nil {
		w.cancelReconnect()
		w.cancelReconnect = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

func (w *WebSocket) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *WebSocket) Send(env protocol.Envelope) error {
	b, err := protocol.Encode(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	return w.SendRaw(b)
}

func (w *WebSocket) SendRaw(data []byte) error {
	w.mu.Lock()
	conn := w.conn
	open := w.status.State == StateOpen
	w.mu.Unlock()
	if conn == nil || !open {
		return ErrNotConnected
	}
	return w.write(conn, data)
}

func (w *WebSocket) write(conn Conn, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.logger().Warn().Err(err).Msg("socket write failed")
		return errors.Wrap(err, "write")
	}
	return nil
}

func (w *WebSocket) Subscribe(h Handler) func() {
	if h == nil {
		return func() {}
	}
	w.subsMu.Lock()
	w.nextSubID++
	id := w.nextSubID
	w.handlers = append(w.handlers, handlerEntry{id: id, h: h})
	w.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.subsMu.Lock()
			defer w.subsMu.Unlock()
			for i, e := range w.handlers {
				if e.id == id {
					w.handlers = append(w.handlers[:i:i], w.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

func (w *WebSocket) OnStatus(f func(Status)) func() {
	if f == nil {
		return func() {}
	}
	w.subsMu.Lock()
	w.nextSubID++
	id := w.nextSubID
	w.statusFns = append(w.statusFns, statusEntry{id: id, f: f})
	w.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.subsMu.Lock()
			defer w.subsMu.Unlock()
			for i, e := range w.statusFns {
				if e.id == id {
					w.statusFns = append(w.statusFns[:i:i], w.statusFns[i+1:]...)
					return
				}
			}
		})
	}
}

func (w *WebSocket) setStatusLocked(s Status) Status {
	s.ConversationID = w.target.ConversationID
	s.ConnectionID = w.target.ConnectionID
	w.status = s
	return s
}

func (w *WebSocket) emitStatus(s Status) {
	w.subsMu.RLock()
	fns := make([]func(Status), 0, len(w.statusFns))
	for _, e := range w.statusFns {
		fns = append(fns, e.f)
	}
	w.subsMu.RUnlock()
	for _, f := range fns {
		f(s)
	}
}

func (w *WebSocket) dispatch(env protocol.Envelope) {
	w.subsMu.RLock()
	hs := make([]Handler, 0, len(w.handlers))
	for _, e := range w.handlers {
		hs = append(hs, e.h)
	}
	w.subsMu.RUnlock()
	for _, h := range hs {
		h(env)
	}
}

func (w *WebSocket) readLoop(conn Conn, gen uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			w.handleClose(conn, gen, err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if protocol.IsPing(data) {
			if err := w.write(conn, []byte(protocol.Pong)); err != nil {
				w.logger().Debug().Err(err).Msg("pong failed")
			}
			continue
		}
		env := protocol.Decode(data)
		if env == nil {
			continue
		}
		w.dispatch(env)
	}
}

func (w *WebSocket) handleClose(conn Conn, gen uint64, cause error) {
	w.mu.Lock()
	if gen != w.gen || w.conn != conn {
		// replaced or closed on purpose
		w.mu.Unlock()
		return
	}
	_ = conn.Close()
	w.conn = nil
	ctx, cancel := context.WithCancel(context.Background())
	w.cancelReconnect = cancel
	target := w.target
	st := w.setStatusLocked(Status{State: StateClosed, Err: cause})
	w.mu.Unlock()

	w.logger().Warn().Err(cause).Msg("socket closed unexpectedly, scheduling reconnect")
	w.emitStatus(st)
	go w.reconnectLoop(ctx, gen, target)
}

// reconnectLoop waits a constant interval before every attempt and stops
// after MaxReconnectAttempts consecutive failures.
func (w *WebSocket) reconnectLoop(ctx context.Context, gen uint64, target Target) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.ReconnectInterval), uint64(w.cfg.MaxReconnectAttempts)),
		ctx,
	)
	policy.Reset()

	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		w.mu.Lock()
		if gen != w.gen {
			w.mu.Unlock()
			return
		}
		st := w.setStatusLocked(Status{State: StateConnecting, ReconnectAttempt: attempt})
		w.mu.Unlock()
		w.emitStatus(st)

		conn, err := w.dialer.Dial(ctx, target)

		w.mu.Lock()
		if gen != w.gen || ctx.Err() != nil {
			w.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			st = w.setStatusLocked(Status{State: StateClosed, ReconnectAttempt: attempt, Err: err})
			w.mu.Unlock()
			w.logger().Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			w.emitStatus(st)
			continue
		}
		w.conn = conn
		w.cancelReconnect = nil
		st = w.setStatusLocked(Status{State: StateOpen})
		w.mu.Unlock()

		w.logger().Info().Int("attempt", attempt).Msg("socket reopened")
		w.emitStatus(st)
		go w.readLoop(conn, gen)
		return
	}

	w.mu.Lock()
	if gen != w.gen || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.cancelReconnect = nil
	st := w.setStatusLocked(Status{
		State:            StateClosed,
		ReconnectAttempt: w.cfg.MaxReconnectAttempts,
		Terminal:         true,
		Err:              ErrReconnectExhausted,
	})
	w.mu.Unlock()

	w.logger().Error().Int("attempts", w.cfg.MaxReconnectAttempts).Msg("giving up on reconnection")
	w.emitStatus(st)
}
