package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

type stubConn struct {
	frames   chan []byte
	closedCh chan struct{}
	once     sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newStubConn() *stubConn {
	return &stubConn{frames: make(chan []byte, 16), closedCh: make(chan struct{})}
}

func (s *stubConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-s.frames:
		return websocket.TextMessage, b, nil
	case <-s.closedCh:
		return 0, nil, errors.New("closed")
	}
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closedCh:
		return errors.New("closed")
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error { return nil }

func (s *stubConn) Close() error {
	s.once.Do(func() { close(s.closedCh) })
	return nil
}

func (s *stubConn) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

// stubDialer hands out connections in order; once exhausted every dial fails.
type stubDialer struct {
	mu      sync.Mutex
	conns   []*stubConn
	dials   int
	targets []Target
}

func (d *stubDialer) Dial(_ context.Context, t Target) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.targets = append(d.targets, t)
	if len(d.conns) == 0 {
		return nil, errors.New("refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastConfig(max int) Config {
	return Config{ReconnectInterval: 5 * time.Millisecond, MaxReconnectAttempts: max}
}

func TestConnectDeliversEnvelopesInOrderAndAnswersPing(t *testing.T) {
	conn := newStubConn()
	tr := NewWebSocket(&stubDialer{conns: []*stubConn{conn}}, fastConfig(3))
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1", Token: "t"}))
	require.Equal(t, StateOpen, tr.Status().State)

	var mu sync.Mutex
	var a, b []string
	unsubA := tr.Subscribe(func(env protocol.Envelope) {
		mu.Lock()
		a = append(a, env.(protocol.Message).Content)
		mu.Unlock()
	})
	tr.Subscribe(func(env protocol.Envelope) {
		mu.Lock()
		b = append(b, env.(protocol.Message).Content)
		mu.Unlock()
	})

	conn.frames <- []byte(`{"type":"message","identifier":"x","content":"1"}`)
	conn.frames <- []byte("ping")
	conn.frames <- []byte(`garbage`)
	conn.frames <- []byte(`{"type":"message","identifier":"x","content":"2"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(b) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"1", "2"}, a)
	require.Equal(t, []string{"1", "2"}, b)
	mu.Unlock()
	require.Equal(t, []string{"pong"}, conn.written())

	unsubA()
	conn.frames <- []byte(`{"type":"message","identifier":"x","content":"3"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(b) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Len(t, a, 2)
	mu.Unlock()
}

func TestConnectSameConversationIsNoop(t *testing.T) {
	d := &stubDialer{conns: []*stubConn{newStubConn(), newStubConn()}}
	tr := NewWebSocket(d, fastConfig(3))
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1"}))
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1"}))
	require.Equal(t, 1, d.dialCount())
}

func TestSwitchingConversationReplacesSocket(t *testing.T) {
	first, second := newStubConn(), newStubConn()
	d := &stubDialer{conns: []*stubConn{first, second}}
	tr := NewWebSocket(d, fastConfig(3))
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1"}))
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c2"}))

	require.Equal(t, 2, d.dialCount())
	require.Equal(t, "c2", tr.Status().ConversationID)
	select {
	case <-first.closedCh:
	default:
		t.Fatal("first socket was not closed")
	}
	// the deliberate close of the first socket must not trigger a reconnect
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 2, d.dialCount())
	require.Equal(t, StateOpen, tr.Status().State)
}

func TestSendRequiresOpenSocket(t *testing.T) {
	tr := NewWebSocket(&stubDialer{}, fastConfig(1))
	require.ErrorIs(t, tr.Send(protocol.NewMessage("a", "A", "hi")), ErrNotConnected)

	conn := newStubConn()
	tr = NewWebSocket(&stubDialer{conns: []*stubConn{conn}}, fastConfig(1))
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1"}))
	require.NoError(t, tr.Send(protocol.NewMessage("a", "A", "hi")))
	require.Len(t, conn.written(), 1)
	require.Equal(t, protocol.TypeMessage, protocol.Decode([]byte(conn.written()[0])).Kind())
}

func TestConnectFailureIsReturned(t *testing.T) {
	tr := NewWebSocket(&stubDialer{}, fastConfig(1))
	err := tr.Connect(context.Background(), Target{ConversationID: "c1"})
	require.Error(t, err)
	require.Equal(t, StateClosed, tr.Status().State)
	require.False(t, tr.Status().Terminal)

	require.ErrorIs(t, tr.Connect(context.Background(), Target{}), ErrMissingTarget)
}

func TestReconnectRecoversAfterUnexpectedClose(t *testing.T) {
	first, second := newStubConn(), newStubConn()
	d := &stubDialer{conns: []*stubConn{first, second}}
	tr := NewWebSocket(d, fastConfig(3))
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1", Token: "tok", ConnectionID: "conn-1"}))

	_ = first.Close()
	require.Eventually(t, func() bool {
		st := tr.Status()
		return st.State == StateOpen && d.dialCount() == 2
	}, time.Second, 5*time.Millisecond)

	d.mu.Lock()
	require.Equal(t, d.targets[0], d.targets[1])
	d.mu.Unlock()
	require.NoError(t, tr.Send(protocol.NewMessage("a", "A", "again")))
	require.Len(t, second.written(), 1)
}

func TestReconnectGivesUpAfterBoundedAttempts(t *testing.T) {
	const maxAttempts = 4
	first := newStubConn()
	d := &stubDialer{conns: []*stubConn{first}}
	tr := NewWebSocket(d, fastConfig(maxAttempts))

	var mu sync.Mutex
	var terminal []Status
	tr.OnStatus(func(s Status) {
		if s.Terminal {
			mu.Lock()
			terminal = append(terminal, s)
			mu.Unlock()
		}
	})
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1"}))
	_ = first.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(terminal) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// one initial dial plus exactly maxAttempts reconnection attempts
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1+maxAttempts, d.dialCount())
	st := tr.Status()
	require.Equal(t, StateClosed, st.State)
	require.True(t, st.Terminal)
	require.ErrorIs(t, st.Err, ErrReconnectExhausted)
	require.Equal(t, maxAttempts, st.ReconnectAttempt)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	first := newStubConn()
	d := &stubDialer{conns: []*stubConn{first}}
	tr := NewWebSocket(d, Config{ReconnectInterval: 50 * time.Millisecond, MaxReconnectAttempts: 3})
	require.NoError(t, tr.Connect(context.Background(), Target{ConversationID: "c1"}))

	_ = first.Close()
	require.Eventually(t, func() bool { return tr.Status().State == StateClosed }, time.Second, time.Millisecond)
	tr.Disconnect()

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 1, d.dialCount())
	require.False(t, tr.Status().Terminal)
}

func TestURLFor(t *testing.T) {
	u, err := URLFor("http://localhost:8080/", Target{ConversationID: "conv 1", Token: "abc", ConnectionID: "k"})
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/ws/conv%201?connection_id=k&token=abc", u)

	u, err = URLFor("wss://example.com/api", Target{ConversationID: "c"})
	require.NoError(t, err)
	require.Equal(t, "wss://example.com/api/ws/c", u)

	_, err = URLFor("ftp://x", Target{ConversationID: "c"})
	require.Error(t, err)
	_, err = URLFor("ws://x", Target{})
	require.ErrorIs(t, err, ErrMissingTarget)
}
