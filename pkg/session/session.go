package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/huddle/pkg/authstore"
	"github.com/go-go-golems/huddle/pkg/docsync"
	"github.com/go-go-golems/huddle/pkg/presence"
	"github.com/go-go-golems/huddle/pkg/protocol"
	"github.com/go-go-golems/huddle/pkg/streaming"
	"github.com/go-go-golems/huddle/pkg/transport"
)

// DefaultBatchWindow is one display frame.
const DefaultBatchWindow = 16 * time.Millisecond

var (
	ErrNoCredentials = errors.New("no credentials for conversation")
	ErrNotJoined     = errors.New("session has not joined a conversation")
)

type Config struct {
	Presence    presence.Config
	Moderator   string
	BatchWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Presence:    presence.DefaultConfig(),
		Moderator:   streaming.DefaultModerator,
		BatchWindow: DefaultBatchWindow,
	}
}

// joined holds the per-conversation components, rebuilt on every Connect to
// a new conversation.
type joined struct {
	conversationID string
	creds          authstore.Credentials
	tracker        *presence.Tracker
	notifier       *presence.Notifier
	sync           *docsync.Synchronizer
	stopSweep      context.CancelFunc
}

// Session is the single object an application talks to. It owns no socket
// itself; the Transport is injected.
type Session struct {
	tr    transport.Transport
	auth  authstore.Store
	cfg   Config
	agg   *streaming.Aggregator
	unsub []func()

	mu  sync.Mutex
	cur *joined

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	batchMu    sync.Mutex
	pending    []protocol.Message
	batchTimer *time.Timer
}

func New(tr transport.Transport, auth authstore.Store, cfg Config) *Session {
	if cfg.BatchWindow < 0 {
		cfg.BatchWindow = 0
	}
	s := &Session{
		tr:        tr,
		auth:      auth,
		cfg:       cfg,
		listeners: map[int]Listener{},
	}
	moderator := cfg.Moderator
	if moderator == "" {
		moderator = streaming.DefaultModerator
	}
	s.agg = streaming.NewAggregator(
		streaming.WithModerator(moderator),
		streaming.WithOnUpdate(func(st streaming.State) {
			s.each(func(l Listener) { l.OnStreamUpdate(st) })
		}),
		streaming.WithOnFinish(s.enqueue),
		streaming.WithOnDiscard(func(id string) {
			s.each(func(l Listener) { l.OnStreamDiscarded(id) })
		}),
	)
	s.unsub = append(s.unsub,
		tr.Subscribe(s.dispatch),
		tr.OnStatus(s.onStatus),
	)
	return s
}

func (s *Session) logger() *zerolog.Logger {
	s.mu.Lock()
	conv := ""
	if s.cur != nil {
		conv = s.cur.conversationID
	}
	s.mu.Unlock()
	l := log.With().Str("component", "session").Str("conv_id", conv).Logger()
	return &l
}

// Subscribe registers l and returns a function that removes it.
func (s *Session) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) each(f func(Listener)) {
	s.listenersMu.Lock()
	// registration order
	ls := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	s.listenersMu.Unlock()
	for _, l := range ls {
		f(l)
	}
}

// Connect joins conversationID with the credentials the auth store holds for
// it. Connecting to the conversation already joined is a no-op.
func (s *Session) Connect(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return transport.ErrMissingTarget
	}
	creds, ok := s.auth.Lookup(conversationID)
	if !ok {
		return errors.Wrap(ErrNoCredentials, conversationID)
	}

	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur != nil && cur.conversationID == conversationID && s.tr.Status().State == transport.StateOpen {
		return nil
	}
	if cur != nil {
		s.leave()
	}

	self := creds.Identifier()
	j := &joined{conversationID: conversationID, creds: creds}
	j.tracker = presence.NewTracker(self, s.cfg.Presence, presence.WithOnChange(func(typers []presence.Typer) {
		s.each(func(l Listener) { l.OnTyping(typers) })
	}))
	j.notifier = presence.NewNotifier(func(isTyping bool) error {
		return s.tr.Send(protocol.NewTyping(self, creds.Name, isTyping))
	}, s.cfg.Presence)
	j.sync = docsync.NewSynchronizer(creds.Sender(), conversationID)
	sweepCtx, cancel := context.WithCancel(context.Background())
	j.stopSweep = cancel
	go j.tracker.Run(sweepCtx)

	s.mu.Lock()
	s.cur = j
	s.mu.Unlock()

	err := s.tr.Connect(ctx, transport.Target{
		ConversationID: conversationID,
		Token:          creds.Token,
		ConnectionID:   uuid.NewString(),
		Identifier:     self,
	})
	if err != nil {
		s.mu.Lock()
		if s.cur == j {
			s.cur = nil
		}
		s.mu.Unlock()
		cancel()
		j.notifier.Close()
		return err
	}
	s.logger().Info().Str("identifier", self).Msg("joined conversation")
	return nil
}

// Disconnect closes the socket, cancels reconnection and clears streaming
// and presence state. Auto-save is not affected.
func (s *Session) Disconnect() {
	s.tr.Disconnect()
	s.leave()
	s.Flush()
}

func (s *Session) leave() {
	s.mu.Lock()
	j := s.cur
	s.cur = nil
	s.mu.Unlock()

	s.agg.Reset()
	if j == nil {
		return
	}
	j.stopSweep()
	j.notifier.Close()
	j.tracker.Clear()
}

// Close disconnects and detaches from the transport.
func (s *Session) Close() {
	s.Disconnect()
	for _, u := range s.unsub {
		u()
	}
	s.unsub = nil
}

func (s *Session) current() (*joined, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil, ErrNotJoined
	}
	return s.cur, nil
}

func (s *Session) Status() transport.Status {
	return s.tr.Status()
}

// Streams returns the in-flight agent streams.
func (s *Session) Streams() []streaming.State {
	return s.agg.Streams()
}

// Typers returns who is currently typing.
func (s *Session) Typers() []presence.Typer {
	j, err := s.current()
	if err != nil {
		return nil
	}
	return j.tracker.Typers()
}

// Synchronizer returns the document synchronizer of the joined conversation.
func (s *Session) Synchronizer() (*docsync.Synchronizer, error) {
	j, err := s.current()
	if err != nil {
		return nil, err
	}
	return j.sync, nil
}

func (s *Session) SendMessage(content string) error {
	j, err := s.current()
	if err != nil {
		return err
	}
	j.notifier.Stop()
	return s.tr.Send(protocol.NewMessage(j.creds.Identifier(), j.creds.Name, content))
}

// Typing reports a local keystroke.
func (s *Session) Typing() {
	if j, err := s.current(); err == nil {
		j.notifier.Keystroke()
	}
}

func (s *Session) StopTyping() {
	if j, err := s.current(); err == nil {
		j.notifier.Stop()
	}
}

// SendEdit broadcasts a local content change. It reports false without
// sending when a remote edit to the same file is being applied, since the
// change is then that remote edit.
func (s *Session) SendEdit(fileName, content string) (bool, error) {
	j, err := s.current()
	if err != nil {
		return false, err
	}
	env, ok := j.sync.ApplyLocalEdit(fileName, content)
	if !ok {
		return false, nil
	}
	return true, s.tr.Send(env)
}

func (s *Session) OpenFile(tab docsync.Tab) error {
	j, err := s.current()
	if err != nil {
		return err
	}
	return s.tr.Send(j.sync.OpenLocal(tab))
}

func (s *Session) CloseFile(fileName string) error {
	j, err := s.current()
	if err != nil {
		return err
	}
	return s.tr.Send(j.sync.CloseLocal(fileName))
}

func (s *Session) dispatch(env protocol.Envelope) {
	s.mu.Lock()
	j := s.cur
	s.mu.Unlock()
	if j == nil {
		return
	}

	switch e := env.(type) {
	case protocol.TypingStatus:
		j.tracker.Apply(e)
		s.agg.ApplyTyping(e)
	case protocol.Token:
		s.agg.ApplyToken(e)
	case protocol.Message:
		s.agg.ApplyMessage(e)
		s.enqueue(e)
	case protocol.EditorOpen, protocol.EditorChange, protocol.EditorClose:
		j.sync.ApplyRemote(env, func(p docsync.Proposal) {
			s.each(func(l Listener) { l.OnEditorProposal(p) })
		})
	case protocol.UserJoined, protocol.UserLeft, protocol.Read, protocol.SetPrivacy:
		s.each(func(l Listener) { l.OnParticipantEvent(env) })
	default:
		s.logger().Debug().Str("type", string(env.Kind())).Msg("unhandled envelope")
	}
}

func (s *Session) onStatus(st transport.Status) {
	if st.Terminal {
		s.logger().Warn().Err(st.Err).Msg("connection lost")
	}
	s.each(func(l Listener) { l.OnStatus(st) })
}

func (s *Session) enqueue(m protocol.Message) {
	if s.cfg.BatchWindow == 0 {
		s.each(func(l Listener) { l.OnMessages([]protocol.Message{m}) })
		return
	}
	s.batchMu.Lock()
	s.pending = append(s.pending, m)
	if s.batchTimer == nil {
		s.batchTimer = time.AfterFunc(s.cfg.BatchWindow, s.Flush)
	}
	s.batchMu.Unlock()
}

// Flush delivers queued messages now, in arrival order.
func (s *Session) Flush() {
	s.batchMu.Lock()
	batch := s.pending
	s.pending = nil
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	s.batchMu.Unlock()
	if len(batch) == 0 {
		return
	}
	s.each(func(l Listener) { l.OnMessages(batch) })
}
