package streaming

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

// DefaultModerator is the agent whose completion closes out a multi-agent round.
const DefaultModerator = "MODERATOR"

// State is the provisional message an agent is building.
type State struct {
	Identifier string
	Name       string
	AgentType  string
	MessageID  string
	Tokens     string
	Active     bool
	StartedAt  string
}

// Aggregator keeps one append-only buffer per agent while tokens arrive and
// seals it into a finished message on a terminal signal. It never fails:
// tokens without a running stream lazily start one.
type Aggregator struct {
	moderator string

	mu      sync.Mutex
	streams map[string]*State

	onUpdate  func(State)
	onFinish  func(protocol.Message)
	onDiscard func(identifier string)
}

type Option func(*Aggregator)

func WithModerator(identifier string) Option {
	return func(a *Aggregator) {
		a.moderator = strings.TrimSpace(identifier)
	}
}

// WithOnUpdate is called with a snapshot after every appended token.
func WithOnUpdate(f func(State)) Option {
	return func(a *Aggregator) { a.onUpdate = f }
}

// WithOnFinish is called with the sealed message.
func WithOnFinish(f func(protocol.Message)) Option {
	return func(a *Aggregator) { a.onFinish = f }
}

// WithOnDiscard is called when a provisional message is dropped unseen.
func WithOnDiscard(f func(identifier string)) Option {
	return func(a *Aggregator) { a.onDiscard = f }
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		moderator: DefaultModerator,
		streams:   map[string]*State{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) isModerator(identifier string) bool {
	return a.moderator != "" && strings.EqualFold(identifier, a.moderator)
}

// outcome collects callbacks to run after the lock is released.
type outcome struct {
	update    *State
	finished  *protocol.Message
	discarded []string
}

func (a *Aggregator) fire(o outcome) {
	if o.update != nil && a.onUpdate != nil {
		a.onUpdate(*o.update)
	}
	if o.finished != nil && a.onFinish != nil {
		a.onFinish(*o.finished)
	}
	if a.onDiscard != nil {
		for _, id := range o.discarded {
			a.onDiscard(id)
		}
	}
}

// ApplyToken appends tok to its agent's stream, starting one if needed. A
// token carrying the end marker finalizes the stream.
func (a *Aggregator) ApplyToken(tok protocol.Token) {
	id := strings.TrimSpace(tok.Identifier)
	if id == "" {
		return
	}
	var o outcome

	a.mu.Lock()
	st, ok := a.streams[id]
	if !ok || !st.Active {
		msgID := tok.MessageID
		if msgID == "" {
			msgID = uuid.NewString()
		}
		st = &State{
			Identifier: id,
			MessageID:  msgID,
			Active:     true,
			StartedAt:  tok.Timestamp,
		}
		a.streams[id] = st
		log.Debug().Str("component", "streaming").Str("identifier", id).Str("message_id", msgID).Msg("stream started")
	}
	if st.Name == "" {
		st.Name = tok.Name
	}
	if st.AgentType == "" {
		st.AgentType = tok.AgentType
	}
	st.Tokens += tok.Token

	if tok.Done {
		o.finished = a.finalizeLocked(id, tok.Header)
		if a.isModerator(id) {
			o.discarded = a.clearAllLocked()
		}
	} else {
		snap := *st
		o.update = &snap
	}
	a.mu.Unlock()

	a.fire(o)
}

// ApplyTyping treats is_typing=false as the terminal signal of a running
// stream. The moderator's terminal signal clears every stream.
func (a *Aggregator) ApplyTyping(ts protocol.TypingStatus) {
	if ts.IsTyping {
		return
	}
	id := strings.TrimSpace(ts.Identifier)
	var o outcome

	a.mu.Lock()
	if st, ok := a.streams[id]; ok && st.Active {
		if st.Tokens != "" {
			o.finished = a.finalizeLocked(id, ts.Header)
		} else {
			delete(a.streams, id)
			o.discarded = append(o.discarded, id)
		}
	}
	if a.isModerator(id) {
		o.discarded = append(o.discarded, a.clearAllLocked()...)
	}
	a.mu.Unlock()

	a.fire(o)
}

// ApplyMessage handles a complete message from an agent. The full message is
// authoritative: a running stream for the same agent is discarded unseen and
// ApplyMessage reports true.
func (a *Aggregator) ApplyMessage(msg protocol.Message) bool {
	id := strings.TrimSpace(msg.Identifier)
	var o outcome

	a.mu.Lock()
	st, superseded := a.streams[id]
	superseded = superseded && st.Active
	if superseded {
		delete(a.streams, id)
		o.discarded = append(o.discarded, id)
	}
	a.mu.Unlock()

	if superseded {
		log.Debug().Str("component", "streaming").Str("identifier", id).Msg("stream superseded by full message")
	}
	a.fire(o)
	return superseded
}

func (a *Aggregator) finalizeLocked(id string, terminal protocol.Header) *protocol.Message {
	st := a.streams[id]
	delete(a.streams, id)
	if st == nil {
		return nil
	}
	msg := protocol.Message{
		Header: protocol.Header{
			Type:       protocol.TypeMessage,
			Identifier: id,
			Timestamp:  terminal.Timestamp,
		},
		Content:   st.Tokens,
		Name:      st.Name,
		AgentType: st.AgentType,
		MessageID: st.MessageID,
	}
	log.Debug().Str("component", "streaming").Str("identifier", id).Int("length", len(st.Tokens)).Msg("stream finalized")
	return &msg
}

func (a *Aggregator) clearAllLocked() []string {
	if len(a.streams) == 0 {
		return nil
	}
	ids := make([]string, 0, len(a.streams))
	for id := range a.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	a.streams = map[string]*State{}
	return ids
}

// Stream returns a snapshot of one agent's stream.
func (a *Aggregator) Stream(identifier string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.streams[strings.TrimSpace(identifier)]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Streams returns snapshots of all active streams ordered by identifier.
func (a *Aggregator) Streams() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]State, 0, len(a.streams))
	for _, st := range a.streams {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Reset drops all in-flight streams without emitting them.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	ids := a.clearAllLocked()
	a.mu.Unlock()
	a.fire(outcome{discarded: ids})
}
