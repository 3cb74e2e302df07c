package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

func tok(id, text string) protocol.Token {
	return protocol.Token{Header: protocol.Header{Type: protocol.TypeToken, Identifier: id, Timestamp: "2024-01-01T00:00:00Z"}, Token: text}
}

func stop(id, ts string) protocol.TypingStatus {
	return protocol.TypingStatus{Header: protocol.Header{Type: protocol.TypeTypingStatus, Identifier: id, Timestamp: ts}}
}

type sink struct {
	finished  []protocol.Message
	updates   []State
	discarded []string
}

func newTestAggregator(s *sink) *Aggregator {
	return NewAggregator(
		WithOnFinish(func(m protocol.Message) { s.finished = append(s.finished, m) }),
		WithOnUpdate(func(st State) { s.updates = append(s.updates, st) }),
		WithOnDiscard(func(id string) { s.discarded = append(s.discarded, id) }),
	)
}

func TestStreamingThenFinalizeEqualsDirectMessage(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)

	a.ApplyToken(tok("LAWYER", "Hel"))
	a.ApplyToken(tok("LAWYER", "lo"))
	require.Len(t, s.updates, 2)
	require.Equal(t, "Hello", s.updates[1].Tokens)
	require.True(t, s.updates[1].Active)

	a.ApplyTyping(stop("LAWYER", "2024-01-01T00:00:09Z"))
	require.Len(t, s.finished, 1)

	direct := protocol.Message{
		Header:    protocol.Header{Type: protocol.TypeMessage, Identifier: "LAWYER", Timestamp: "2024-01-01T00:00:09Z"},
		Content:   "Hello",
		MessageID: s.finished[0].MessageID,
	}
	require.Equal(t, direct, s.finished[0])
	_, ok := a.Stream("LAWYER")
	require.False(t, ok)
}

func TestDoneMarkerFinalizes(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	a.ApplyToken(tok("DOCTOR", "Take "))
	end := tok("DOCTOR", "rest.")
	end.Done = true
	end.Timestamp = "2024-01-01T00:01:00Z"
	a.ApplyToken(end)

	require.Len(t, s.finished, 1)
	require.Equal(t, "Take rest.", s.finished[0].Content)
	require.Equal(t, "2024-01-01T00:01:00Z", s.finished[0].Timestamp)
	require.Empty(t, a.Streams())
}

func TestFullMessageSupersedesStream(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	a.ApplyToken(tok("LAWYER", "partial"))

	require.True(t, a.ApplyMessage(protocol.Message{Header: protocol.Header{Identifier: "LAWYER"}, Content: "full answer"}))
	require.Empty(t, s.finished, "stream is discarded unseen")
	require.Equal(t, []string{"LAWYER"}, s.discarded)

	// a late terminal signal must not emit a duplicate
	a.ApplyTyping(stop("LAWYER", "t"))
	require.Empty(t, s.finished)
	require.False(t, a.ApplyMessage(protocol.Message{Header: protocol.Header{Identifier: "LAWYER"}}))
}

func TestModeratorCompletionClearsAllStreams(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	a.ApplyToken(tok("LAWYER", "a"))
	a.ApplyToken(tok("DOCTOR", "b"))
	require.Len(t, a.Streams(), 2)

	a.ApplyMessage(protocol.Message{Header: protocol.Header{Identifier: "MODERATOR"}, Content: "summary"})
	a.ApplyTyping(stop("MODERATOR", "t"))

	_, ok := a.Stream("LAWYER")
	require.False(t, ok)
	_, ok = a.Stream("DOCTOR")
	require.False(t, ok)
	require.Empty(t, s.finished)
	require.ElementsMatch(t, []string{"LAWYER", "DOCTOR"}, s.discarded)
}

func TestModeratorStreamEndClearsOthers(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	a.ApplyToken(tok("LAWYER", "a"))
	a.ApplyToken(tok("MODERATOR", "sum"))
	a.ApplyTyping(stop("MODERATOR", "t"))

	require.Len(t, s.finished, 1)
	require.Equal(t, "MODERATOR", s.finished[0].Identifier)
	require.Empty(t, a.Streams())
}

func TestTokenWithoutStartStartsLazily(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	mid := tok("AGENT", "middle of")
	mid.MessageID = "m-42"
	a.ApplyToken(mid)

	st, ok := a.Stream("AGENT")
	require.True(t, ok)
	require.Equal(t, "middle of", st.Tokens)
	require.Equal(t, "m-42", st.MessageID)
}

func TestNewStreamAfterFinishDoesNotTouchPrevious(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	a.ApplyToken(tok("A", "one"))
	a.ApplyTyping(stop("A", "t1"))
	a.ApplyToken(tok("A", "two"))
	a.ApplyTyping(stop("A", "t2"))

	require.Len(t, s.finished, 2)
	require.Equal(t, "one", s.finished[0].Content)
	require.Equal(t, "two", s.finished[1].Content)
	require.NotEqual(t, s.finished[0].MessageID, s.finished[1].MessageID)
}

func TestTypingFalseWithoutStreamIsNoop(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	a.ApplyTyping(stop("A", "t"))
	a.ApplyTyping(protocol.TypingStatus{Header: protocol.Header{Identifier: "A"}, IsTyping: true})
	require.Empty(t, s.finished)
	require.Empty(t, s.discarded)
}

func TestReset(t *testing.T) {
	s := &sink{}
	a := newTestAggregator(s)
	a.ApplyToken(tok("A", "x"))
	a.Reset()
	require.Empty(t, a.Streams())
	require.Equal(t, []string{"A"}, s.discarded)
}
