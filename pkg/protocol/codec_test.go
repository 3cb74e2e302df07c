package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeDropsControlAndMalformedFrames(t *testing.T) {
	for _, raw := range []string{
		"ping",
		"  PING ",
		"",
		"not json",
		`{"identifier":"a"}`,
		`{"type":"unknown","identifier":"a"}`,
		`{"type":"typing_status","is_typing":"yes"}`,
		`[1,2,3]`,
	} {
		require.Nil(t, Decode([]byte(raw)), "frame %q", raw)
	}
}

func TestIsPing(t *testing.T) {
	require.True(t, IsPing([]byte("ping")))
	require.True(t, IsPing([]byte(" ping\n")))
	require.False(t, IsPing([]byte(`{"type":"ping"}`)))
}

func TestDecodeVariants(t *testing.T) {
	env := Decode([]byte(`{"type":"token","identifier":"LAWYER","timestamp":"2024-01-02T03:04:05Z","token":"Hel","agent_type":"LAWYER"}`))
	tok, ok := env.(Token)
	require.True(t, ok)
	require.Equal(t, "Hel", tok.Token)
	require.Equal(t, "LAWYER", tok.Identifier)
	require.False(t, tok.Done)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), tok.Meta().Time())

	env = Decode([]byte(`{"type":"editor_change","identifier":"x@example.com","file_name":"notes.txt","content":"ab","sender":{"email":"X@example.com"}}`))
	change, ok := env.(EditorChange)
	require.True(t, ok)
	require.Equal(t, "notes.txt", change.FileName)
	require.Equal(t, "X@example.com", change.Sender.Email)

	env = Decode([]byte(`{"type":"set_privacy","identifier":"x","is_private":true}`))
	require.Equal(t, TypeSetPrivacy, env.Kind())
	require.True(t, env.(SetPrivacy).IsPrivate)
}

func TestEncodeStampsType(t *testing.T) {
	msg := Message{Header: Header{Identifier: "a@example.com"}, Content: "hi"}
	b, err := Encode(msg)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, "message", m["type"])
	require.Equal(t, "hi", m["content"])
	require.Equal(t, "a@example.com", m["identifier"])

	back := Decode(b)
	require.Equal(t, TypeMessage, back.Kind())
	require.Equal(t, "hi", back.(Message).Content)

	_, err = Encode(nil)
	require.ErrorIs(t, err, ErrNilEnvelope)
}

func TestConstructorsStampTimestamps(t *testing.T) {
	typing := NewTyping("a@example.com", "A", true)
	require.Equal(t, TypeTypingStatus, typing.Type)
	require.False(t, typing.Meta().Time().IsZero())

	change := NewEditorChange(Sender{Email: "a@example.com"}, "s1", "main.go", "package main", "go")
	require.Equal(t, "a@example.com", change.Identifier)
	sender, ok := SenderOf(change)
	require.True(t, ok)
	require.Equal(t, "a@example.com", sender.Email)

	_, ok = SenderOf(NewMessage("a", "A", "hi"))
	require.False(t, ok)
}

func TestHeaderTimeToleratesGarbage(t *testing.T) {
	require.True(t, Header{Timestamp: "yesterday"}.Time().IsZero())
	require.True(t, Header{}.Time().IsZero())
}
