package docsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

var (
	alice = protocol.Sender{Email: "alice@example.com", Name: "Alice"}
	bob   = protocol.Sender{Email: "bob@example.com", Name: "Bob"}
)

func change(sender protocol.Sender, file, content string) protocol.EditorChange {
	return protocol.NewEditorChange(sender, "s1", file, content, "text")
}

func TestSelfEditsAreAlwaysFiltered(t *testing.T) {
	s := NewSynchronizer(alice, "conv")
	for _, content := range []string{"", "x", "a much longer buffer\nwith lines"} {
		shouted := protocol.Sender{Email: "ALICE@Example.com"}
		require.Nil(t, s.ApplyRemoteEnvelope(change(shouted, "notes.txt", content)))
		require.Nil(t, s.ApplyRemoteEnvelope(protocol.NewEditorOpen(alice, "s1", "notes.txt", content, "text")))
	}
	require.Nil(t, s.ApplyRemoteEnvelope(protocol.NewEditorClose(alice, "s1", "notes.txt")))
}

func TestOpaqueIDTakesPrecedenceOverEmail(t *testing.T) {
	self := protocol.Sender{ID: "p-1", Email: "shared@example.com"}
	s := NewSynchronizer(self, "conv")

	other := protocol.Sender{ID: "p-2", Email: "shared@example.com"}
	require.NotNil(t, s.ApplyRemoteEnvelope(change(other, "f", "x")))

	// without an id on the wire, email is all we have
	require.Nil(t, s.ApplyRemoteEnvelope(change(protocol.Sender{Email: "shared@example.com"}, "f", "x")))
}

func TestLastWriteWins(t *testing.T) {
	a := change(bob, "notes.txt", "version A")
	b := change(bob, "notes.txt", "version B")

	for _, tc := range []struct {
		name  string
		order []protocol.EditorChange
		want  string
	}{
		{"A then B", []protocol.EditorChange{a, b}, "version B"},
		{"B then A", []protocol.EditorChange{b, a}, "version A"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSynchronizer(alice, "conv")
			tabs := NewTabSet(Tab{FileName: "notes.txt", Content: "start"})
			for _, env := range tc.order {
				require.True(t, s.ApplyRemote(env, func(p Proposal) { tabs.Apply(p) }))
			}
			tab, ok := tabs.Tab("notes.txt")
			require.True(t, ok)
			require.Equal(t, tc.want, tab.Content)
			require.Equal(t, "bob@example.com", tab.LastEditBy)
		})
	}
}

func TestEchoLoopLeavesBufferUntouched(t *testing.T) {
	s := NewSynchronizer(alice, "conv")
	tabs := NewTabSet()

	tab := Tab{FileName: "notes.txt", Content: "a", FileType: "text"}
	tabs.Open(tab)
	open := s.OpenLocal(tab)
	require.Equal(t, "notes.txt", open.FileName)

	tabs.Update("notes.txt", "ab", alice.Email)
	out, ok := s.ApplyLocalEdit("notes.txt", "ab")
	require.True(t, ok)
	require.Equal(t, "ab", out.Content)
	require.Equal(t, "text", out.FileType)
	require.Equal(t, alice, out.Sender)

	// the server fans our own frame back to us
	applied := s.ApplyRemote(out, func(p Proposal) {
		t.Fatalf("echo must not be applied: %+v", p)
	})
	require.False(t, applied)
	got, _ := tabs.Tab("notes.txt")
	require.Equal(t, "ab", got.Content)
}

func TestGuardSuppressesRebroadcastDuringRemoteApply(t *testing.T) {
	s := NewSynchronizer(alice, "conv")
	tabs := NewTabSet(Tab{FileName: "main.go", Content: ""})

	var rebroadcast []protocol.EditorChange
	// the editor surface reports every content change, remote or not
	onContentChanged := func(file, content string) {
		if env, ok := s.ApplyLocalEdit(file, content); ok {
			rebroadcast = append(rebroadcast, env)
		}
	}

	s.ApplyRemote(change(bob, "main.go", "package main"), func(p Proposal) {
		require.True(t, s.IsApplyingRemote("main.go"))
		require.False(t, s.IsApplyingRemote("other.go"))
		tabs.Apply(p)
		onContentChanged(p.FileName, p.Content)
	})
	require.False(t, s.IsApplyingRemote("main.go"))
	require.Empty(t, rebroadcast)

	onContentChanged("main.go", "package main\n")
	require.Len(t, rebroadcast, 1)
}

func TestConcurrentLocalEditToOtherFileIsBroadcast(t *testing.T) {
	s := NewSynchronizer(alice, "conv")

	var (
		other     protocol.EditorChange
		otherSent bool
		sameSent  bool
	)
	s.ApplyRemote(change(bob, "notes.txt", "from bob"), func(p Proposal) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			other, otherSent = s.ApplyLocalEdit("other.txt", "typed by me")
			_, sameSent = s.ApplyLocalEdit("notes.txt", "from bob")
		}()
		<-done
	})

	require.True(t, otherSent)
	require.Equal(t, "other.txt", other.FileName)
	require.Equal(t, "typed by me", other.Content)
	require.False(t, sameSent)
}

func TestRemoteOpenOfUnknownFileCreatesTab(t *testing.T) {
	s := NewSynchronizer(alice, "conv")
	tabs := NewTabSet()

	p := s.ApplyRemoteEnvelope(protocol.NewEditorOpen(bob, "s1", "plan.md", "# plan", "markdown"))
	require.NotNil(t, p)
	require.Equal(t, Proposal{Kind: protocol.TypeEditorOpen, FileName: "plan.md", Content: "# plan", FileType: "markdown", Sender: bob}, *p)
	require.Equal(t, 1, tabs.Len(), "the synchronizer never touches tabs")

	require.True(t, tabs.Apply(*p))
	require.Equal(t, 2, tabs.Len())

	// change for an unknown file is a no-op
	require.False(t, tabs.Apply(Proposal{Kind: protocol.TypeEditorChange, FileName: "ghost.txt", Content: "boo"}))
	require.Equal(t, 2, tabs.Len())

	sess := s.Session()
	require.Equal(t, "conv", sess.ConversationID)
	require.Len(t, sess.Participants, 2)
}

func TestLastTabCannotBeClosed(t *testing.T) {
	tabs := NewTabSet(Tab{FileName: "a"}, Tab{FileName: "b"})
	require.NoError(t, tabs.Close("a"))
	require.ErrorIs(t, tabs.Close("b"), ErrLastTab)
	require.ErrorIs(t, tabs.Close("zzz"), ErrUnknownTab)
	require.False(t, tabs.Apply(Proposal{Kind: protocol.TypeEditorClose, FileName: "b"}))
	require.Equal(t, []Tab{{FileName: "b"}}, tabs.Tabs())
}

func TestNonEditorEnvelopesAreIgnored(t *testing.T) {
	s := NewSynchronizer(alice, "conv")
	require.Nil(t, s.ApplyRemoteEnvelope(protocol.NewMessage("bob", "Bob", "hi")))
	require.Nil(t, s.ApplyRemoteEnvelope(change(bob, "", "no file")))
}

type failingStore struct {
	fail bool
	sets int
	data map[string][]byte
}

func (f *failingStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *failingStore) Set(_ context.Context, key string, value []byte) error {
	f.sets++
	if f.fail {
		return context.DeadlineExceeded
	}
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[key] = value
	return nil
}

func (f *failingStore) Close() error { return nil }
