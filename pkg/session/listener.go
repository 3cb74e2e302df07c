package session

import (
	"github.com/go-go-golems/huddle/pkg/docsync"
	"github.com/go-go-golems/huddle/pkg/presence"
	"github.com/go-go-golems/huddle/pkg/protocol"
	"github.com/go-go-golems/huddle/pkg/streaming"
	"github.com/go-go-golems/huddle/pkg/transport"
)

// Listener receives everything the session produces. OnEditorProposal runs
// while the remote-apply guard is held: content changes the listener makes in
// response are not re-broadcast.
type Listener interface {
	OnMessages(batch []protocol.Message)
	OnStreamUpdate(st streaming.State)
	OnStreamDiscarded(identifier string)
	OnTyping(typers []presence.Typer)
	OnEditorProposal(p docsync.Proposal)
	OnParticipantEvent(env protocol.Envelope)
	OnStatus(st transport.Status)
}

// Funcs adapts optional callbacks to a Listener.
type Funcs struct {
	Messages         func([]protocol.Message)
	StreamUpdate     func(streaming.State)
	StreamDiscarded  func(string)
	Typing           func([]presence.Typer)
	EditorProposal   func(docsync.Proposal)
	ParticipantEvent func(protocol.Envelope)
	Status           func(transport.Status)
}

var _ Listener = Funcs{}

func (f Funcs) OnMessages(batch []protocol.Message) {
	if f.Messages != nil {
		f.Messages(batch)
	}
}

func (f Funcs) OnStreamUpdate(st streaming.State) {
	if f.StreamUpdate != nil {
		f.StreamUpdate(st)
	}
}

func (f Funcs) OnStreamDiscarded(identifier string) {
	if f.StreamDiscarded != nil {
		f.StreamDiscarded(identifier)
	}
}

func (f Funcs) OnTyping(typers []presence.Typer) {
	if f.Typing != nil {
		f.Typing(typers)
	}
}

func (f Funcs) OnEditorProposal(p docsync.Proposal) {
	if f.EditorProposal != nil {
		f.EditorProposal(p)
	}
}

func (f Funcs) OnParticipantEvent(env protocol.Envelope) {
	if f.ParticipantEvent != nil {
		f.ParticipantEvent(env)
	}
}

func (f Funcs) OnStatus(st transport.Status) {
	if f.Status != nil {
		f.Status(st)
	}
}
