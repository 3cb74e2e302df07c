package docsync

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

// CollaborativeSession describes the shared editing session of a conversation.
type CollaborativeSession struct {
	SessionID      string
	ConversationID string
	Participants   []protocol.Sender
}

// Proposal is an accepted remote edit. The caller owns the tabs and decides
// how to materialize it.
type Proposal struct {
	Kind     protocol.Type
	FileName string
	Content  string
	FileType string
	Sender   protocol.Sender
}

// Synchronizer reconciles editor envelopes against the local participant.
// It never touches the tab collection; it filters echoes of our own edits,
// turns accepted remote edits into proposals and stamps outbound edits.
type Synchronizer struct {
	self protocol.Sender

	mu        sync.Mutex
	session   CollaborativeSession
	fileTypes map[string]string
	// applying counts in-flight remote applies per file name
	applying map[string]int
}

type Option func(*Synchronizer)

func WithSessionID(id string) Option {
	return func(s *Synchronizer) {
		if id != "" {
			s.session.SessionID = id
		}
	}
}

func NewSynchronizer(self protocol.Sender, conversationID string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		self: self,
		session: CollaborativeSession{
			SessionID:      uuid.NewString(),
			ConversationID: conversationID,
			Participants:   []protocol.Sender{self},
		},
		fileTypes: map[string]string{},
		applying:  map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsSelf reports whether sender is the local participant. The opaque id is
// compared when both sides carry one; otherwise emails are compared
// case-insensitively. Two participants sharing an email are
// indistinguishable on the email path.
func (s *Synchronizer) IsSelf(sender protocol.Sender) bool {
	return sameParticipant(s.self, sender)
}

func sameParticipant(a, b protocol.Sender) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	ae := strings.TrimSpace(a.Email)
	be := strings.TrimSpace(b.Email)
	return ae != "" && strings.EqualFold(ae, be)
}

// IsApplyingRemote reports whether a remote change to fileName is being
// applied right now. Content-change notifications for that file observed
// while it is true must not be re-broadcast.
func (s *Synchronizer) IsApplyingRemote(fileName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applying[fileName] > 0
}

// ApplyLocalEdit stamps a local content change for broadcast. It returns
// false while a remote change to the same file is being applied, since the
// change is then the remote edit itself and not a new local one. Edits to
// other files are unaffected.
func (s *Synchronizer) ApplyLocalEdit(fileName, content string) (protocol.EditorChange, bool) {
	s.mu.Lock()
	if s.applying[fileName] > 0 {
		s.mu.Unlock()
		log.Debug().Str("component", "docsync").Str("file", fileName).Msg("local change during remote apply not re-broadcast")
		return protocol.EditorChange{}, false
	}
	fileType := s.fileTypes[fileName]
	sessionID := s.session.SessionID
	s.mu.Unlock()
	return protocol.NewEditorChange(s.self, sessionID, fileName, content, fileType), true
}

// OpenLocal announces a locally opened tab.
func (s *Synchronizer) OpenLocal(tab Tab) protocol.EditorOpen {
	s.mu.Lock()
	s.fileTypes[tab.FileName] = tab.FileType
	sessionID := s.session.SessionID
	s.mu.Unlock()
	return protocol.NewEditorOpen(s.self, sessionID, tab.FileName, tab.Content, tab.FileType)
}

// CloseLocal announces a locally closed tab.
func (s *Synchronizer) CloseLocal(fileName string) protocol.EditorClose {
	s.mu.Lock()
	delete(s.fileTypes, fileName)
	sessionID := s.session.SessionID
	s.mu.Unlock()
	return protocol.NewEditorClose(s.self, sessionID, fileName)
}

// ApplyRemoteEnvelope turns an inbound editor envelope into a proposal.
// It returns nil for our own echoed edits and for envelopes that are not
// editor traffic.
func (s *Synchronizer) ApplyRemoteEnvelope(env protocol.Envelope) *Proposal {
	var p Proposal
	switch e := env.(type) {
	case protocol.EditorOpen:
		p = Proposal{Kind: protocol.TypeEditorOpen, FileName: e.FileName, Content: e.Content, FileType: e.FileType, Sender: e.Sender}
	case protocol.EditorChange:
		p = Proposal{Kind: protocol.TypeEditorChange, FileName: e.FileName, Content: e.Content, FileType: e.FileType, Sender: e.Sender}
	case protocol.EditorClose:
		p = Proposal{Kind: protocol.TypeEditorClose, FileName: e.FileName, Sender: e.Sender}
	default:
		return nil
	}
	if strings.TrimSpace(p.FileName) == "" {
		return nil
	}
	if s.IsSelf(p.Sender) {
		log.Debug().Str("component", "docsync").Str("file", p.FileName).Str("kind", string(p.Kind)).Msg("dropping echo of own edit")
		return nil
	}

	s.mu.Lock()
	s.addParticipantLocked(p.Sender)
	switch p.Kind {
	case protocol.TypeEditorOpen, protocol.TypeEditorChange:
		if p.FileType != "" {
			s.fileTypes[p.FileName] = p.FileType
		}
	case protocol.TypeEditorClose:
		delete(s.fileTypes, p.FileName)
	}
	s.mu.Unlock()
	return &p
}

// ApplyRemote runs apply with the guard set on the proposal's file and clears
// it once apply returns. It reports whether an edit was applied.
func (s *Synchronizer) ApplyRemote(env protocol.Envelope, apply func(Proposal)) bool {
	p := s.ApplyRemoteEnvelope(env)
	if p == nil {
		return false
	}
	s.mu.Lock()
	s.applying[p.FileName]++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.applying[p.FileName]--
		if s.applying[p.FileName] <= 0 {
			delete(s.applying, p.FileName)
		}
		s.mu.Unlock()
	}()
	if apply != nil {
		apply(*p)
	}
	return true
}

func (s *Synchronizer) addParticipantLocked(sender protocol.Sender) {
	if sender.Email == "" && sender.ID == "" {
		return
	}
	for _, p := range s.session.Participants {
		if sameParticipant(p, sender) {
			return
		}
	}
	s.session.Participants = append(s.session.Participants, sender)
}

// Session returns a copy of the collaborative session.
func (s *Synchronizer) Session() CollaborativeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.session
	out.Participants = append([]protocol.Sender(nil), s.session.Participants...)
	return out
}
