package protocol

import (
	"strings"
	"time"
)

// Type tags an envelope on the wire.
type Type string

const (
	TypeMessage      Type = "message"
	TypeTypingStatus Type = "typing_status"
	TypeUserJoined   Type = "user_joined"
	TypeUserLeft     Type = "user_left"
	TypeRead         Type = "read"
	TypeToken        Type = "token"
	TypeEditorOpen   Type = "editor_open"
	TypeEditorChange Type = "editor_change"
	TypeEditorClose  Type = "editor_close"
	TypeSetPrivacy   Type = "set_privacy"
)

// Known reports whether t is one of the closed set of envelope types.
func (t Type) Known() bool {
	switch t {
	case TypeMessage, TypeTypingStatus, TypeUserJoined, TypeUserLeft, TypeRead,
		TypeToken, TypeEditorOpen, TypeEditorChange, TypeEditorClose, TypeSetPrivacy:
		return true
	}
	return false
}

// Envelope is one typed, timestamped unit of protocol traffic.
//
// The set of implementations is closed: only the variants declared in this
// package satisfy it. Envelopes are values and are never mutated after receipt.
type Envelope interface {
	Kind() Type
	Meta() Header
	isEnvelope()
}

// Header is carried by every variant.
type Header struct {
	Type       Type   `json:"type"`
	Identifier string `json:"identifier"`
	Timestamp  string `json:"timestamp"`
}

// Time parses the origin-stamped timestamp. The zero time is returned when
// the sender did not stamp one or stamped something unparsable.
func (h Header) Time() time.Time {
	ts := strings.TrimSpace(h.Timestamp)
	if ts == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Sender attributes an editor envelope to exactly one participant.
type Sender struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is a complete chat message from a participant or an agent.
type Message struct {
	Header
	Content   string `json:"content"`
	Name      string `json:"name,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// TypingStatus signals that Identifier started or stopped typing.
type TypingStatus struct {
	Header
	IsTyping  bool   `json:"is_typing"`
	Name      string `json:"name,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
}

type UserJoined struct {
	Header
	Name string `json:"name,omitempty"`
}

type UserLeft struct {
	Header
	Name string `json:"name,omitempty"`
}

// Read marks MessageID as read by Identifier.
type Read struct {
	Header
	MessageID string `json:"message_id,omitempty"`
}

// Token is one partial chunk of an agent's streamed output. Done marks the
// end of the stream.
type Token struct {
	Header
	Token     string `json:"token"`
	Name      string `json:"name,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Done      bool   `json:"done,omitempty"`
}

type EditorOpen struct {
	Header
	SessionID string `json:"session_id,omitempty"`
	FileName  string `json:"file_name"`
	Content   string `json:"content"`
	FileType  string `json:"file_type,omitempty"`
	Sender    Sender `json:"sender"`
}

type EditorChange struct {
	Header
	SessionID string `json:"session_id,omitempty"`
	FileName  string `json:"file_name"`
	Content   string `json:"content"`
	FileType  string `json:"file_type,omitempty"`
	Sender    Sender `json:"sender"`
}

type EditorClose struct {
	Header
	SessionID string `json:"session_id,omitempty"`
	FileName  string `json:"file_name"`
	Sender    Sender `json:"sender"`
}

// SetPrivacy toggles whether the conversation is private.
type SetPrivacy struct {
	Header
	IsPrivate bool `json:"is_private"`
}

func (Message) Kind() Type      { return TypeMessage }
func (TypingStatus) Kind() Type { return TypeTypingStatus }
func (UserJoined) Kind() Type   { return TypeUserJoined }
func (UserLeft) Kind() Type     { return TypeUserLeft }
func (Read) Kind() Type         { return TypeRead }
func (Token) Kind() Type        { return TypeToken }
func (EditorOpen) Kind() Type   { return TypeEditorOpen }
func (EditorChange) Kind() Type { return TypeEditorChange }
func (EditorClose) Kind() Type  { return TypeEditorClose }
func (SetPrivacy) Kind() Type   { return TypeSetPrivacy }

func (m Message) Meta() Header      { return m.Header }
func (m TypingStatus) Meta() Header { return m.Header }
func (m UserJoined) Meta() Header   { return m.Header }
func (m UserLeft) Meta() Header     { return m.Header }
func (m Read) Meta() Header         { return m.Header }
func (m Token) Meta() Header        { return m.Header }
func (m EditorOpen) Meta() Header   { return m.Header }
func (m EditorChange) Meta() Header { return m.Header }
func (m EditorClose) Meta() Header  { return m.Header }
func (m SetPrivacy) Meta() Header   { return m.Header }

func (Message) isEnvelope()      {}
func (TypingStatus) isEnvelope() {}
func (UserJoined) isEnvelope()   {}
func (UserLeft) isEnvelope()     {}
func (Read) isEnvelope()         {}
func (Token) isEnvelope()        {}
func (EditorOpen) isEnvelope()   {}
func (EditorChange) isEnvelope() {}
func (EditorClose) isEnvelope()  {}
func (SetPrivacy) isEnvelope()   {}

// SenderOf returns the sender attribution of editor envelopes.
func SenderOf(env Envelope) (Sender, bool) {
	switch e := env.(type) {
	case EditorOpen:
		return e.Sender, true
	case EditorChange:
		return e.Sender, true
	case EditorClose:
		return e.Sender, true
	}
	return Sender{}, false
}
