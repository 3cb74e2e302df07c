package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Control frames share the channel with envelopes but are not envelopes.
const (
	Ping = "ping"
	Pong = "pong"
)

var ErrNilEnvelope = errors.New("nil envelope")

// IsPing reports whether raw is the bare heartbeat frame.
func IsPing(raw []byte) bool {
	return strings.EqualFold(string(bytes.TrimSpace(raw)), Ping)
}

// Decode parses one frame. Non-JSON frames, frames without a recognized type
// and frames whose fields do not match the variant shape decode to nil.
func Decode(raw []byte) Envelope {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var peek struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		log.Debug().Err(err).Str("component", "codec").Msg("dropping non-json frame")
		return nil
	}
	if !peek.Type.Known() {
		log.Debug().Str("component", "codec").Str("type", string(peek.Type)).Msg("dropping frame with unknown type")
		return nil
	}

	var (
		env Envelope
		err error
	)
	switch peek.Type {
	case TypeMessage:
		env, err = decodeInto[Message](raw)
	case TypeTypingStatus:
		env, err = decodeInto[TypingStatus](raw)
	case TypeUserJoined:
		env, err = decodeInto[UserJoined](raw)
	case TypeUserLeft:
		env, err = decodeInto[UserLeft](raw)
	case TypeRead:
		env, err = decodeInto[Read](raw)
	case TypeToken:
		env, err = decodeInto[Token](raw)
	case TypeEditorOpen:
		env, err = decodeInto[EditorOpen](raw)
	case TypeEditorChange:
		env, err = decodeInto[EditorChange](raw)
	case TypeEditorClose:
		env, err = decodeInto[EditorClose](raw)
	case TypeSetPrivacy:
		env, err = decodeInto[SetPrivacy](raw)
	}
	if err != nil {
		log.Debug().Err(err).Str("component", "codec").Str("type", string(peek.Type)).Msg("dropping malformed frame")
		return nil
	}
	return env
}

func decodeInto[T Envelope](raw []byte) (Envelope, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode serializes env, stamping the type tag from the variant.
func Encode(env Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrNilEnvelope
	}
	switch e := env.(type) {
	case Message:
		e.Type = TypeMessage
		return json.Marshal(e)
	case TypingStatus:
		e.Type = TypeTypingStatus
		return json.Marshal(e)
	case UserJoined:
		e.Type = TypeUserJoined
		return json.Marshal(e)
	case UserLeft:
		e.Type = TypeUserLeft
		return json.Marshal(e)
	case Read:
		e.Type = TypeRead
		return json.Marshal(e)
	case Token:
		e.Type = TypeToken
		return json.Marshal(e)
	case EditorOpen:
		e.Type = TypeEditorOpen
		return json.Marshal(e)
	case EditorChange:
		e.Type = TypeEditorChange
		return json.Marshal(e)
	case EditorClose:
		e.Type = TypeEditorClose
		return json.Marshal(e)
	case SetPrivacy:
		e.Type = TypeSetPrivacy
		return json.Marshal(e)
	}
	return nil, errors.Errorf("unsupported envelope %T", env)
}

// Now is the timestamp format stamped on outbound envelopes.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func header(t Type, identifier string) Header {
	return Header{Type: t, Identifier: identifier, Timestamp: Now()}
}

func NewMessage(identifier, name, content string) Message {
	return Message{Header: header(TypeMessage, identifier), Name: name, Content: content}
}

func NewTyping(identifier, name string, isTyping bool) TypingStatus {
	return TypingStatus{Header: header(TypeTypingStatus, identifier), Name: name, IsTyping: isTyping}
}

func NewToken(identifier, token string) Token {
	return Token{Header: header(TypeToken, identifier), Token: token}
}

func NewEditorOpen(sender Sender, sessionID, fileName, content, fileType string) EditorOpen {
	return EditorOpen{
		Header:    header(TypeEditorOpen, sender.Email),
		SessionID: sessionID,
		FileName:  fileName,
		Content:   content,
		FileType:  fileType,
		Sender:    sender,
	}
}

func NewEditorChange(sender Sender, sessionID, fileName, content, fileType string) EditorChange {
	return EditorChange{
		Header:    header(TypeEditorChange, sender.Email),
		SessionID: sessionID,
		FileName:  fileName,
		Content:   content,
		FileType:  fileType,
		Sender:    sender,
	}
}

func NewEditorClose(sender Sender, sessionID, fileName string) EditorClose {
	return EditorClose{
		Header:    header(TypeEditorClose, sender.Email),
		SessionID: sessionID,
		FileName:  fileName,
		Sender:    sender,
	}
}

func NewUserJoined(identifier, name string) UserJoined {
	return UserJoined{Header: header(TypeUserJoined, identifier), Name: name}
}

func NewUserLeft(identifier, name string) UserLeft {
	return UserLeft{Header: header(TypeUserLeft, identifier), Name: name}
}

func NewRead(identifier, messageID string) Read {
	return Read{Header: header(TypeRead, identifier), MessageID: messageID}
}

func NewSetPrivacy(identifier string, isPrivate bool) SetPrivacy {
	return SetPrivacy{Header: header(TypeSetPrivacy, identifier), IsPrivate: isPrivate}
}
