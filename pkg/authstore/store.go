package authstore

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

// Wildcard is the conversation id whose credentials apply to any
// conversation without an entry of its own.
const Wildcard = "*"

// Credentials stamp outbound envelopes and identify the local participant
// for echo suppression.
type Credentials struct {
	Token         string `yaml:"token"`
	Email         string `yaml:"email"`
	Name          string `yaml:"name"`
	ParticipantID string `yaml:"participant_id,omitempty"`
}

// Sender returns the attribution used on editor envelopes.
func (c Credentials) Sender() protocol.Sender {
	return protocol.Sender{ID: c.ParticipantID, Email: c.Email, Name: c.Name}
}

// Identifier is the logical id stamped on chat envelopes.
func (c Credentials) Identifier() string {
	if c.Email != "" {
		return c.Email
	}
	return c.ParticipantID
}

// Store is a read-only lookup keyed by conversation id.
type Store interface {
	Lookup(conversationID string) (Credentials, bool)
}

// Static is an in-memory Store.
type Static struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

var _ Store = &Static{}

func NewStatic(creds map[string]Credentials) *Static {
	s := &Static{creds: map[string]Credentials{}}
	for k, v := range creds {
		s.creds[strings.TrimSpace(k)] = v
	}
	return s
}

func (s *Static) Lookup(conversationID string) (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.creds[strings.TrimSpace(conversationID)]; ok {
		return c, true
	}
	c, ok := s.creds[Wildcard]
	return c, ok
}

func (s *Static) Put(conversationID string, c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[strings.TrimSpace(conversationID)] = c
}

type fileFormat struct {
	Default       *Credentials           `yaml:"default,omitempty"`
	Conversations map[string]Credentials `yaml:"conversations"`
}

// LoadFile reads a YAML credentials file:
//
//	default:
//	  token: abc
//	  email: me@example.com
//	conversations:
//	  conv-1:
//	    token: xyz
//	    email: me@example.com
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "authstore: read %s", path)
	}
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "authstore: parse %s", path)
	}
	s := NewStatic(f.Conversations)
	if f.Default != nil {
		s.Put(Wildcard, *f.Default)
	}
	return s, nil
}
