package authstore

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
)

const SectionSlug = "auth"

type Settings struct {
	CredentialsFile string `glazed:"credentials-file"`
	Token           string `glazed:"token"`
	Email           string `glazed:"email"`
	Name            string `glazed:"name"`
	ParticipantID   string `glazed:"participant-id"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Participant credentials",
		schema.WithFields(
			fields.New("credentials-file", fields.TypeString, fields.WithDefault(""), fields.WithHelp("YAML file with per-conversation credentials")),
			fields.New("token", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Session token (used when no credentials file is given)")),
			fields.New("email", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Participant email")),
			fields.New("name", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Display name")),
			fields.New("participant-id", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Stable opaque participant id")),
		),
	)
}

// Store builds the credentials store: the file when one is configured,
// otherwise the flags as wildcard credentials.
func (s Settings) Store() (Store, error) {
	if s.CredentialsFile != "" {
		return LoadFile(s.CredentialsFile)
	}
	if s.Email == "" && s.ParticipantID == "" {
		return nil, errors.New("authstore: either credentials-file or email is required")
	}
	return NewStatic(map[string]Credentials{
		Wildcard: {Token: s.Token, Email: s.Email, Name: s.Name, ParticipantID: s.ParticipantID},
	}), nil
}
