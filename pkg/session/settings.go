package session

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"

	"github.com/go-go-golems/huddle/pkg/presence"
	"github.com/go-go-golems/huddle/pkg/streaming"
)

const SectionSlug = "session"

type Settings struct {
	Moderator     string `glazed:"moderator"`
	BatchWindowMs int    `glazed:"batch-window-ms"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Session dispatch",
		schema.WithFields(
			fields.New("moderator", fields.TypeString, fields.WithDefault(streaming.DefaultModerator), fields.WithHelp("Agent whose completion ends a multi-agent round")),
			fields.New("batch-window-ms", fields.TypeInteger, fields.WithDefault(int(DefaultBatchWindow/time.Millisecond)), fields.WithHelp("Window in which incoming messages are delivered together (0 disables batching)")),
		),
	)
}

// Config combines the session settings with the presence configuration.
func (s Settings) Config(p presence.Config) Config {
	return Config{
		Presence:    p,
		Moderator:   s.Moderator,
		BatchWindow: time.Duration(s.BatchWindowMs) * time.Millisecond,
	}
}
