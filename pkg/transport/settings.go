package transport

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "transport"

// Settings holds the connection flags of a client.
type Settings struct {
	ServerURL            string `glazed:"server-url"`
	ReconnectIntervalMs  int    `glazed:"reconnect-interval-ms"`
	MaxReconnectAttempts int    `glazed:"max-reconnect-attempts"`
	WriteTimeoutMs       int    `glazed:"write-timeout-ms"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Conversation socket and reconnection policy",
		schema.WithFields(
			fields.New("server-url", fields.TypeString, fields.WithDefault("ws://localhost:8080"), fields.WithHelp("Base URL of the conversation relay")),
			fields.New("reconnect-interval-ms", fields.TypeInteger, fields.WithDefault(int(DefaultReconnectInterval/time.Millisecond)), fields.WithHelp("Fixed wait before each reconnection attempt")),
			fields.New("max-reconnect-attempts", fields.TypeInteger, fields.WithDefault(DefaultMaxReconnectAttempts), fields.WithHelp("Consecutive failed attempts before giving up")),
			fields.New("write-timeout-ms", fields.TypeInteger, fields.WithDefault(int(DefaultWriteTimeout/time.Millisecond)), fields.WithHelp("Socket write deadline")),
		),
	)
}

func (s Settings) Config() Config {
	return Config{
		ReconnectInterval:    time.Duration(s.ReconnectIntervalMs) * time.Millisecond,
		MaxReconnectAttempts: s.MaxReconnectAttempts,
		WriteTimeout:         time.Duration(s.WriteTimeoutMs) * time.Millisecond,
	}.normalized()
}
