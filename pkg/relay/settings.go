package relay

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const (
	SectionSlug      = "relay"
	RedisSectionSlug = "redis"

	DefaultIdleTimeout  = 60 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

type Settings struct {
	Addr           string `glazed:"addr"`
	IdleTimeoutMs  int    `glazed:"idle-timeout-ms"`
	WriteTimeoutMs int    `glazed:"write-timeout-ms"`
	AnnouncePeers  bool   `glazed:"announce-peers"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Development relay",
		schema.WithFields(
			fields.New("addr", fields.TypeString, fields.WithDefault(":8080"), fields.WithHelp("Listen address")),
			fields.New("idle-timeout-ms", fields.TypeInteger, fields.WithDefault(int(DefaultIdleTimeout/time.Millisecond)), fields.WithHelp("Drop a conversation after it had no connections for this long")),
			fields.New("write-timeout-ms", fields.TypeInteger, fields.WithDefault(int(DefaultWriteTimeout/time.Millisecond)), fields.WithHelp("Per-frame write deadline")),
			fields.New("announce-peers", fields.TypeBool, fields.WithDefault(true), fields.WithHelp("Emit user_joined/user_left when connections attach and detach")),
		),
	)
}

func (s Settings) Config() Config {
	return Config{
		IdleTimeout:   time.Duration(s.IdleTimeoutMs) * time.Millisecond,
		WriteTimeout:  time.Duration(s.WriteTimeoutMs) * time.Millisecond,
		AnnouncePeers: s.AnnouncePeers,
	}
}

// RedisSettings holds the redis streams bus configuration.
type RedisSettings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

func NewRedisSection() (schema.Section, error) {
	return schema.NewSection(
		RedisSectionSlug,
		"Redis configuration for the relay bus",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Share conversations across relay instances through Redis Streams")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault("localhost:6379"), fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Redis consumer group (empty: every instance reads every frame)")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Redis consumer name within the group")),
		),
	)
}
