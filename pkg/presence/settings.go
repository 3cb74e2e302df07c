package presence

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "presence"

type Settings struct {
	TypingTimeoutMs  int `glazed:"typing-timeout-ms"`
	TypingSweepMs    int `glazed:"typing-sweep-ms"`
	TypingThrottleMs int `glazed:"typing-throttle-ms"`
	TypingDebounceMs int `glazed:"typing-debounce-ms"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Typing presence intervals",
		schema.WithFields(
			fields.New("typing-timeout-ms", fields.TypeInteger, fields.WithDefault(int(DefaultTimeout/time.Millisecond)), fields.WithHelp("Drop a typing indicator after this much silence")),
			fields.New("typing-sweep-ms", fields.TypeInteger, fields.WithDefault(int(DefaultSweepInterval/time.Millisecond)), fields.WithHelp("Interval of the typing expiry sweep")),
			fields.New("typing-throttle-ms", fields.TypeInteger, fields.WithDefault(int(DefaultThrottle/time.Millisecond)), fields.WithHelp("Minimum spacing of outbound is_typing=true frames")),
			fields.New("typing-debounce-ms", fields.TypeInteger, fields.WithDefault(int(DefaultDebounce/time.Millisecond)), fields.WithHelp("Local inactivity before is_typing=false is sent")),
		),
	)
}

func (s Settings) Config() Config {
	return Config{
		Timeout:       time.Duration(s.TypingTimeoutMs) * time.Millisecond,
		SweepInterval: time.Duration(s.TypingSweepMs) * time.Millisecond,
		Throttle:      time.Duration(s.TypingThrottleMs) * time.Millisecond,
		Debounce:      time.Duration(s.TypingDebounceMs) * time.Millisecond,
	}.normalized()
}
