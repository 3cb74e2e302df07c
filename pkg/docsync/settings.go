package docsync

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"

	"github.com/go-go-golems/huddle/pkg/kvstore"
)

const SectionSlug = "autosave"

// Settings holds the auto-save part of the autosave section. The store
// selection in the same section decodes into kvstore.Settings.
type Settings struct {
	IntervalMs int    `glazed:"autosave-interval-ms"`
	Compress   bool   `glazed:"autosave-compress"`
	Key        string `glazed:"autosave-key"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Editor auto-save",
		schema.WithFields(
			fields.New("store", fields.TypeChoice, fields.WithChoices(kvstore.BackendMemory, kvstore.BackendSQLite, kvstore.BackendBolt), fields.WithDefault(kvstore.BackendMemory), fields.WithHelp("Local storage backend for snapshots")),
			fields.New("store-path", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Database file for the sqlite and bolt backends")),
			fields.New("autosave-interval-ms", fields.TypeInteger, fields.WithDefault(int(DefaultAutoSaveInterval/time.Millisecond)), fields.WithHelp("Snapshot interval")),
			fields.New("autosave-compress", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Compress snapshots with zstd")),
			fields.New("autosave-key", fields.TypeString, fields.WithDefault(DefaultSnapshotKey), fields.WithHelp("Storage key of the tab snapshot")),
		),
	)
}

func (s Settings) Config() AutoSaveConfig {
	return AutoSaveConfig{
		Interval: time.Duration(s.IntervalMs) * time.Millisecond,
		Key:      s.Key,
		Compress: s.Compress,
	}.normalized()
}
