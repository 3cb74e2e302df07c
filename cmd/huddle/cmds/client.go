package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/huddle/pkg/authstore"
	"github.com/go-go-golems/huddle/pkg/docsync"
	"github.com/go-go-golems/huddle/pkg/kvstore"
	"github.com/go-go-golems/huddle/pkg/presence"
	"github.com/go-go-golems/huddle/pkg/session"
	"github.com/go-go-golems/huddle/pkg/transport"
)

// clientSettings gathers every section a conversation client reads.
type clientSettings struct {
	Transport transport.Settings
	Presence  presence.Settings
	Session   session.Settings
	Auth      authstore.Settings
	AutoSave  docsync.Settings
	Store     kvstore.Settings
}

func clientSections() ([]schema.Section, error) {
	builders := []struct {
		name string
		f    func() (schema.Section, error)
	}{
		{transport.SectionSlug, transport.NewSection},
		{presence.SectionSlug, presence.NewSection},
		{session.SectionSlug, session.NewSection},
		{authstore.SectionSlug, authstore.NewSection},
		{docsync.SectionSlug, docsync.NewSection},
	}
	ret := make([]schema.Section, 0, len(builders))
	for _, b := range builders {
		s, err := b.f()
		if err != nil {
			return nil, errors.Wrapf(err, "build %s section", b.name)
		}
		ret = append(ret, s)
	}
	return ret, nil
}

func decodeClientSettings(parsedLayers *values.Values) (*clientSettings, error) {
	cs := &clientSettings{}
	targets := []struct {
		slug string
		dst  interface{}
	}{
		{transport.SectionSlug, &cs.Transport},
		{presence.SectionSlug, &cs.Presence},
		{session.SectionSlug, &cs.Session},
		{authstore.SectionSlug, &cs.Auth},
		{docsync.SectionSlug, &cs.AutoSave},
		{docsync.SectionSlug, &cs.Store},
	}
	for _, t := range targets {
		if err := parsedLayers.DecodeSectionInto(t.slug, t.dst); err != nil {
			return nil, errors.Wrapf(err, "decode %s settings", t.slug)
		}
	}
	return cs, nil
}

// storeSections is the subset needed by commands that only read snapshots.
func storeSections() ([]schema.Section, error) {
	s, err := docsync.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build autosave section")
	}
	return []schema.Section{s}, nil
}
