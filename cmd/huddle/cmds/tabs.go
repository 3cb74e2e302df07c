package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/huddle/pkg/docsync"
	"github.com/go-go-golems/huddle/pkg/kvstore"
)

type TabsCommand struct {
	*cmds.CommandDescription
}

type TabsSettings struct {
	WithContent bool `glazed:"with-content"`
}

func NewTabsCommand() (*TabsCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	storeLayers, err := storeSections()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"tabs",
		cmds.WithShort("List the editor tabs of the last auto-save snapshot"),
		cmds.WithLong("Read the tab snapshot from the configured local store and print one row per tab."),
		cmds.WithFlags(
			fields.New(
				"with-content",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Include tab content in the output"),
			),
		),
		cmds.WithSections(append([]schema.Section{glazedLayer, commandSettingsLayer}, storeLayers...)...),
	)
	return &TabsCommand{CommandDescription: desc}, nil
}

func (c *TabsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &TabsSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	storeSettings := &kvstore.Settings{}
	if err := parsedLayers.DecodeSectionInto(docsync.SectionSlug, storeSettings); err != nil {
		return errors.Wrap(err, "decode store settings")
	}
	saveSettings := &docsync.Settings{}
	if err := parsedLayers.DecodeSectionInto(docsync.SectionSlug, saveSettings); err != nil {
		return errors.Wrap(err, "decode autosave settings")
	}

	store, err := kvstore.Open(*storeSettings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	snap, ok, err := docsync.LoadSnapshot(ctx, store, saveSettings.Config().Key, nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, t := range snap.Tabs {
		row := types.NewRow(
			types.MRP("file_name", t.FileName),
			types.MRP("file_type", t.FileType),
			types.MRP("size", len(t.Content)),
			types.MRP("last_edit_by", t.LastEditBy),
			types.MRP("saved_at", snap.SavedAt.Format(time.RFC3339)),
		)
		if s.WithContent {
			row.Set("content", t.Content)
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &TabsCommand{}
