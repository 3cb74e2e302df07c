package docsync

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/go-go-golems/huddle/pkg/kvstore"
)

const (
	DefaultAutoSaveInterval = 30 * time.Second
	DefaultSnapshotKey      = "huddle.editor.tabs"
)

// zstd frame magic number, little endian
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type AutoSaveConfig struct {
	Interval time.Duration
	Key      string
	Compress bool
}

func DefaultAutoSaveConfig() AutoSaveConfig {
	return AutoSaveConfig{Interval: DefaultAutoSaveInterval, Key: DefaultSnapshotKey}
}

func (c AutoSaveConfig) normalized() AutoSaveConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultAutoSaveInterval
	}
	if c.Key == "" {
		c.Key = DefaultSnapshotKey
	}
	return c
}

// Snapshot is what gets written to the store.
type Snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Tabs    []Tab     `json:"tabs"`
}

// AutoSaver periodically snapshots a TabSet into a kvstore.Store. It runs
// independently of the connection and never modifies tab content.
type AutoSaver struct {
	store kvstore.Store
	tabs  *TabSet
	cfg   AutoSaveConfig
	now   func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu         sync.Mutex
	lastDigest [32]byte
	hasDigest  bool
	failing    bool
	lastErr    error
}

func NewAutoSaver(store kvstore.Store, tabs *TabSet, cfg AutoSaveConfig) (*AutoSaver, error) {
	if store == nil {
		return nil, errors.New("autosave: store is nil")
	}
	if tabs == nil {
		return nil, errors.New("autosave: tab set is nil")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "autosave: zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, errors.Wrap(err, "autosave: zstd decoder")
	}
	return &AutoSaver{
		store: store,
		tabs:  tabs,
		cfg:   cfg.normalized(),
		now:   time.Now,
		enc:   enc,
		dec:   dec,
	}, nil
}

// Run saves on every interval tick until ctx is done.
func (a *AutoSaver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = a.save(ctx, false)
		}
	}
}

// ForceSave writes a snapshot now, even if nothing changed.
func (a *AutoSaver) ForceSave(ctx context.Context) error {
	return a.save(ctx, true)
}

// LastError returns the error of the last failed save, or nil after a
// successful one.
func (a *AutoSaver) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *AutoSaver) save(ctx context.Context, force bool) error {
	tabs := a.tabs.Tabs()
	for i := range tabs {
		tabs[i].LastSavedContent = tabs[i].Content
	}
	body, err := json.Marshal(tabs)
	if err != nil {
		return errors.Wrap(err, "autosave: marshal tabs")
	}
	digest := blake3.Sum256(body)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !force && a.hasDigest && digest == a.lastDigest {
		return nil
	}

	payload, err := json.Marshal(Snapshot{SavedAt: a.now().UTC(), Tabs: tabs})
	if err != nil {
		return errors.Wrap(err, "autosave: marshal snapshot")
	}
	if a.cfg.Compress {
		payload = a.enc.EncodeAll(payload, nil)
	}

	if err := a.store.Set(ctx, a.cfg.Key, payload); err != nil {
		err = errors.Wrap(err, "autosave: write snapshot")
		if !a.failing {
			log.Error().Err(err).Str("component", "autosave").Str("key", a.cfg.Key).Msg("auto-save failed")
		}
		a.failing = true
		a.lastErr = err
		return err
	}
	if a.failing {
		log.Info().Str("component", "autosave").Str("key", a.cfg.Key).Msg("auto-save recovered")
	}
	a.failing = false
	a.lastErr = nil
	a.lastDigest = digest
	a.hasDigest = true
	a.tabs.MarkSaved(tabs)
	log.Debug().Str("component", "autosave").Int("tabs", len(tabs)).Bool("compressed", a.cfg.Compress).Msg("snapshot saved")
	return nil
}

// Load reads the last snapshot. Both compressed and plain snapshots are
// accepted regardless of the current configuration.
func (a *AutoSaver) Load(ctx context.Context) (Snapshot, bool, error) {
	return LoadSnapshot(ctx, a.store, a.cfg.Key, a.dec)
}

// LoadSnapshot reads a snapshot from store. dec may be nil, in which case a
// decoder is created for compressed payloads.
func LoadSnapshot(ctx context.Context, store kvstore.Store, key string, dec *zstd.Decoder) (Snapshot, bool, error) {
	if key == "" {
		key = DefaultSnapshotKey
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "autosave: read snapshot")
	}
	if !ok || len(raw) == 0 {
		return Snapshot{}, false, nil
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		if dec == nil {
			d, err := zstd.NewReader(nil)
			if err != nil {
				return Snapshot{}, false, errors.Wrap(err, "autosave: zstd decoder")
			}
			defer d.Close()
			dec = d
		}
		raw, err = dec.DecodeAll(raw, nil)
		if err != nil {
			return Snapshot{}, false, errors.Wrap(err, "autosave: decompress snapshot")
		}
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "autosave: decode snapshot")
	}
	return snap, true, nil
}

func (a *AutoSaver) Close() {
	_ = a.enc.Close()
	a.dec.Close()
}
