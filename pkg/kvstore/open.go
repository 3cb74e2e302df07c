package kvstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Settings selects a backend. The fields are decoded from the autosave section.
type Settings struct {
	Backend string `glazed:"store"`
	Path    string `glazed:"store-path"`
}

// Open returns the Store selected by s. File backends create their parent
// directory.
func Open(s Settings) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite, BackendBolt:
	default:
		return nil, errors.Errorf("kvstore: unknown backend %q", s.Backend)
	}

	path := strings.TrimSpace(s.Path)
	if path == "" {
		return nil, errors.Errorf("kvstore: %s backend requires a store path", backend)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "kvstore: create %s", dir)
		}
	}

	if backend == BackendBolt {
		return NewBoltStore(path)
	}
	dsn, err := SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(dsn)
}
