package kvstore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var defaultBucket = []byte("huddle")

// BoltStore keeps all keys in a single bucket of a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = &BoltStore{}

func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("bolt kv store: empty path")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt kv store: open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "bolt kv store: create bucket")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("bolt kv store: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(defaultBucket).Get([]byte(key))
		if v != nil {
			// v is only valid inside the transaction
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "bolt kv store: get %q", key)
	}
	return out, out != nil, nil
}

func (s *BoltStore) Set(_ context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return errors.New("bolt kv store: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Put([]byte(key), value)
	})
	return errors.Wrapf(err, "bolt kv store: set %q", key)
}
