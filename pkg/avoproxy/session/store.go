package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNotFound is returned when no session is stored under an id.
var ErrNotFound = errors.New("session not found")

// Store persists sessions by id. Implementations serialise writes per key.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in a bounded LRU. Entries also fall out after ttl.
type MemoryStore struct {
	cache *expirable.LRU[string, []byte]
}

// NewMemoryStore creates a store holding at most size sessions.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	data, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	m.cache.Add(s.ID, data)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Remove(id)
	return nil
}

// Len reports the number of stored sessions.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

const badgerKeyPrefix = "session:"

// BadgerStore keeps sessions on disk so they survive restarts.
type BadgerStore struct {
	db *badger.DB
	// retention keeps records around past ExpiresAt; expiry itself is checked on read.
	retention time.Duration
}

// OpenBadgerStore opens (or creates) a badger database at path.
func OpenBadgerStore(path string, retention time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return NewBadgerStore(db, retention), nil
}

// NewBadgerStore wraps an open badger database.
func NewBadgerStore(db *badger.DB, retention time.Duration) *BadgerStore {
	return &BadgerStore{db: db, retention: retention}
}

func (b *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return decode(data)
}

func (b *BadgerStore) Save(_ context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt) + b.retention
	if ttl <= 0 {
		ttl = b.retention
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(badgerKeyPrefix+s.ID), data).WithTTL(ttl))
	})
}

func (b *BadgerStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + id))
	})
}

// Close flushes and closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
