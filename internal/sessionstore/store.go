// Package sessionstore keeps the locker CLI's state between invocations:
// the current directory, the clipboard and the login token, per server.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mahmoud-eltahawy/webls/pkg/session"
)

const (
	statePrefix = "state:"
	tokenPrefix = "token:"
)

// Token is a saved login.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is a badger-backed key/value store.
type Store struct {
	db *badger.DB
}

// Open opens the store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) set(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// LoadState returns the saved session state for server, or a zero state.
func (s *Store) LoadState(server string) (session.State, error) {
	var st session.State
	_, err := s.get(statePrefix+server, &st)
	return st, err
}

// SaveState saves the session state for server.
func (s *Store) SaveState(server string, st session.State) error {
	return s.set(statePrefix+server, st, 0)
}

// LoadToken returns the saved token for server. Expired tokens are never
// returned.
func (s *Store) LoadToken(server string) (Token, bool, error) {
	var tok Token
	ok, err := s.get(tokenPrefix+server, &tok)
	if err != nil || !ok {
		return Token{}, false, err
	}
	if !tok.ExpiresAt.IsZero() && time.Now().After(tok.ExpiresAt) {
		return Token{}, false, nil
	}
	return tok, true, nil
}

// SaveToken saves a token for server until it expires.
func (s *Store) SaveToken(server string, tok Token) error {
	var ttl time.Duration
	if !tok.ExpiresAt.IsZero() {
		ttl = time.Until(tok.ExpiresAt)
		if ttl <= 0 {
			return s.delete(tokenPrefix + server)
		}
	}
	return s.set(tokenPrefix+server, tok, ttl)
}

// Forget removes everything saved for server.
func (s *Store) Forget(server string) error {
	if err := s.delete(statePrefix + server); err != nil {
		return err
	}
	return s.delete(tokenPrefix + server)
}
