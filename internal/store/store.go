// Package store persists the latest login token per account in a bbolt file.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	logs "github.com/danmuck/msfcore/internal/logging"
	"go.etcd.io/bbolt"
)

const fileName = "tokens.db"

var tokensBucket = []byte("tokens")

var ErrNotFound = errors.New("store: token not found")

// TokenStore implements client.TokenStore.
type TokenStore struct {
	db *bbolt.DB
}

// Open opens or creates the token database under dir.
func Open(dir string) (*TokenStore, error) {
	path := filepath.Join(dir, fileName)
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init %s: %w", path, err)
	}
	logs.Debugf("store.Open path=%s", path)
	return &TokenStore{db: db}, nil
}

func (s *TokenStore) Close() error {
	return s.db.Close()
}

func key(uin uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, uin)
}

// SaveToken replaces the stored token for uin.
func (s *TokenStore) SaveToken(uin uint32, token []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokensBucket).Put(key(uin), token)
	})
	if err != nil {
		return fmt.Errorf("store: save %d: %w", uin, err)
	}
	logs.Debugf("store.SaveToken uin=%d bytes=%d", uin, len(token))
	return nil
}

// LoadToken returns a copy of the stored token, or ErrNotFound.
func (s *TokenStore) LoadToken(uin uint32) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get(key(uin))
		if v == nil {
			return fmt.Errorf("%d: %w", uin, ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteToken forgets uin's token. Deleting a missing token is not an error.
func (s *TokenStore) DeleteToken(uin uint32) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete(key(uin))
	})
}

// Uins lists the accounts with a stored token in ascending order.
func (s *TokenStore) Uins() ([]uint32, error) {
	var uins []uint32
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, _ []byte) error {
			if len(k) == 4 {
				uins = append(uins, binary.BigEndian.Uint32(k))
			}
			return nil
		})
	})
	return uins, err
}
