// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key scheme:
//   tok:<token>     -> Record (JSON)
//   xlog:<seq>      -> ExchangeEntry (JSON), seq is a zero-padded counter
const (
	tokenPrefix    = "tok:"
	exchangePrefix = "xlog:"
	exchangeSeqKey = "xseq"
)

// BadgerStore is the embedded single-node store.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Put(_ context.Context, rec *Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(tokenPrefix+rec.Token), buf)
	})
}

func (s *BadgerStore) Get(_ context.Context, token string) (*Record, error) {
	var out Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tokenPrefix + token))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) MarkInvalidated(_ context.Context, token string) error {
	key := []byte(tokenPrefix + token)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var rec Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		rec.Invalidated = true
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *BadgerStore) AppendExchange(_ context.Context, entry *ExchangeEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		seq := uint64(0)
		item, err := txn.Get([]byte(exchangeSeqKey))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				_, scanErr := fmt.Sscanf(string(val), "%d", &seq)
				return scanErr
			}); err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			// first entry
		default:
			return err
		}
		seq++
		if err := txn.Set([]byte(exchangeSeqKey), []byte(fmt.Sprintf("%d", seq))); err != nil {
			return err
		}
		key := fmt.Sprintf("%s%020d", exchangePrefix, seq)
		return txn.Set([]byte(key), buf)
	})
}

func (s *BadgerStore) Exchanges(_ context.Context) ([]ExchangeEntry, error) {
	var out []ExchangeEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(exchangePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var entry ExchangeEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
