// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/qarchive/storage"
)

// formatMarker is the value stored under the format key.
var formatMarker = []byte{'Q', 'A', storage.FormatVersion}

// ensureFormat writes the format marker into an empty database and checks it
// in an existing one. A database holding records but no marker is corrupt.
func (b *Backend) ensureFormat() error {
	var found []byte
	err := b.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(formatKey))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found, err = item.ValueCopy(nil)
		return err
	}, false)
	if err != nil {
		return fmt.Errorf("%w: reading format marker: %w", storage.ErrIO, err)
	}

	if found != nil {
		if len(found) != len(formatMarker) || found[0] != formatMarker[0] || found[1] != formatMarker[1] {
			return fmt.Errorf("%w: bad format marker %x", storage.ErrCorruptStore, found)
		}
		if found[2] != storage.FormatVersion {
			return fmt.Errorf("%w: %w: version %d", storage.ErrCorruptStore, storage.ErrUnsupportedFormat, found[2])
		}
		return nil
	}

	empty, err := b.isEmpty()
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrIO, err)
	}
	if !empty {
		return fmt.Errorf("%w: records present without format marker", storage.ErrCorruptStore)
	}

	err = b.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte(formatKey), formatMarker); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("%w: writing format marker: %w", storage.ErrIO, err)
	}
	return nil
}

// isEmpty reports whether the database holds no keys at all.
func (b *Backend) isEmpty() (bool, error) {
	empty := true
	err := b.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	}, false)
	return empty, err
}
