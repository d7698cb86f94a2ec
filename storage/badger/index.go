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


// Package badger implements storage.VectorIndex on BadgerDB.
//
// Layout: one key space holds collection metadata, embedding records keyed
// by (collection, document, version, seq), and a per-document manifest entry
// naming the visible version. Search walks the manifest and scores only
// records of visible versions, which is what makes Upsert-then-Publish an
// atomic visibility swap.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docsearch/core"
	"github.com/poiesic/docsearch/storage"
)

// Index implements storage.VectorIndex over a Backend.
type Index struct {
	backend    *Backend
	autoCreate bool
	logger     *slog.Logger

	mu        sync.Mutex
	sequences map[string]*badger.Sequence
}

var _ storage.VectorIndex = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithAutoCreateCollections makes Upsert and Publish create missing
// collections instead of failing with storage.ErrCollectionNotFound, and
// makes reads and deletes treat a missing collection as an empty one.
// Default is off.
func WithAutoCreateCollections(enabled bool) Option {
	return func(idx *Index) {
		idx.autoCreate = enabled
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Index) {
		if logger == nil {
			logger = slog.Default()
		}
		idx.logger = logger.With("component", "index")
	}
}

// NewIndex opens a persistent index at the given path.
func NewIndex(filePath string, opts ...Option) (storage.VectorIndex, error) {
	backend, err := OpenBackend(filePath, false)
	if err != nil {
		return nil, err
	}
	return newIndex(backend, opts...), nil
}

func newIndex(backend *Backend, opts ...Option) *Index {
	idx := &Index{
		backend:   backend,
		logger:    slog.Default().With("component", "index"),
		sequences: make(map[string]*badger.Sequence),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Close releases sequences and closes the underlying database.
func (idx *Index) Close() error {
	idx.mu.Lock()
	for _, seq := range idx.sequences {
		// Releasing returns unused counter values to the database.
		if err := seq.Release(); err != nil {
			idx.logger.Warn("failed to release sequence", "error", err)
		}
	}
	idx.sequences = make(map[string]*badger.Sequence)
	idx.mu.Unlock()
	return idx.backend.Close()
}

// validateCollectionName rejects names that cannot appear in index keys.
func validateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", storage.ErrInvalidCollectionName)
	}
	if strings.ContainsRune(name, ':') {
		return fmt.Errorf("%w: %q contains ':'", storage.ErrInvalidCollectionName, name)
	}
	return nil
}

// CreateCollection creates a named collection.
func (idx *Index) CreateCollection(ctx context.Context, name string) error {
	if err := idx.available(); err != nil {
		return err
	}
	if err := validateCollectionName(name); err != nil {
		return err
	}

	return idx.backend.WithTx(func(tx *badger.Txn) error {
		key := makeCollectionKey(name)
		_, err := tx.Get(key)
		if err == nil {
			return fmt.Errorf("%w: %s", storage.ErrCollectionExists, name)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		info := &core.CollectionInfo{
			Name:      name,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Set(key, storage.MarshalCollectionInfo(info)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Collections lists all collections, ordered by name.
func (idx *Index) Collections(ctx context.Context) ([]*core.CollectionInfo, error) {
	if err := idx.available(); err != nil {
		return nil, err
	}

	var results []*core.CollectionInfo
	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				info, err := storage.UnmarshalCollectionInfo(val)
				if err != nil {
					return err
				}
				results = append(results, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return results, err
}

// Upsert stages embedding records for later Publish. Records of each
// (document, version) pair present in the batch replace any previously
// staged records for that pair, so re-staging after a partial failure is
// idempotent.
func (idx *Index) Upsert(ctx context.Context, collection string, records []*core.EmbeddingRecord) error {
	if err := idx.available(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	seq, err := idx.sequence(collection)
	if err != nil {
		return err
	}

	return idx.backend.WithTx(func(tx *badger.Txn) error {
		if err := idx.requireCollection(tx, collection, true); err != nil {
			return err
		}

		// Clear previously staged records of every version in the batch.
		seen := make(map[string]bool)
		for _, record := range records {
			prefix := makeVersionPrefix(collection, record.Chunk.DocumentID, record.Chunk.Version)
			if seen[string(prefix)] {
				continue
			}
			seen[string(prefix)] = true
			if err := deletePrefix(tx, prefix); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		for _, record := range records {
			n, err := seq.Next()
			if err != nil {
				return err
			}
			record.InsertedSeq = n
			record.InsertedAt = now

			key := makeRecordKey(collection, record.Chunk.DocumentID, record.Chunk.Version, record.Chunk.Seq)
			if err := tx.Set(key, storage.MarshalEmbeddingRecord(record)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Publish makes the given document version the visible one.
func (idx *Index) Publish(ctx context.Context, collection, documentID string, version core.Version) error {
	if err := idx.available(); err != nil {
		return err
	}

	return idx.backend.WithTx(func(tx *badger.Txn) error {
		if err := idx.requireCollection(tx, collection, true); err != nil {
			return err
		}

		// Refuse to point the manifest at a version with no records.
		staged, err := prefixExists(tx, makeVersionPrefix(collection, documentID, version))
		if err != nil {
			return err
		}
		if !staged {
			return fmt.Errorf("%w: no staged records for %s version %d", storage.ErrNotFound, documentID, version)
		}

		key := makeManifestKey(collection, documentID)
		if err := tx.Set(key, storage.MarshalVersion(version)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// VisibleVersion returns the published version for a document.
func (idx *Index) VisibleVersion(ctx context.Context, collection, documentID string) (core.Version, error) {
	if err := idx.available(); err != nil {
		return 0, err
	}

	var version core.Version
	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		if err := idx.requireCollection(tx, collection, false); err != nil {
			return err
		}

		item, err := tx.Get(makeManifestKey(collection, documentID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: document %s", storage.ErrNotFound, documentID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version, err = storage.UnmarshalVersion(val)
			return err
		})
	}, false)
	// Under auto-create a missing collection is an empty one: the document
	// has no published version yet.
	if idx.autoCreate && errors.Is(err, storage.ErrCollectionNotFound) {
		return 0, fmt.Errorf("%w: document %s", storage.ErrNotFound, documentID)
	}
	return version, err
}

// Search scores visible records against the query vector and returns the
// topK best, descending. Vectors are unit length, so the dot product is the
// cosine similarity.
func (idx *Index) Search(ctx context.Context, collection string, vector []float32, topK int, filters *storage.Filters) ([]*core.SearchResult, error) {
	if err := idx.available(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	var results []*core.SearchResult
	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		if err := idx.requireCollection(tx, collection, false); err != nil {
			return err
		}

		manifestPfx := makeManifestPrefix(collection)
		manifestOpts := badger.DefaultIteratorOptions
		manifestOpts.Prefix = manifestPfx
		manifests := tx.NewIterator(manifestOpts)
		defer manifests.Close()

		for manifests.Rewind(); manifests.Valid(); manifests.Next() {
			item := manifests.Item()
			documentID := documentIDFromManifestKey(item.Key(), manifestPfx)
			if !filters.MatchesDocument(documentID) {
				continue
			}

			var version core.Version
			err := item.Value(func(val []byte) error {
				var err error
				version, err = storage.UnmarshalVersion(val)
				return err
			})
			if err != nil {
				return err
			}

			found, err := idx.scoreVersion(tx, collection, documentID, version, vector, &results)
			if err != nil {
				return err
			}
			if !found {
				idx.logger.Error("manifest points at version with no records",
					"collection", collection, "document", documentID, "version", version)
				return fmt.Errorf("%w: document %s version %d", storage.ErrVersionConflict, documentID, version)
			}
		}
		return nil
	}, false)
	if err != nil {
		// A missing collection holds nothing to search under auto-create.
		if idx.autoCreate && errors.Is(err, storage.ErrCollectionNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Sort by similarity descending; break ties by insertion recency so
	// ordering is deterministic.
	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		if a.Record.InsertedSeq > b.Record.InsertedSeq {
			return -1
		}
		if a.Record.InsertedSeq < b.Record.InsertedSeq {
			return 1
		}
		return 0
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// scoreVersion appends a search result for every record of the given
// document version. Returns false if the version has no records.
func (idx *Index) scoreVersion(tx *badger.Txn, collection, documentID string, version core.Version, vector []float32, results *[]*core.SearchResult) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeVersionPrefix(collection, documentID, version)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	found := false
	for iter.Rewind(); iter.Valid(); iter.Next() {
		found = true
		var record *core.EmbeddingRecord
		err := iter.Item().Value(func(val []byte) error {
			var err error
			record, err = storage.UnmarshalEmbeddingRecord(val)
			return err
		})
		if err != nil {
			return found, err
		}
		if record == nil || len(record.Vector) == 0 {
			continue
		}

		*results = append(*results, &core.SearchResult{
			Record: record,
			Score:  dotProduct(vector, record.Vector),
		})
	}
	return found, nil
}

// Delete removes a document's manifest entry and its visible records.
func (idx *Index) Delete(ctx context.Context, collection, documentID string) error {
	if err := idx.available(); err != nil {
		return err
	}

	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		if err := idx.requireCollection(tx, collection, false); err != nil {
			return err
		}

		manifestKey := makeManifestKey(collection, documentID)
		item, err := tx.Get(manifestKey)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: document %s", storage.ErrNotFound, documentID)
		}
		if err != nil {
			return err
		}

		var version core.Version
		err = item.Value(func(val []byte) error {
			var err error
			version, err = storage.UnmarshalVersion(val)
			return err
		})
		if err != nil {
			return err
		}

		if err := deletePrefix(tx, makeVersionPrefix(collection, documentID, version)); err != nil {
			return err
		}
		if err := tx.Delete(manifestKey); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if idx.autoCreate && errors.Is(err, storage.ErrCollectionNotFound) {
		return fmt.Errorf("%w: document %s", storage.ErrNotFound, documentID)
	}
	return err
}

// DeleteVersion removes the records of one document version. The manifest is
// left alone, so callers must not delete the visible version without first
// publishing a replacement.
func (idx *Index) DeleteVersion(ctx context.Context, collection, documentID string, version core.Version) error {
	if err := idx.available(); err != nil {
		return err
	}

	err := idx.backend.WithTx(func(tx *badger.Txn) error {
		if err := idx.requireCollection(tx, collection, false); err != nil {
			return err
		}
		if err := deletePrefix(tx, makeVersionPrefix(collection, documentID, version)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	// Deleting a version from a missing collection is a no-op under
	// auto-create, same as deleting a version that was never staged.
	if idx.autoCreate && errors.Is(err, storage.ErrCollectionNotFound) {
		return nil
	}
	return err
}

// requireCollection checks collection existence inside a transaction.
// Auto-create only applies to writable transactions; read paths translate
// the ErrCollectionNotFound themselves when auto-create is on.
func (idx *Index) requireCollection(tx *badger.Txn, name string, writable bool) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}

	key := makeCollectionKey(name)
	_, err := tx.Get(key)
	if err == nil {
		return nil
	}
	if err != badger.ErrKeyNotFound {
		return err
	}
	if !idx.autoCreate || !writable {
		return fmt.Errorf("%w: %s", storage.ErrCollectionNotFound, name)
	}

	info := &core.CollectionInfo{
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Set(key, storage.MarshalCollectionInfo(info)); err != nil {
		return err
	}
	idx.logger.Info("auto-created collection", "collection", name)
	return nil
}

// sequence returns the per-collection insertion counter, creating it on
// first use.
func (idx *Index) sequence(collection string) (*badger.Sequence, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if seq, ok := idx.sequences[collection]; ok {
		return seq, nil
	}
	seq, err := idx.backend.GetSequence(sequenceName(collection))
	if err != nil {
		return nil, err
	}
	idx.sequences[collection] = seq
	return seq, nil
}

// available fails fast when the backend has been closed.
func (idx *Index) available() error {
	if idx.backend.IsClosed() {
		return storage.ErrIndexUnavailable
	}
	return nil
}

// deletePrefix removes every key under the given prefix. Keys are collected
// first because writable transactions allow only one live iterator.
func deletePrefix(tx *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// prefixExists reports whether any key exists under the prefix.
func prefixExists(tx *badger.Txn, prefix []byte) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	iter.Rewind()
	return iter.Valid(), nil
}
