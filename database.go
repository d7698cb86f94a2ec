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


package docsearch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/docsearch/ai"
	"github.com/poiesic/docsearch/ai/openai"
	"github.com/poiesic/docsearch/chunker"
	"github.com/poiesic/docsearch/embedding"
	"github.com/poiesic/docsearch/ingestion"
	"github.com/poiesic/docsearch/search"
	"github.com/poiesic/docsearch/storage"
	"github.com/poiesic/docsearch/storage/badger"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "documents"

// Database bundles the vector index and the embedding orchestrator and
// hands out coordinators and searchers wired to both.
type Database struct {
	index        storage.VectorIndex
	orchestrator *embedding.Orchestrator
	chunkerCfg   *chunker.Config
	collection   string
	logger       *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig        *ai.Config
	embeddingConfig *embedding.Config
	chunkerConfig   *chunker.Config
	collection      string
	autoCreate      bool
	embedder        ai.Embedder
}

// WithAIConfig sets the embedding provider configuration.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		if config != nil {
			o.aiConfig = config
		}
	}
}

// WithEmbeddingConfig sets batching and retry limits for the orchestrator.
func WithEmbeddingConfig(config *embedding.Config) DatabaseOption {
	return func(o *databaseOptions) {
		if config != nil {
			o.embeddingConfig = config
		}
	}
}

// WithChunkerConfig sets the chunking limits used by coordinators.
func WithChunkerConfig(config *chunker.Config) DatabaseOption {
	return func(o *databaseOptions) {
		if config != nil {
			o.chunkerConfig = config
		}
	}
}

// WithCollection sets the collection name.
// Default is DefaultCollection.
func WithCollection(name string) DatabaseOption {
	return func(o *databaseOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithAutoCreateCollections makes the index create missing collections on
// write and treat them as empty on read. Default is off; the configured
// collection is created either way.
func WithAutoCreateCollections(enabled bool) DatabaseOption {
	return func(o *databaseOptions) {
		o.autoCreate = enabled
	}
}

// WithEmbedder replaces the OpenAI-compatible embedder. Used by tests and
// by callers bringing their own ai.Embedder implementation.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// NewDatabase opens the index at filePath and connects the embedding
// provider.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		aiConfig:        ai.DefaultConfig(),
		embeddingConfig: embedding.DefaultConfig(),
		chunkerConfig:   chunker.DefaultConfig(),
		collection:      DefaultCollection,
	}
	for _, opt := range opts {
		opt(options)
	}

	embedder := options.embedder
	if embedder == nil {
		var err error
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			return nil, err
		}
	}

	orchestrator, err := embedding.NewOrchestrator(embedder, options.embeddingConfig)
	if err != nil {
		return nil, err
	}

	index, err := badger.NewIndex(filePath, badger.WithAutoCreateCollections(options.autoCreate))
	if err != nil {
		orchestrator.Release()
		return nil, err
	}

	db := &Database{
		index:        index,
		orchestrator: orchestrator,
		chunkerCfg:   options.chunkerConfig,
		collection:   options.collection,
		logger:       slog.Default(),
	}

	if err := db.ensureCollection(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ensureCollection creates the configured collection if it is missing.
func (db *Database) ensureCollection() error {
	err := db.index.CreateCollection(context.Background(), db.collection)
	if err != nil && !errors.Is(err, storage.ErrCollectionExists) {
		return err
	}
	return nil
}

// Close releases the orchestrator and closes the index.
func (db *Database) Close() error {
	db.orchestrator.Release()
	if err := db.index.Close(); err != nil {
		db.logger.Error("error closing index", "err", err)
		return err
	}
	return nil
}

// Index returns the underlying vector index.
func (db *Database) Index() storage.VectorIndex {
	return db.index
}

// Collection returns the configured collection name.
func (db *Database) Collection() string {
	return db.collection
}

// NewCoordinator creates an ingestion coordinator writing into the
// database's collection.
func (db *Database) NewCoordinator(opts ...ingestion.Option) (*ingestion.Coordinator, error) {
	chk, err := chunker.NewChunker(db.chunkerCfg)
	if err != nil {
		return nil, err
	}
	return ingestion.NewCoordinator(chk, db.orchestrator, db.index, db.collection, opts...)
}

// NewSearcher creates a searcher over the database's collection.
func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(db.index, db.orchestrator, db.collection, opts...)
}
