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


// Package storage provides the vector index abstraction for docsearch.
//
// This package defines the VectorIndex interface that decouples the index
// implementation from ingestion and retrieval logic, so different backends
// (BadgerDB, in-memory, etc.) can be used interchangeably.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return the storage.VectorIndex
// interface to enforce abstraction:
//
//	index, err := badger.NewIndex(path)  // returns storage.VectorIndex
//
// Internal constructors may return concrete types since they are only used
// within the implementation package.
//
// # Visibility Protocol
//
// The index separates staging from visibility. Upsert writes a document
// version's records without exposing them to Search; Publish atomically
// swaps the document's visible version. Readers therefore see either the
// complete old version or the complete new one, never a mix. DeleteVersion
// cleans up staged records after a failed ingest, or the superseded version
// after a successful publish.
//
// # Thread Safety
//
// All VectorIndex implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
