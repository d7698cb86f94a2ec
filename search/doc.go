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


// Package search provides the retrieval engine over the vector index.
//
// The Searcher type implements a multi-stage retrieval pipeline:
//   - Query embedding via the embedding orchestrator
//   - Similarity search over visible index records
//   - Minimum-similarity thresholding
//   - Adjacent-chunk deduplication within each document version
//
// Ranking is deterministic: descending cosine similarity with ties broken
// by insertion recency, so repeated queries against an unchanged index
// return identical result lists.
package search
