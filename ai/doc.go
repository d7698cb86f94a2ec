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


// Package ai provides abstractions for the embedding services used in docsearch.
//
// This package defines the Embedder interface, which converts text into dense
// vectors for semantic similarity search. It follows the dependency inversion
// principle, allowing the pipeline and retrieval logic to depend on an
// abstraction rather than a concrete provider.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//     (OpenAI, Ollama, LocalAI, vLLM) via langchaingo
//   - ai/mock: Deterministic test doubles for unit testing without a live
//     embedding service
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewEmbedder) return the ai.Embedder INTERFACE
// to enforce abstraction and prevent accidental coupling to the provider.
// Test utility constructors (mock.NewMockEmbedder) return CONCRETE types so
// tests can inject behavior and make assertions (EmbedTextsFunc, CallCount).
//
// # Usage Example
//
//	cfg := ai.NewConfig(
//	    ai.WithHost("http://localhost:11434/v1"),
//	    ai.WithEmbeddingModel("text-embedding-3-small"),
//	)
//	embedder, err := openai.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vectors, err := embedder.EmbedTexts(ctx, []string{"hello", "world"})
package ai
