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


package embedding

import "errors"

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrRateLimitExceeded indicates the provider kept rate-limiting the
	// request until the retry budget ran out.
	ErrRateLimitExceeded = errors.New("embedding rate limit exceeded")

	// ErrEmbeddingService indicates a transient provider failure that
	// survived all retry attempts.
	ErrEmbeddingService = errors.New("embedding service unavailable")

	// ErrEmbeddingRequest indicates the provider rejected the request
	// permanently (bad input, auth failure). Never retried.
	ErrEmbeddingRequest = errors.New("embedding request rejected")

	// ErrResultMismatch indicates the provider returned a different number
	// of vectors than texts submitted.
	ErrResultMismatch = errors.New("embedding result count mismatch")
)
