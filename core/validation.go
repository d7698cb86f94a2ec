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


package core

import (
	"fmt"
	"strings"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - ID must be a valid document ID (see ValidateDocumentID)
//   - Text must not be empty after trimming whitespace
//
// NOT validated (populated by the pipeline):
//   - Version (0 is valid; computed from content on submit)
//   - SourcePath and Metadata (optional)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if err := ValidateDocumentID(doc.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyDocument)
	}

	return nil
}

// ValidateDocumentID validates a document identifier.
// IDs must be non-empty and must not contain ':', which the index key
// encoding reserves as a separator.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidDocumentID)
	}
	if strings.ContainsRune(id, ':') {
		return fmt.Errorf("%w: id %q contains ':'", ErrInvalidDocumentID, id)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - DocumentID must be a valid document ID
//   - Text must not be empty
//   - Offsets must describe a non-empty span matching the text length
//   - Seq must not be negative
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if err := ValidateDocumentID(chunk.DocumentID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyChunkText)
	}

	if chunk.Seq < 0 {
		return fmt.Errorf("%w: negative seq %d", ErrInvalidChunk, chunk.Seq)
	}

	if chunk.StartOffset < 0 || chunk.EndOffset <= chunk.StartOffset ||
		chunk.EndOffset-chunk.StartOffset != len(chunk.Text) {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrInvalidChunkSpan)
	}

	return nil
}
