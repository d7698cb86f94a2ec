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


package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists indicates a collection with that name already exists.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidCollectionName indicates a collection name that cannot be
	// used in index keys.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrIndexUnavailable indicates the index backend is closed or failing.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrVersionConflict indicates the visible-version manifest points at a
	// document version with no records. Prevented by the publish protocol;
	// fatal if observed.
	ErrVersionConflict = errors.New("version conflict")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")
)
