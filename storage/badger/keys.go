package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/docsearch/core"
)

// Key prefixes for different data types
const (
	collectionPrefix = "colrec"
	recordPrefix     = "embrec"
	manifestPrefix   = "docver"
	insertedSeqName  = "embseq"
)

// makeCollectionKey generates a key for collection metadata by name.
func makeCollectionKey(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", collectionPrefix, name))
}

// makeRecordKey generates a key for an embedding record.
// Format: prefix:collection:documentID:version:seq
// Version and seq are written BigEndian so lexicographic order follows
// numeric order within a document.
func makeRecordKey(collection, documentID string, version core.Version, seq int) []byte {
	prefix := makeVersionPrefix(collection, documentID, version)
	buf := make([]byte, len(prefix)+4)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[offset:], uint32(seq))
	return buf
}

// makeVersionPrefix generates the key prefix covering all records of one
// document version. Format: prefix:collection:documentID:version:
func makeVersionPrefix(collection, documentID string, version core.Version) []byte {
	head := fmt.Sprintf("%s:%s:%s:", recordPrefix, collection, documentID)
	buf := make([]byte, len(head)+9)
	offset := copy(buf, head)
	binary.BigEndian.PutUint64(buf[offset:], uint64(version))
	buf[offset+8] = ':'
	return buf
}

// makeManifestKey generates the visible-version manifest key for a document.
func makeManifestKey(collection, documentID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", manifestPrefix, collection, documentID))
}

// makeManifestPrefix generates the key prefix covering all manifest entries
// of a collection.
func makeManifestPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", manifestPrefix, collection))
}

// documentIDFromManifestKey extracts the document ID from a manifest key.
// Document IDs never contain ':' (enforced by core.ValidateDocumentID), so
// the suffix after the collection prefix is the ID itself.
func documentIDFromManifestKey(key, prefix []byte) string {
	return string(key[len(prefix):])
}

// sequenceName generates the name of the per-collection insertion counter.
func sequenceName(collection string) string {
	return fmt.Sprintf("%s:%s", insertedSeqName, collection)
}
