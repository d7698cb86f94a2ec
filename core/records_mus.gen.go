// Code generated by musgen-go. DO NOT EDIT.

package core

import (
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

var (
	slicepXb3WteQhvt7iMeuuUoSfQΞΞ = ord.NewSliceSer[float32](varint.Float32)
)

var VersionMUS = versionMUS{}

type versionMUS struct{}

func (s versionMUS) Marshal(v Version, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (s versionMUS) Unmarshal(bs []byte) (v Version, n int, err error) {
	tmp, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return
	}
	v = Version(tmp)
	return
}

func (s versionMUS) Size(v Version) (size int) {
	return varint.Uint64.Size(uint64(v))
}

func (s versionMUS) Skip(bs []byte) (n int, err error) {
	return varint.Uint64.Skip(bs)
}

var ChunkMUS = chunkMUS{}

type chunkMUS struct{}

func (s chunkMUS) Marshal(v Chunk, bs []byte) (n int) {
	n = ord.String.Marshal(v.DocumentID, bs)
	n += VersionMUS.Marshal(v.Version, bs[n:])
	n += varint.Int.Marshal(v.Seq, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += varint.Int.Marshal(v.StartOffset, bs[n:])
	n += varint.Int.Marshal(v.EndOffset, bs[n:])
	n += varint.Int.Marshal(v.Page, bs[n:])
	return n + varint.Int.Marshal(v.TokenCount, bs[n:])
}

func (s chunkMUS) Unmarshal(bs []byte) (v Chunk, n int, err error) {
	v.DocumentID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Version, n1, err = VersionMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Seq, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Text, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.StartOffset, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.EndOffset, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Page, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.TokenCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	return
}

func (s chunkMUS) Size(v Chunk) (size int) {
	size = ord.String.Size(v.DocumentID)
	size += VersionMUS.Size(v.Version)
	size += varint.Int.Size(v.Seq)
	size += ord.String.Size(v.Text)
	size += varint.Int.Size(v.StartOffset)
	size += varint.Int.Size(v.EndOffset)
	size += varint.Int.Size(v.Page)
	return size + varint.Int.Size(v.TokenCount)
}

func (s chunkMUS) Skip(bs []byte) (n int, err error) {
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	var n1 int
	n1, err = VersionMUS.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = ord.String.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Int.Skip(bs[n:])
	n += n1
	return
}

var EmbeddingRecordMUS = embeddingRecordMUS{}

type embeddingRecordMUS struct{}

func (s embeddingRecordMUS) Marshal(v EmbeddingRecord, bs []byte) (n int) {
	n = ChunkMUS.Marshal(v.Chunk, bs)
	n += slicepXb3WteQhvt7iMeuuUoSfQΞΞ.Marshal(v.Vector, bs[n:])
	n += varint.Uint64.Marshal(v.InsertedSeq, bs[n:])
	return n + raw.TimeUnixMicro.Marshal(v.InsertedAt, bs[n:])
}

func (s embeddingRecordMUS) Unmarshal(bs []byte) (v EmbeddingRecord, n int, err error) {
	v.Chunk, n, err = ChunkMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Vector, n1, err = slicepXb3WteQhvt7iMeuuUoSfQΞΞ.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.InsertedSeq, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.InsertedAt, n1, err = raw.TimeUnixMicro.Unmarshal(bs[n:])
	n += n1
	return
}

func (s embeddingRecordMUS) Size(v EmbeddingRecord) (size int) {
	size = ChunkMUS.Size(v.Chunk)
	size += slicepXb3WteQhvt7iMeuuUoSfQΞΞ.Size(v.Vector)
	size += varint.Uint64.Size(v.InsertedSeq)
	return size + raw.TimeUnixMicro.Size(v.InsertedAt)
}

func (s embeddingRecordMUS) Skip(bs []byte) (n int, err error) {
	n, err = ChunkMUS.Skip(bs)
	if err != nil {
		return
	}
	var n1 int
	n1, err = slicepXb3WteQhvt7iMeuuUoSfQΞΞ.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = varint.Uint64.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	n1, err = raw.TimeUnixMicro.Skip(bs[n:])
	n += n1
	return
}

var CollectionInfoMUS = collectionInfoMUS{}

type collectionInfoMUS struct{}

func (s collectionInfoMUS) Marshal(v CollectionInfo, bs []byte) (n int) {
	n = ord.String.Marshal(v.Name, bs)
	return n + raw.TimeUnixMicro.Marshal(v.CreatedAt, bs[n:])
}

func (s collectionInfoMUS) Unmarshal(bs []byte) (v CollectionInfo, n int, err error) {
	v.Name, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.CreatedAt, n1, err = raw.TimeUnixMicro.Unmarshal(bs[n:])
	n += n1
	return
}

func (s collectionInfoMUS) Size(v CollectionInfo) (size int) {
	size = ord.String.Size(v.Name)
	return size + raw.TimeUnixMicro.Size(v.CreatedAt)
}

func (s collectionInfoMUS) Skip(bs []byte) (n int, err error) {
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	var n1 int
	n1, err = raw.TimeUnixMicro.Skip(bs[n:])
	n += n1
	return
}
