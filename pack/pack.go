// Package pack builds and ingests repository bundles for offline transfer.
package pack

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"kodeon-core/cas"
	"kodeon-core/store"
)

// Bundle format:
// [4 bytes: header length (big-endian)]
// [header JSON: Header]
// [object data...]
//
// The whole stream is zstd-compressed. The header lists each object's digest,
// kind and position within the data section.

const (
	headerLengthSize = 4
	maxHeaderSize    = 10 * 1024 * 1024
)

// Object kinds carried in a bundle.
const (
	KindBlob   = "Blob"
	KindCommit = "Commit"
)

// Entry describes one object inside the data section.
type Entry struct {
	Digest []byte `json:"digest"`
	Kind   string `json:"kind"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// Header is the bundle's JSON index.
type Header struct {
	Version int     `json:"version"`
	Objects []Entry `json:"objects"`
}

// Object is an object handed to Build.
type Object struct {
	Digest  []byte
	Kind    string
	Content []byte
}

// Build writes a zstd-compressed bundle of the given objects to w.
func Build(w io.Writer, objects []Object) error {
	header := Header{Version: 1}
	var data bytes.Buffer

	for _, obj := range objects {
		header.Objects = append(header.Objects, Entry{
			Digest: obj.Digest,
			Kind:   obj.Kind,
			Offset: int64(data.Len()),
			Length: int64(len(obj.Content)),
		})
		data.Write(obj.Content)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}
	if len(headerJSON) > maxHeaderSize {
		return fmt.Errorf("header too large: %d bytes", len(headerJSON))
	}

	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}

	var lenBuf [headerLengthSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(headerJSON)))
	if _, err := encoder.Write(lenBuf[:]); err != nil {
		encoder.Close()
		return fmt.Errorf("writing header length: %w", err)
	}
	if _, err := encoder.Write(headerJSON); err != nil {
		encoder.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := encoder.Write(data.Bytes()); err != nil {
		encoder.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	return encoder.Close()
}

// Ingest reads a bundle from r, verifies every object digest and stores
// blobs and commits. Objects already present are skipped (idempotent). It
// returns the number of objects processed.
func Ingest(db *store.DB, r io.Reader) (int, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	if err != nil {
		return 0, fmt.Errorf("decompressing: %w", err)
	}
	if len(decompressed) < headerLengthSize {
		return 0, fmt.Errorf("bundle too small: %d bytes", len(decompressed))
	}

	headerLen := binary.BigEndian.Uint32(decompressed[:headerLengthSize])
	if headerLen > maxHeaderSize {
		return 0, fmt.Errorf("header too large: %d bytes", headerLen)
	}
	if int(headerLengthSize+headerLen) > len(decompressed) {
		return 0, fmt.Errorf("header length exceeds bundle size")
	}

	var header Header
	if err := json.Unmarshal(decompressed[headerLengthSize:headerLengthSize+headerLen], &header); err != nil {
		return 0, fmt.Errorf("parsing header: %w", err)
	}

	objectData := decompressed[headerLengthSize+headerLen:]

	tx, err := db.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	ingested := 0
	for _, obj := range header.Objects {
		if obj.Offset < 0 || obj.Length < 0 || obj.Offset+obj.Length > int64(len(objectData)) {
			return 0, fmt.Errorf("object %x extends beyond data", obj.Digest)
		}
		content := objectData[obj.Offset : obj.Offset+obj.Length]

		switch obj.Kind {
		case KindBlob:
			if !bytes.Equal(cas.Blake3Hash(content), obj.Digest) {
				return 0, fmt.Errorf("digest mismatch for blob at offset %d", obj.Offset)
			}
			if err := db.PutBlob(tx, obj.Digest, content); err != nil {
				return 0, err
			}
		case KindCommit:
			if !bytes.Equal(cas.Blake3Hash(append([]byte(KindCommit+"\n"), content...)), obj.Digest) {
				return 0, fmt.Errorf("digest mismatch for commit at offset %d", obj.Offset)
			}
			if err := db.InsertCommit(tx, obj.Digest, content); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("unknown object kind %q", obj.Kind)
		}
		ingested++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return ingested, nil
}
