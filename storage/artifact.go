package storage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/integrity"
)

// Artifact describes one written `.col` file, the union of its sidecar
// fields and its final path, returned from WriteBatch.
type Artifact struct {
	Path             string
	SchemaVersion    integrity.SchemaVersion
	RecordCount      int
	ByteSizeOnDisk   int64
	UncompressedSize int64
	Checksum         integrity.Digest
	EncryptionKeyID  string // empty if encryption disabled
	TemporalWarning  bool
}

// Sidecar is the JSON structure persisted as `<artifact>.meta.json`.
type Sidecar struct {
	SchemaVersion    integrity.SchemaVersion `json:"schema_version"`
	RecordCount      int                     `json:"record_count"`
	ByteSizeOnDisk   int64                   `json:"byte_size_on_disk"`
	UncompressedSize int64                   `json:"uncompressed_size"`
	ChecksumAlgo     integrity.Algorithm     `json:"checksum_algorithm"`
	ChecksumSum      []byte                  `json:"checksum_sum"`
	EncryptionKeyID  string                  `json:"encryption_key_id,omitempty"`
	TemporalWarning  bool                    `json:"temporal_warning"`
	CreatedAtUnixNS  int64                   `json:"created_at_unix_ns"`
}

// encodeColumns lays out one length-prefixed column stream per event
// field, sequentially, generalizing head_block's single length-prefixed
// append stream to multiple parallel streams within a row group.
//
// Row groups are delimited by a [u32 row_count] header; within a row
// group, each of the seven columns is written as [u32 byte_len][bytes].
func encodeColumns(records []*event.EventRecord, rowGroupSize int) ([]byte, error) {
	var out []byte
	for start := 0; start < len(records); start += rowGroupSize {
		end := start + rowGroupSize
		if end > len(records) {
			end = len(records)
		}
		group := records[start:end]

		header := make([]byte, 4)
		binary.LittleEndian.PutUint32(header, uint32(len(group)))
		out = append(out, header...)

		cols := [7][]byte{}
		for _, r := range group {
			ts := make([]byte, 8)
			binary.LittleEndian.PutUint64(ts, uint64(r.TimestampNS))
			cols[0] = append(cols[0], ts...)

			cols[1] = append(cols[1], byte(r.EventType))

			cols[2] = appendLPString(cols[2], r.SessionID)
			cols[3] = appendLPString(cols[3], r.EventID)
			cols[4] = appendLPString(cols[4], r.AppBundleID)
			cols[5] = appendLPString(cols[5], r.WindowTitle)
			cols[6] = appendLPBytes(cols[6], r.Data)
		}

		for _, col := range cols {
			colHeader := make([]byte, 4)
			binary.LittleEndian.PutUint32(colHeader, uint32(len(col)))
			out = append(out, colHeader...)
			out = append(out, col...)
		}
	}
	return out, nil
}

// decodeColumns reverses encodeColumns, reconstructing the original
// records in row order.
func decodeColumns(data []byte) ([]*event.EventRecord, error) {
	var records []*event.EventRecord
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, fmt.Errorf("storage: truncated row-group header")
		}
		rowCount := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4

		cols := make([][]byte, 7)
		for i := range cols {
			if off+4 > len(data) {
				return nil, fmt.Errorf("storage: truncated column header")
			}
			n := int(binary.LittleEndian.Uint32(data[off:]))
			off += 4
			if off+n > len(data) {
				return nil, fmt.Errorf("storage: truncated column body")
			}
			cols[i] = data[off : off+n]
			off += n
		}

		tsCol, typeCol := cols[0], cols[1]
		sessionOff, eventOff, bundleOff, titleOff, dataOff := 0, 0, 0, 0, 0
		for i := 0; i < rowCount; i++ {
			r := &event.EventRecord{}
			r.TimestampNS = int64(binary.LittleEndian.Uint64(tsCol[i*8:]))
			r.EventType = event.EventType(typeCol[i])

			var err error
			r.SessionID, sessionOff, err = readLPString(cols[2], sessionOff)
			if err != nil {
				return nil, err
			}
			r.EventID, eventOff, err = readLPString(cols[3], eventOff)
			if err != nil {
				return nil, err
			}
			r.AppBundleID, bundleOff, err = readLPString(cols[4], bundleOff)
			if err != nil {
				return nil, err
			}
			r.WindowTitle, titleOff, err = readLPString(cols[5], titleOff)
			if err != nil {
				return nil, err
			}
			r.Data, dataOff, err = readLPBytes(cols[6], dataOff)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
	}
	return records, nil
}

func appendLPString(buf []byte, s string) []byte {
	return appendLPBytes(buf, []byte(s))
}

func appendLPBytes(buf []byte, b []byte) []byte {
	lp := make([]byte, 4)
	binary.LittleEndian.PutUint32(lp, uint32(len(b)))
	buf = append(buf, lp...)
	buf = append(buf, b...)
	return buf
}

func readLPString(b []byte, off int) (string, int, error) {
	raw, next, err := readLPBytes(b, off)
	if err != nil {
		return "", off, err
	}
	return string(raw), next, nil
}

func readLPBytes(b []byte, off int) ([]byte, int, error) {
	if off+4 > len(b) {
		return nil, off, io.ErrUnexpectedEOF
	}
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+n > len(b) {
		return nil, off, io.ErrUnexpectedEOF
	}
	return b[off : off+n], off + n, nil
}
