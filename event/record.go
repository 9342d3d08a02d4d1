// Package event defines the fixed-shape record collectors enqueue and the
// packer consumes — the one data type shared by every component in this
// module, from the ring frame codec to the columnar storage writer.
package event

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EventType is a short tag from the closed set of observability events
// Chronicle ingests. Collectors outside this module decide how a raw input
// becomes one of these; the core only validates membership.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventKeystroke
	EventPointerMove
	EventPointerClick
	EventWindowFocus
	EventClipboard
	EventFileSystem
	EventNetwork
	EventAudio
	EventScreenSnapshot
)

var eventTypeNames = map[EventType]string{
	EventKeystroke:      "keystroke",
	EventPointerMove:    "pointer_move",
	EventPointerClick:   "pointer_click",
	EventWindowFocus:    "window_focus",
	EventClipboard:      "clipboard",
	EventFileSystem:     "filesystem",
	EventNetwork:        "network",
	EventAudio:          "audio",
	EventScreenSnapshot: "screen_snapshot",
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Valid reports whether t is a member of the closed tag set (EventUnknown
// is deliberately not valid; it exists only as the zero value).
func (t EventType) Valid() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// EventRecord is the fixed-shape record collectors enqueue and the packer
// consumes. A producer exclusively owns a record until the moment it is
// enqueued; after that the drainer exclusively owns it.
type EventRecord struct {
	TimestampNS  int64
	EventType    EventType
	SessionID    string
	EventID      string
	AppBundleID  string
	WindowTitle  string
	Data         []byte
}

// MarshalBinary encodes the record into the wire format carried inside a
// single ring-buffer frame: a small fixed header followed by the four
// variable-length string fields and the data payload, each itself
// length-prefixed. This
// generalizes frigg's record.go marshalRecord (fixed 28-byte records) to a
// variable-length record, the same way the rest of this package
// generalizes a fixed trace-ID index to arbitrary event fields.
func (r *EventRecord) MarshalBinary() ([]byte, error) {
	size := 8 + 1 + 4*4 + len(r.SessionID) + len(r.EventID) + len(r.AppBundleID) + len(r.WindowTitle) + 4 + len(r.Data)
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], uint64(r.TimestampNS))
	off += 8
	buf[off] = byte(r.EventType)
	off++

	off = putString(buf, off, r.SessionID)
	off = putString(buf, off, r.EventID)
	off = putString(buf, off, r.AppBundleID)
	off = putString(buf, off, r.WindowTitle)
	off = putBytes(buf, off, r.Data)

	return buf[:off], nil
}

// UnmarshalBinary decodes a record previously produced by MarshalBinary.
func (r *EventRecord) UnmarshalBinary(b []byte) error {
	if len(b) < 9 {
		return fmt.Errorf("chronicle: record too short (%d bytes)", len(b))
	}
	off := 0
	r.TimestampNS = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	r.EventType = EventType(b[off])
	off++

	var err error
	if r.SessionID, off, err = getString(b, off); err != nil {
		return err
	}
	if r.EventID, off, err = getString(b, off); err != nil {
		return err
	}
	if r.AppBundleID, off, err = getString(b, off); err != nil {
		return err
	}
	if r.WindowTitle, off, err = getString(b, off); err != nil {
		return err
	}
	if r.Data, _, err = getBytes(b, off); err != nil {
		return err
	}
	return nil
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s)))
	off += 4
	off += copy(buf[off:], s)
	return off
}

func putBytes(buf []byte, off int, b []byte) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
	off += 4
	off += copy(buf[off:], b)
	return off
}

func getString(b []byte, off int) (string, int, error) {
	raw, next, err := getBytes(b, off)
	if err != nil {
		return "", off, err
	}
	return string(raw), next, nil
}

func getBytes(b []byte, off int) ([]byte, int, error) {
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
