// Package util holds small cross-cutting helpers shared by the chronicle
// core packages, in the spirit of frigg's pkg/util/validation.
package util

import "fmt"

// MaxEventDataBytes bounds the opaque payload carried by a single event
// record. Collectors that exceed this are rejected at validation, not at
// the ring (the ring only bounds the whole frame).
const MaxEventDataBytes = 1 << 20 // 1 MiB

// ValidSessionID reports whether s looks like a session identifier: non
// empty, no path separators, bounded length.
func ValidSessionID(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r == 0 {
			return false
		}
	}
	return true
}

// ValidEventID reports whether an event_id is non-empty and bounded.
func ValidEventID(s string) bool {
	return s != "" && len(s) <= 256
}

// CheckSize returns an error if b exceeds max bytes.
func CheckSize(field string, b []byte, max int) error {
	if len(b) > max {
		return fmt.Errorf("%s: %d bytes exceeds max of %d", field, len(b), max)
	}
	return nil
}
