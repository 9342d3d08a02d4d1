package chronicle

import "errors"

// Sentinel errors surfaced across the producer and consumer APIs. Internal
// pipeline errors (storage, encryption, integrity) live in their own
// packages and are wrapped into these or into metrics counters by the
// packer; producers only ever see the ring errors below.
var (
	// ErrFull is returned by Enqueue when the ring has no room for the
	// frame under the configured overflow policy.
	ErrFull = errors.New("chronicle: ring buffer full")

	// ErrTooLarge is returned when a single event exceeds half the ring's
	// capacity. Fatal for the producer's event, not for the ring.
	ErrTooLarge = errors.New("chronicle: event exceeds maximum frame size")

	// ErrDegraded describes the Degraded state (see packer.StateDegraded).
	// No Core method returns it: Enqueue keeps accepting writes while
	// degraded, and a Trigger is ignored until Acknowledge.
	ErrDegraded = errors.New("chronicle: core is degraded, awaiting operator acknowledgement")
)
