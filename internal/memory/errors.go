package memory

import "errors"

// Sentinel errors for seed decoding and bundle import.
var (
	// ErrIntegrityViolation is returned when an imported bundle cannot be
	// verified against its digest. The importing system is left untouched.
	ErrIntegrityViolation = errors.New("memory: bundle integrity violation")

	// ErrMalformedSeed is returned when a seed lacks required fields or
	// carries values that cannot be parsed.
	ErrMalformedSeed = errors.New("memory: malformed seed")

	// ErrUnsupportedVersion is returned for bundles written by an unknown
	// encoder version.
	ErrUnsupportedVersion = errors.New("memory: unsupported bundle version")
)
