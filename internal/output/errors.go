package output

import "errors"

// Domain errors for the output package.
var (
	// ErrNoBaseDir is returned when no output base directory is configured.
	ErrNoBaseDir = errors.New("output: no output directory configured")

	// ErrInvalidName is returned when a run name cannot be used as a directory name.
	ErrInvalidName = errors.New("output: invalid run name")

	// ErrNamesExhausted is returned when every suffixed directory name is taken.
	ErrNamesExhausted = errors.New("output: no free run directory name")

	// ErrChannelMismatch is returned when the two channel rows differ in length.
	ErrChannelMismatch = errors.New("output: channel length mismatch")

	// ErrMalformedArtifact is returned when an artifact file cannot be parsed.
	ErrMalformedArtifact = errors.New("output: malformed artifact")
)
