package interchange

import "github.com/pkg/errors"

// Error kinds raised by Import/Export, per spec §4.4 and §7. Unlike the
// decision engine's sign paths, these are never collapsed to a boolean:
// a caller must be told why an interchange operation failed.
var (
	// ErrMissingGenesisRoot is raised by Export when no genesis validators
	// root has ever been set.
	ErrMissingGenesisRoot = errors.New("missing genesis validators root")

	// ErrGenesisRootMismatch is raised by Import when the file's metadata
	// names a genesis validators root different from the one already
	// stored.
	ErrGenesisRootMismatch = errors.New("genesis validators root mismatch")

	// ErrUnsupportedVersion is raised when interchange_format_version is
	// anything other than "5".
	ErrUnsupportedVersion = errors.New("unsupported interchange format version")

	// ErrMalformedInterchange is raised for structural problems in the
	// input stream: bad hex, bad decimal integers, source > target, or a
	// document missing required fields.
	ErrMalformedInterchange = errors.New("malformed interchange data")

	// ErrInterchangeConflict is raised when an imported record collides
	// with existing state on a different signing root, or would create a
	// surround vote. The whole import is rolled back.
	ErrInterchangeConflict = errors.New("interchange import conflict")
)
