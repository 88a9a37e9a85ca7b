package store

import "github.com/pkg/errors"

// Sentinel errors returned by Store operations. Callers use errors.Is to
// classify failures per the engine's fail-closed policy.
var (
	// ErrUnavailable is returned after a bounded number of failed retries
	// against the underlying database.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrGenesisRootAlreadySet is returned by SetGenesisValidatorsRoot when
	// a different root is already stored (metadata is set-once).
	ErrGenesisRootAlreadySet = errors.New("genesis validators root already set")

	// ErrBlockConflict is returned by InsertBlock when a block already
	// exists for (validator, slot) with a different signing root.
	ErrBlockConflict = errors.New("signed block conflict")

	// ErrAttestationConflict is returned by InsertAttestation when an
	// attestation already exists for (validator, target) with a different
	// signing root.
	ErrAttestationConflict = errors.New("signed attestation conflict")
)
