package store

import types "github.com/prysmaticlabs/eth2-types"

// Validator is the dense, monotonically-assigned mapping from a BLS public
// key to an internal id (spec §3, Validator).
type Validator struct {
	ID        uint64
	PublicKey []byte
}

// SignedBlock is a permitted block proposal (spec §3, SignedBlock).
type SignedBlock struct {
	ValidatorID uint64
	Slot        types.Slot
	SigningRoot []byte
}

// SignedAttestation is a permitted attestation (spec §3, SignedAttestation).
type SignedAttestation struct {
	ValidatorID uint64
	Source      types.Epoch
	Target      types.Epoch
	SigningRoot []byte
}
