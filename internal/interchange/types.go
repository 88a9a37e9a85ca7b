// Package interchange implements the streaming EIP-3076 v5 JSON codec
// described in spec §4.4: it exchanges the store's journal with peer
// signers without ever materializing the full document in memory.
package interchange

// FormatVersion is the only interchange_format_version this codec accepts
// or ever emits.
const FormatVersion = "5"

// Metadata is the top-level "metadata" object of an interchange document.
type Metadata struct {
	InterchangeFormatVersion string `json:"interchange_format_version"`
	GenesisValidatorsRoot    string `json:"genesis_validators_root"`
}

// ProtectionData is one entry of the top-level "data" array: a single
// validator's signing history.
type ProtectionData struct {
	Pubkey             string               `json:"pubkey"`
	SignedBlocks       []*SignedBlock       `json:"signed_blocks"`
	SignedAttestations []*SignedAttestation `json:"signed_attestations"`
}

// SignedBlock is one entry of a validator's "signed_blocks" array.
// SigningRoot is optional on import: an absent root is a wildcard that can
// never match a concrete root and can never itself be re-exported with one
// (spec §4.4).
type SignedBlock struct {
	Slot        string `json:"slot"`
	SigningRoot string `json:"signing_root,omitempty"`
}

// SignedAttestation is one entry of a validator's "signed_attestations"
// array.
type SignedAttestation struct {
	SourceEpoch string `json:"source_epoch"`
	TargetEpoch string `json:"target_epoch"`
	SigningRoot string `json:"signing_root,omitempty"`
}
