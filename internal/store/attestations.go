package store

import (
	"bytes"

	types "github.com/prysmaticlabs/eth2-types"
)

// FindExistingAttestation returns the stored attestation for
// (validatorID, target), or nil if none exists.
func (t *Txn) FindExistingAttestation(validatorID uint64, target types.Epoch) (*SignedAttestation, error) {
	bucket, err := t.attByTargetBucketFor(validatorID, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, nil
	}
	v := bucket.Get(uint64ToBytes(uint64(target)))
	if v == nil {
		return nil, nil
	}
	source, root := decodeTargetValue(v)
	return &SignedAttestation{
		ValidatorID: validatorID,
		Source:      types.Epoch(source),
		Target:      target,
		SigningRoot: root,
	}, nil
}

// FindSurroundingAttestation returns a stored attestation with
// stored.source < source && target < stored.target, if any (spec §4.1).
//
// The data model only guarantees uniqueness on (validatorID, target), so
// more than one stored attestation can share a source epoch; this scans
// every stored attestation for the validator rather than trusting a
// source-keyed index that could only ever remember one target per source.
func (t *Txn) FindSurroundingAttestation(validatorID uint64, source, target types.Epoch) (*SignedAttestation, error) {
	bucket, err := t.attByTargetBucketFor(validatorID, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, nil
	}
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		storedTarget := bytesToUint64(k)
		storedSource, root := decodeTargetValue(v)
		if storedSource < uint64(source) && uint64(target) < storedTarget {
			return &SignedAttestation{
				ValidatorID: validatorID,
				Source:      types.Epoch(storedSource),
				Target:      types.Epoch(storedTarget),
				SigningRoot: root,
			}, nil
		}
	}
	return nil, nil
}

// FindSurroundedAttestation returns a stored attestation with
// source < stored.source && stored.target < target, if any (spec §4.1).
func (t *Txn) FindSurroundedAttestation(validatorID uint64, source, target types.Epoch) (*SignedAttestation, error) {
	bucket, err := t.attByTargetBucketFor(validatorID, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, nil
	}
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		storedTarget := bytesToUint64(k)
		storedSource, root := decodeTargetValue(v)
		if uint64(source) < storedSource && storedTarget < uint64(target) {
			return &SignedAttestation{
				ValidatorID: validatorID,
				Source:      types.Epoch(storedSource),
				Target:      types.Epoch(storedTarget),
				SigningRoot: root,
			}, nil
		}
	}
	return nil, nil
}

// InsertAttestation stores a new signed attestation. It fails with
// ErrAttestationConflict if (validatorID, target) already exists with a
// different signing root; a matching root is a no-op.
func (t *Txn) InsertAttestation(a SignedAttestation) error {
	byTarget, err := t.attByTargetBucketFor(a.ValidatorID, true)
	if err != nil {
		return err
	}
	targetKey := uint64ToBytes(uint64(a.Target))
	if existing := byTarget.Get(targetKey); existing != nil {
		_, existingRoot := decodeTargetValue(existing)
		if bytes.Equal(existingRoot, a.SigningRoot) {
			return nil
		}
		return ErrAttestationConflict
	}
	return byTarget.Put(targetKey, encodeTargetValue(uint64(a.Source), a.SigningRoot))
}

// AttestationsForValidator returns every stored attestation for the
// validator, ordered by (target, source), for the interchange exporter.
func (t *Txn) AttestationsForValidator(validatorID uint64) ([]SignedAttestation, error) {
	bucket, err := t.attByTargetBucketFor(validatorID, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, nil
	}
	var out []SignedAttestation
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		source, root := decodeTargetValue(v)
		out = append(out, SignedAttestation{
			ValidatorID: validatorID,
			Target:      types.Epoch(bytesToUint64(k)),
			Source:      types.Epoch(source),
			SigningRoot: root,
		})
	}
	return out, nil
}

// LowestSignedTargetEpoch returns the attestation target-epoch watermark
// (spec §4.4), and whether one has been set.
func (t *Txn) LowestSignedTargetEpoch(validatorID uint64) (types.Epoch, bool, error) {
	v, ok, err := t.getWatermark(validatorID, watermarkTargetEpoch)
	return types.Epoch(v), ok, err
}

// RaiseLowestSignedTargetEpoch moves the target-epoch watermark up to
// epoch if epoch is higher than the current watermark.
func (t *Txn) RaiseLowestSignedTargetEpoch(validatorID uint64, epoch types.Epoch) error {
	return t.raiseWatermark(validatorID, watermarkTargetEpoch, uint64(epoch))
}

func encodeTargetValue(source uint64, root []byte) []byte {
	v := make([]byte, 8+len(root))
	copy(v, uint64ToBytes(source))
	copy(v[8:], root)
	return v
}

func decodeTargetValue(v []byte) (uint64, []byte) {
	source := bytesToUint64(v[:8])
	root := append([]byte{}, v[8:]...)
	return source, root
}
