package store

import (
	"bytes"

	types "github.com/prysmaticlabs/eth2-types"
)

// FindExistingBlock returns the stored block for (validatorID, slot), or
// nil if none exists (spec §4.1).
func (t *Txn) FindExistingBlock(validatorID uint64, slot types.Slot) (*SignedBlock, error) {
	bucket, err := t.blocksBucketFor(validatorID, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, nil
	}
	root := bucket.Get(uint64ToBytes(uint64(slot)))
	if root == nil {
		return nil, nil
	}
	return &SignedBlock{ValidatorID: validatorID, Slot: slot, SigningRoot: append([]byte{}, root...)}, nil
}

// InsertBlock stores a new signed block. It fails with ErrBlockConflict if
// (validatorID, slot) already exists with a different signing root; a
// matching root is treated as a no-op (idempotent rebroadcast).
func (t *Txn) InsertBlock(b SignedBlock) error {
	bucket, err := t.blocksBucketFor(b.ValidatorID, true)
	if err != nil {
		return err
	}
	key := uint64ToBytes(uint64(b.Slot))
	if existing := bucket.Get(key); existing != nil {
		if bytes.Equal(existing, b.SigningRoot) {
			return nil
		}
		return ErrBlockConflict
	}
	return bucket.Put(key, b.SigningRoot)
}

// BlocksForValidator returns every stored block for the validator, ordered
// by ascending slot, for the interchange exporter.
func (t *Txn) BlocksForValidator(validatorID uint64) ([]SignedBlock, error) {
	bucket, err := t.blocksBucketFor(validatorID, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, nil
	}
	var out []SignedBlock
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		out = append(out, SignedBlock{
			ValidatorID: validatorID,
			Slot:        types.Slot(bytesToUint64(k)),
			SigningRoot: append([]byte{}, v...),
		})
	}
	return out, nil
}

// LowestSignedProposalSlot returns the watermark at or below which no
// future proposal may be signed without a matching existing record
// (spec §4.4's low-watermark policy), and whether one has been set.
func (t *Txn) LowestSignedProposalSlot(validatorID uint64) (types.Slot, bool, error) {
	v, ok, err := t.getWatermark(validatorID, watermarkProposalSlot)
	return types.Slot(v), ok, err
}

// RaiseLowestSignedProposalSlot moves the proposal watermark up to slot if
// slot is higher than the current watermark.
func (t *Txn) RaiseLowestSignedProposalSlot(validatorID uint64, slot types.Slot) error {
	return t.raiseWatermark(validatorID, watermarkProposalSlot, uint64(slot))
}
