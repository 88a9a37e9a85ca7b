package store

import "bytes"

// GetGenesisValidatorsRoot returns the stored genesis validators root, or
// nil if it has never been set.
func (t *Txn) GetGenesisValidatorsRoot() ([]byte, error) {
	v := t.tx.Bucket(metadataBucket).Get(genesisRootKey)
	if v == nil {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

// SetGenesisValidatorsRoot sets the genesis validators root. It is
// set-once: calling it again with a different value fails with
// ErrGenesisRootAlreadySet (spec §3, Metadata invariant I5).
func (t *Txn) SetGenesisValidatorsRoot(root []byte) error {
	bucket := t.tx.Bucket(metadataBucket)
	existing := bucket.Get(genesisRootKey)
	if existing != nil {
		if bytes.Equal(existing, root) {
			return nil
		}
		return ErrGenesisRootAlreadySet
	}
	return bucket.Put(genesisRootKey, root)
}
