package store

import bolt "go.etcd.io/bbolt"

// RegisterValidators inserts any of the given public keys not already
// present and returns the full id mapping for the input set (spec §4.1).
func (t *Txn) RegisterValidators(keys [][]byte) (map[string]uint64, error) {
	bucket := t.tx.Bucket(validatorsBucket)
	ids := t.tx.Bucket(validatorIDBucket)

	out := make(map[string]uint64, len(keys))
	for _, key := range keys {
		if existing := bucket.Get(key); existing != nil {
			out[string(key)] = bytesToUint64(existing)
			continue
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return nil, err
		}
		idBytes := uint64ToBytes(seq)
		if err := bucket.Put(key, idBytes); err != nil {
			return nil, err
		}
		if err := ids.Put(idBytes, key); err != nil {
			return nil, err
		}
		out[string(key)] = seq
	}
	return out, nil
}

// LookupValidators returns the id mapping for the given keys, omitting any
// key that is not registered.
func (t *Txn) LookupValidators(keys [][]byte) (map[string]uint64, error) {
	bucket := t.tx.Bucket(validatorsBucket)
	out := make(map[string]uint64, len(keys))
	for _, key := range keys {
		if existing := bucket.Get(key); existing != nil {
			out[string(key)] = bytesToUint64(existing)
		}
	}
	return out, nil
}

// ListValidators returns every registered validator ordered by ascending
// id, as required by the interchange exporter (spec §4.4).
func (t *Txn) ListValidators() ([]Validator, error) {
	var out []Validator
	c := t.tx.Bucket(validatorIDBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		out = append(out, Validator{ID: bytesToUint64(k), PublicKey: append([]byte{}, v...)})
	}
	return out, nil
}

func (t *Txn) blocksBucketFor(id uint64, create bool) (*bolt.Bucket, error) {
	return subBucket(t.tx.Bucket(blocksBucket), id, create)
}

func (t *Txn) attByTargetBucketFor(id uint64, create bool) (*bolt.Bucket, error) {
	return subBucket(t.tx.Bucket(attByTargetBucket), id, create)
}

func (t *Txn) watermarksBucketFor(id uint64, create bool) (*bolt.Bucket, error) {
	return subBucket(t.tx.Bucket(watermarksBucket), id, create)
}

func subBucket(parent *bolt.Bucket, id uint64, create bool) (*bolt.Bucket, error) {
	key := uint64ToBytes(id)
	if create {
		return parent.CreateBucketIfNotExists(key)
	}
	return parent.Bucket(key), nil
}
