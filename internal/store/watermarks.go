package store

func (t *Txn) getWatermark(validatorID uint64, key string) (uint64, bool, error) {
	bucket, err := t.watermarksBucketFor(validatorID, false)
	if err != nil {
		return 0, false, err
	}
	if bucket == nil {
		return 0, false, nil
	}
	v := bucket.Get([]byte(key))
	if v == nil {
		return 0, false, nil
	}
	return bytesToUint64(v), true, nil
}

// raiseWatermark sets the stored watermark to value if value is greater
// than (or no watermark yet exists for) the current one. Per spec §4.4,
// the watermark can only move up: it records the highest slot/epoch ever
// observed for the validator, below which future sign requests without a
// matching record are refused.
func (t *Txn) raiseWatermark(validatorID uint64, key string, value uint64) error {
	bucket, err := t.watermarksBucketFor(validatorID, true)
	if err != nil {
		return err
	}
	k := []byte(key)
	if existing := bucket.Get(k); existing != nil && bytesToUint64(existing) >= value {
		return nil
	}
	return bucket.Put(k, uint64ToBytes(value))
}
