// Package store implements the durable journal of validators, signed
// blocks, signed attestations, and slashing-protection metadata.
//
// It is built directly on go.etcd.io/bbolt rather than a SQL database:
// bbolt gives a single writer and MVCC readers, which satisfies the
// "strict serializable transactions" contract the decision engine requires
// without a separate database process. Each exported method that mutates
// state does so inside a single bbolt read-write transaction, so detection
// queries and the conditional insert that follows them commit atomically.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/semaphore"
)

var (
	validatorsBucket  = []byte("validators")             // public_key -> big-endian uint64 id
	validatorIDBucket = []byte("validator_ids")          // big-endian uint64 id -> public_key
	blocksBucket      = []byte("blocks")                 // id -> (sub-bucket) slot -> signing_root
	attByTargetBucket = []byte("attestations_by_target") // id -> (sub-bucket) target -> source||root
	watermarksBucket  = []byte("watermarks")             // id -> (sub-bucket) key -> big-endian uint64
	metadataBucket    = []byte("metadata")
	genesisRootKey    = []byte("genesis_validators_root")
)

const (
	watermarkProposalSlot = "lowest_proposal_slot"
	watermarkTargetEpoch  = "lowest_target_epoch"
)

// maxRetries bounds the number of times a write transaction is retried
// after a transient failure before the caller is told the store is
// unavailable. Per spec §4.3, persistent failure must surface, not hang.
const maxRetries = 3

// Store is the durable journal described in spec §4.1.
type Store struct {
	db *bolt.DB

	// writers bounds the number of callers blocked on the single bbolt
	// writer at once, so that a caller past its deadline does not sit in
	// an unbounded queue. Adapted from the teacher's protector/kvpool
	// connection pool, which used the same semaphore.Weighted pattern to
	// bound concurrent access to a single embedded store.
	writers *semaphore.Weighted
}

// Open opens (creating if necessary) the bbolt file at path and ensures
// all top-level buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "bolt.Open")
	}
	s := &Store{db: db, writers: semaphore.NewWeighted(1)}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			validatorsBucket, validatorIDBucket, blocksBucket,
			attByTargetBucket, watermarksBucket, metadataBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating buckets")
	}
	return s, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Txn is a handle to a single transaction, passed to the primitive
// operations in spec §4.1. It must not be used outside the callback that
// produced it.
type Txn struct {
	tx *bolt.Tx
}

// Update runs fn inside a single read-write transaction. On a transient
// failure (lock acquisition or commit error) it retries a bounded number
// of times before returning ErrUnavailable, per spec §4.3 and §7. It also
// honors ctx's deadline: if ctx is done before the transaction starts, it
// returns ctx.Err() without touching storage, and a context cancelled
// mid-transaction aborts the attempt without committing.
func (s *Store) Update(ctx context.Context, fn func(*Txn) error) error {
	if err := s.writers.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.writers.Release(1)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(tx *bolt.Tx) error {
			return fn(&Txn{tx: tx})
		})
		if err == nil {
			return nil
		}
		// Domain errors (conflicts, set-once violations) are not transient:
		// surface them immediately instead of retrying or masking them.
		if isDomainError(err) {
			return err
		}
		lastErr = err
	}
	return errors.Wrapf(ErrUnavailable, "after %d attempts: %v", maxRetries, lastErr)
}

// View runs fn inside a single read-only transaction. Used by export to
// take a single repeatable-read snapshot of the journal (spec §4.4).
func (s *Store) View(ctx context.Context, fn func(*Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Txn{tx: tx})
	})
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrGenesisRootAlreadySet) ||
		errors.Is(err, ErrBlockConflict) ||
		errors.Is(err, ErrAttestationConflict)
}
