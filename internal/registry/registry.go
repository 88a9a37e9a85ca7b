// Package registry implements the in-memory validator public-key-to-id
// mapping described in spec §4.2. It is the only shared mutable state
// inside the decision engine; entries are append-only, matching the
// teacher's kvpool connection table, which never removes or rekeys an
// entry once created.
package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/remotesigner/slashing-protector/internal/store"
)

// ErrUnregistered is returned when a sign request names a public key that
// has not been registered (spec §4.2, §7).
var ErrUnregistered = errors.New("unregistered validator")

// Registry maps a validator public key to its compact internal id.
// Registration is idempotent and append-only: existing keys retain their
// id for the lifetime of the process.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]uint64
}

// New constructs an empty registry. Call Load to populate it from the
// store on startup.
func New() *Registry {
	return &Registry{ids: make(map[string]uint64)}
}

// Load populates the registry from every validator already known to the
// store, so that a restarted process resumes with the same ids.
func (r *Registry) Load(ctx context.Context, s *store.Store) error {
	var validators []store.Validator
	if err := s.View(ctx, func(tx *store.Txn) error {
		v, err := tx.ListValidators()
		validators = v
		return err
	}); err != nil {
		return errors.Wrap(err, "listing validators")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range validators {
		r.ids[string(v.PublicKey)] = v.ID
	}
	return nil
}

// Register records the given id mappings, as returned by the store's
// RegisterValidators primitive, in the in-memory cache. It is always
// called from within the same store transaction that performed the
// registration, so the cache and the durable journal never diverge.
func (r *Registry) Register(mapping map[string]uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, id := range mapping {
		r.ids[key] = id
	}
}

// Lookup returns the internal id for pubKey, or ErrUnregistered if the key
// has never been registered. The engine never auto-registers: which keys
// are permitted is a policy decision belonging to the external signing
// service (spec §4.2).
func (r *Registry) Lookup(pubKey []byte) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[string(pubKey)]
	if !ok {
		return 0, ErrUnregistered
	}
	return id, nil
}

// Known reports whether pubKey has been registered.
func (r *Registry) Known(pubKey []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[string(pubKey)]
	return ok
}
