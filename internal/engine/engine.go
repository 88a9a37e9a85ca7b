// Package engine implements the two slashing-protection decision rules
// described in spec §4.3: maySignBlock and maySignAttestation. Each
// decision runs inside a single store transaction so that the detection
// queries and the conditional insert that follows commit atomically.
package engine

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	types "github.com/prysmaticlabs/eth2-types"
	"github.com/remotesigner/slashing-protector/internal/registry"
	"github.com/remotesigner/slashing-protector/internal/store"
	"go.uber.org/zap"
)

// Engine wires a durable Store to an in-memory Registry and implements the
// decision rules. It holds no other state: there is no ambient singleton,
// every caller constructs and owns its own Engine (spec §9).
type Engine struct {
	store    *store.Store
	registry *registry.Registry
	logger   *zap.Logger
}

// New constructs an Engine over the given store and registry.
func New(s *store.Store, r *registry.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: s, registry: r, logger: logger}
}

// RegisterValidators registers the given public keys with both the
// durable store and the in-memory registry. It is idempotent: previously
// known keys retain their existing id.
func (e *Engine) RegisterValidators(ctx context.Context, pubKeys [][]byte) error {
	var mapping map[string]uint64
	err := e.store.Update(ctx, func(tx *store.Txn) error {
		m, err := tx.RegisterValidators(pubKeys)
		mapping = m
		return err
	})
	if err != nil {
		return errors.Wrap(err, "registering validators")
	}
	e.registry.Register(mapping)
	return nil
}

// MaySignBlock implements spec §4.3's maySignBlock. A true result means the
// signing service may release the signature; the corresponding record has
// already been durably committed. The reason string is empty whenever
// permitted is true. ErrUnregisteredValidator is the only error ever
// returned; every other failure mode collapses to a false result, logged
// at WARN, per the fail-closed policy in spec §7.
func (e *Engine) MaySignBlock(ctx context.Context, pubKey, signingRoot []byte, slot types.Slot) (permitted bool, reason string, err error) {
	validatorID, err := e.registry.Lookup(pubKey)
	if err != nil {
		return false, "", ErrUnregisteredValidator
	}

	txErr := e.store.Update(ctx, func(tx *store.Txn) error {
		existing, err := tx.FindExistingBlock(validatorID, slot)
		if err != nil {
			return err
		}
		if existing != nil {
			permitted = bytes.Equal(existing.SigningRoot, signingRoot)
			if !permitted {
				reason = "a block has already been signed for this slot with a different signing root"
				e.logger.Warn("refusing double block proposal",
					zap.String("pub_key", hexString(pubKey)),
					zap.Uint64("slot", uint64(slot)),
					zap.String("existing_signing_root", hexString(existing.SigningRoot)),
				)
			}
			return nil
		}

		watermark, ok, err := tx.LowestSignedProposalSlot(validatorID)
		if err != nil {
			return err
		}
		if ok && slot <= watermark {
			permitted = false
			reason = fmt.Sprintf("slot %d is at or below the lowest signed proposal slot %d", slot, watermark)
			e.logger.Warn("refusing block proposal below watermark",
				zap.String("pub_key", hexString(pubKey)),
				zap.Uint64("slot", uint64(slot)),
				zap.Uint64("watermark", uint64(watermark)),
			)
			return nil
		}

		if err := tx.InsertBlock(store.SignedBlock{ValidatorID: validatorID, Slot: slot, SigningRoot: signingRoot}); err != nil {
			if errors.Is(err, store.ErrBlockConflict) {
				// Lost a race with a concurrent transaction; fail closed.
				permitted = false
				reason = "lost a race with a concurrent proposal for this slot"
				return nil
			}
			return err
		}
		if err := tx.RaiseLowestSignedProposalSlot(validatorID, slot); err != nil {
			return err
		}
		permitted = true
		reason = ""
		return nil
	})
	if txErr != nil {
		e.logger.Warn("storage unavailable while deciding block proposal",
			zap.String("pub_key", hexString(pubKey)), zap.Error(txErr))
		return false, "slashing protection storage is unavailable", nil
	}
	return permitted, reason, nil
}

// MaySignAttestation implements spec §4.3's maySignAttestation. Ordering
// matters: the same-target rebroadcast check must run before the surround
// checks so that a benign rebroadcast is never mistaken for a surround.
func (e *Engine) MaySignAttestation(
	ctx context.Context,
	pubKey, signingRoot []byte,
	source, target types.Epoch,
) (permitted bool, reason string, err error) {
	validatorID, err := e.registry.Lookup(pubKey)
	if err != nil {
		return false, "", ErrUnregisteredValidator
	}

	if source > target {
		e.logger.Warn("refusing malformed attestation request",
			zap.String("pub_key", hexString(pubKey)),
			zap.Uint64("source", uint64(source)), zap.Uint64("target", uint64(target)))
		return false, "source epoch exceeds target epoch", nil
	}

	txErr := e.store.Update(ctx, func(tx *store.Txn) error {
		existing, err := tx.FindExistingAttestation(validatorID, target)
		if err != nil {
			return err
		}
		if existing != nil {
			permitted = bytes.Equal(existing.SigningRoot, signingRoot)
			if !permitted {
				reason = "an attestation has already been signed for this target epoch with a different signing root (double vote)"
				e.logger.Warn("refusing double vote attestation",
					zap.String("pub_key", hexString(pubKey)),
					zap.Uint64("target", uint64(target)),
					zap.String("existing_signing_root", hexString(existing.SigningRoot)),
				)
			}
			return nil
		}

		watermark, ok, err := tx.LowestSignedTargetEpoch(validatorID)
		if err != nil {
			return err
		}
		if ok && target <= watermark {
			permitted = false
			reason = fmt.Sprintf("target epoch %d is at or below the lowest signed target epoch %d", target, watermark)
			e.logger.Warn("refusing attestation below watermark",
				zap.String("pub_key", hexString(pubKey)),
				zap.Uint64("target", uint64(target)),
				zap.Uint64("watermark", uint64(watermark)),
			)
			return nil
		}

		surrounding, err := tx.FindSurroundingAttestation(validatorID, source, target)
		if err != nil {
			return err
		}
		if surrounding != nil {
			permitted = false
			reason = fmt.Sprintf("attestation (%d, %d) is surrounded by an existing attestation (%d, %d)",
				source, target, surrounding.Source, surrounding.Target)
			e.logger.Warn("refusing surrounded attestation",
				zap.String("pub_key", hexString(pubKey)),
				zap.Uint64("source", uint64(source)), zap.Uint64("target", uint64(target)),
				zap.Uint64("surrounding_source", uint64(surrounding.Source)),
				zap.Uint64("surrounding_target", uint64(surrounding.Target)),
			)
			return nil
		}

		surrounded, err := tx.FindSurroundedAttestation(validatorID, source, target)
		if err != nil {
			return err
		}
		if surrounded != nil {
			permitted = false
			reason = fmt.Sprintf("attestation (%d, %d) surrounds an existing attestation (%d, %d)",
				source, target, surrounded.Source, surrounded.Target)
			e.logger.Warn("refusing surrounding attestation",
				zap.String("pub_key", hexString(pubKey)),
				zap.Uint64("source", uint64(source)), zap.Uint64("target", uint64(target)),
				zap.Uint64("surrounded_source", uint64(surrounded.Source)),
				zap.Uint64("surrounded_target", uint64(surrounded.Target)),
			)
			return nil
		}

		if err := tx.InsertAttestation(store.SignedAttestation{
			ValidatorID: validatorID, Source: source, Target: target, SigningRoot: signingRoot,
		}); err != nil {
			if errors.Is(err, store.ErrAttestationConflict) {
				permitted = false
				reason = "lost a race with a concurrent attestation for this target epoch"
				return nil
			}
			return err
		}
		if err := tx.RaiseLowestSignedTargetEpoch(validatorID, target); err != nil {
			return err
		}
		permitted = true
		reason = ""
		return nil
	})
	if txErr != nil {
		e.logger.Warn("storage unavailable while deciding attestation",
			zap.String("pub_key", hexString(pubKey)), zap.Error(txErr))
		return false, "slashing protection storage is unavailable", nil
	}
	return permitted, reason, nil
}

// Store returns the underlying store, for components (the interchange
// codec, the HTTP history endpoint) that need primitive access beyond the
// two decision rules.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Registry returns the underlying registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

func hexString(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
