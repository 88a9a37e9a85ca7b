// Package protector is the public façade over the slashing-protection
// engine: it wires the durable store, the in-memory validator registry and
// the decision engine together behind the same interface the HTTP layer
// and the CLI import/export commands both depend on.
package protector

import (
	"context"
	"io"
	"path/filepath"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
	types "github.com/prysmaticlabs/eth2-types"
	"github.com/remotesigner/slashing-protector/internal/engine"
	"github.com/remotesigner/slashing-protector/internal/interchange"
	"github.com/remotesigner/slashing-protector/internal/registry"
	"github.com/remotesigner/slashing-protector/internal/store"
	"go.uber.org/zap"
)

// Check is the verdict of a single slashing-protection decision.
type Check struct {
	Slashable bool   `json:"slashable"`
	Reason    string `json:"reason,omitempty"`
}

// ProposalRecord is one entry of a validator's proposal history.
type ProposalRecord struct {
	Slot        phase0.Slot `json:"slot"`
	SigningRoot []byte      `json:"signing_root"`
}

// AttestationRecord is one entry of a validator's attestation history.
type AttestationRecord struct {
	Source      phase0.Epoch `json:"source"`
	Target      phase0.Epoch `json:"target"`
	SigningRoot []byte       `json:"signing_root"`
}

// History is a single validator's full signing journal.
type History struct {
	Proposals    []ProposalRecord    `json:"proposals"`
	Attestations []AttestationRecord `json:"attestations"`
}

// ErrUnregisteredValidator is returned by CheckProposal, CheckAttestation
// and History when the given public key has never been registered.
var ErrUnregisteredValidator = errors.New("unregistered validator")

// Protector is a fail-closed slashing-protection decision service. Every
// method that decides whether to sign collapses storage faults to a
// not-permitted verdict rather than an error; an unregistered validator is
// the only condition reported back to the caller as an error (spec §7).
//
// The network parameter is accepted for HTTP-surface compatibility with
// the upstream multi-network deployment this package was adapted from; the
// store underneath has no per-network partitioning; see DESIGN.md.
type Protector interface {
	RegisterValidators(ctx context.Context, pubKeys []phase0.BLSPubKey) error

	// SetGenesisValidatorsRoot records the chain this store's history
	// belongs to. It may be called more than once, but never with a value
	// that differs from what was set before (spec I5).
	SetGenesisValidatorsRoot(ctx context.Context, root phase0.Root) error

	// GenesisValidatorsRoot returns the stored root, or nil if unset.
	GenesisValidatorsRoot(ctx context.Context) ([]byte, error)

	CheckProposal(
		ctx context.Context,
		network string,
		pubKey phase0.BLSPubKey,
		signingRoot phase0.Root,
		slot phase0.Slot,
	) (*Check, error)

	CheckAttestation(
		ctx context.Context,
		network string,
		pubKey phase0.BLSPubKey,
		signingRoot phase0.Root,
		data *phase0.AttestationData,
	) (*Check, error)

	History(ctx context.Context, network string, pubKey phase0.BLSPubKey) (*History, error)

	// Import merges an EIP-3076 v5 interchange document into the store.
	Import(ctx context.Context, r io.Reader) error

	// Export streams the store's full journal as an EIP-3076 v5
	// interchange document.
	Export(ctx context.Context, w io.Writer) error

	Close() error
}

type protector struct {
	store    *store.Store
	registry *registry.Registry
	engine   *engine.Engine
	logger   *zap.Logger
}

// New opens (or creates) the database under dir and returns a ready
// Protector. The registry is populated from the store's existing
// validators before New returns, so a restarted process immediately
// recognizes every previously registered key.
func New(dir string, logger *zap.Logger) (Protector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := store.Open(filepath.Join(dir, "slashing-protection.db"))
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}

	r := registry.New()
	if err := r.Load(context.Background(), s); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "loading registry")
	}

	return &protector{
		store:    s,
		registry: r,
		engine:   engine.New(s, r, logger),
		logger:   logger,
	}, nil
}

func (p *protector) RegisterValidators(ctx context.Context, pubKeys []phase0.BLSPubKey) error {
	keys := make([][]byte, len(pubKeys))
	for i, pk := range pubKeys {
		k := make([]byte, len(pk))
		copy(k, pk[:])
		keys[i] = k
	}
	return p.engine.RegisterValidators(ctx, keys)
}

func (p *protector) SetGenesisValidatorsRoot(ctx context.Context, root phase0.Root) error {
	return p.store.Update(ctx, func(tx *store.Txn) error {
		return tx.SetGenesisValidatorsRoot(root[:])
	})
}

func (p *protector) GenesisValidatorsRoot(ctx context.Context) ([]byte, error) {
	var root []byte
	err := p.store.View(ctx, func(tx *store.Txn) error {
		r, err := tx.GetGenesisValidatorsRoot()
		root = r
		return err
	})
	return root, err
}

func (p *protector) CheckProposal(
	ctx context.Context,
	network string,
	pubKey phase0.BLSPubKey,
	signingRoot phase0.Root,
	slot phase0.Slot,
) (*Check, error) {
	permitted, reason, err := p.engine.MaySignBlock(ctx, pubKey[:], signingRoot[:], types.Slot(slot))
	if err != nil {
		return nil, mapEngineError(err)
	}
	return &Check{Slashable: !permitted, Reason: reason}, nil
}

func (p *protector) CheckAttestation(
	ctx context.Context,
	network string,
	pubKey phase0.BLSPubKey,
	signingRoot phase0.Root,
	data *phase0.AttestationData,
) (*Check, error) {
	permitted, reason, err := p.engine.MaySignAttestation(
		ctx, pubKey[:], signingRoot[:], types.Epoch(data.Source.Epoch), types.Epoch(data.Target.Epoch),
	)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return &Check{Slashable: !permitted, Reason: reason}, nil
}

func (p *protector) History(ctx context.Context, network string, pubKey phase0.BLSPubKey) (*History, error) {
	validatorID, err := p.registry.Lookup(pubKey[:])
	if err != nil {
		return nil, errors.Wrap(ErrUnregisteredValidator, err.Error())
	}

	var history History
	err = p.store.View(ctx, func(tx *store.Txn) error {
		blocks, err := tx.BlocksForValidator(validatorID)
		if err != nil {
			return err
		}
		for _, b := range blocks {
			history.Proposals = append(history.Proposals, ProposalRecord{
				Slot:        phase0.Slot(b.Slot),
				SigningRoot: b.SigningRoot,
			})
		}

		attestations, err := tx.AttestationsForValidator(validatorID)
		if err != nil {
			return err
		}
		for _, a := range attestations {
			history.Attestations = append(history.Attestations, AttestationRecord{
				Source:      phase0.Epoch(a.Source),
				Target:      phase0.Epoch(a.Target),
				SigningRoot: a.SigningRoot,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading history")
	}
	return &history, nil
}

func (p *protector) Import(ctx context.Context, r io.Reader) error {
	return interchange.Import(ctx, p.store, p.registry, r)
}

func (p *protector) Export(ctx context.Context, w io.Writer) error {
	return interchange.Export(ctx, p.store, w)
}

func (p *protector) Close() error {
	return p.store.Close()
}

// mapEngineError translates the engine's internal unregistered-validator
// sentinel into the one this package's callers are expected to compare
// against, without leaking internal package boundaries.
func mapEngineError(err error) error {
	if errors.Is(err, engine.ErrUnregisteredValidator) {
		return ErrUnregisteredValidator
	}
	return err
}
