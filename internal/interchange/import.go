package interchange

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	types "github.com/prysmaticlabs/eth2-types"
	"github.com/remotesigner/slashing-protector/internal/registry"
	"github.com/remotesigner/slashing-protector/internal/store"
)

// Import reads an EIP-3076 v5 document from r and merges it into the
// store. The whole document is applied as a single transaction: on any
// failure the store is left exactly as it was before the import began
// (spec §4.4). The JSON is consumed with a streaming token-based decoder,
// one "data" entry at a time, so a validator set of tens of thousands of
// keys is never held in memory as a single parsed document.
func Import(ctx context.Context, s *store.Store, r *registry.Registry, reader io.Reader) error {
	var registered map[string]uint64

	err := s.Update(ctx, func(tx *store.Txn) error {
		dec := json.NewDecoder(reader)

		if err := expectDelim(dec, '{'); err != nil {
			return err
		}

		var metadataSeen bool
		highestSlot := make(map[uint64]types.Slot)
		highestTarget := make(map[uint64]types.Epoch)
		registered = make(map[string]uint64)

		for dec.More() {
			key, err := nextObjectKey(dec)
			if err != nil {
				return err
			}
			switch key {
			case "metadata":
				if err := importMetadata(tx, dec); err != nil {
					return err
				}
				metadataSeen = true
			case "data":
				if !metadataSeen {
					return errors.Wrap(ErrMalformedInterchange, `"data" must follow "metadata"`)
				}
				if err := importData(tx, dec, registered, highestSlot, highestTarget); err != nil {
					return err
				}
			default:
				return errors.Wrapf(ErrMalformedInterchange, "unexpected top-level field %q", key)
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		if !metadataSeen {
			return errors.Wrap(ErrMalformedInterchange, `missing "metadata"`)
		}

		for id, slot := range highestSlot {
			if err := tx.RaiseLowestSignedProposalSlot(id, slot); err != nil {
				return err
			}
		}
		for id, target := range highestTarget {
			if err := tx.RaiseLowestSignedTargetEpoch(id, target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.Register(registered)
	return nil
}

func importMetadata(tx *store.Txn, dec *json.Decoder) error {
	var meta Metadata
	if err := dec.Decode(&meta); err != nil {
		return errors.Wrap(ErrMalformedInterchange, err.Error())
	}
	if meta.InterchangeFormatVersion != FormatVersion {
		return errors.Wrapf(ErrUnsupportedVersion, "got %q, want %q", meta.InterchangeFormatVersion, FormatVersion)
	}
	root, err := decodeHex(meta.GenesisValidatorsRoot)
	if err != nil {
		return err
	}

	existing, err := tx.GetGenesisValidatorsRoot()
	if err != nil {
		return err
	}
	if existing != nil {
		if !bytes.Equal(existing, root) {
			return ErrGenesisRootMismatch
		}
		return nil
	}
	return tx.SetGenesisValidatorsRoot(root)
}

func importData(
	tx *store.Txn,
	dec *json.Decoder,
	registered map[string]uint64,
	highestSlot map[uint64]types.Slot,
	highestTarget map[uint64]types.Epoch,
) error {
	if err := expectDelim(dec, '['); err != nil {
		return err
	}
	for dec.More() {
		var pd ProtectionData
		if err := dec.Decode(&pd); err != nil {
			return errors.Wrap(ErrMalformedInterchange, err.Error())
		}
		if err := importValidator(tx, &pd, registered, highestSlot, highestTarget); err != nil {
			return err
		}
	}
	return expectDelim(dec, ']')
}

func importValidator(
	tx *store.Txn,
	pd *ProtectionData,
	registered map[string]uint64,
	highestSlot map[uint64]types.Slot,
	highestTarget map[uint64]types.Epoch,
) error {
	pubKey, err := decodeHex(pd.Pubkey)
	if err != nil {
		return err
	}
	mapping, err := tx.RegisterValidators([][]byte{pubKey})
	if err != nil {
		return err
	}
	validatorID := mapping[string(pubKey)]
	registered[string(pubKey)] = validatorID

	for _, b := range pd.SignedBlocks {
		if b == nil {
			continue
		}
		if err := importBlock(tx, validatorID, b, highestSlot); err != nil {
			return err
		}
	}
	for _, a := range pd.SignedAttestations {
		if a == nil {
			continue
		}
		if err := importAttestation(tx, validatorID, a, highestTarget); err != nil {
			return err
		}
	}
	return nil
}

func importBlock(tx *store.Txn, validatorID uint64, b *SignedBlock, highestSlot map[uint64]types.Slot) error {
	slot, err := decodeUint64(b.Slot)
	if err != nil {
		return err
	}
	var root []byte
	if b.SigningRoot != "" {
		root, err = decodeHex(b.SigningRoot)
		if err != nil {
			return err
		}
	}

	err = tx.InsertBlock(store.SignedBlock{ValidatorID: validatorID, Slot: types.Slot(slot), SigningRoot: root})
	if err != nil {
		if errors.Is(err, store.ErrBlockConflict) {
			return errors.Wrapf(ErrInterchangeConflict, "block at slot %d conflicts with existing record", slot)
		}
		return err
	}

	if current, ok := highestSlot[validatorID]; !ok || types.Slot(slot) > current {
		highestSlot[validatorID] = types.Slot(slot)
	}
	return nil
}

func importAttestation(tx *store.Txn, validatorID uint64, a *SignedAttestation, highestTarget map[uint64]types.Epoch) error {
	source, err := decodeUint64(a.SourceEpoch)
	if err != nil {
		return err
	}
	target, err := decodeUint64(a.TargetEpoch)
	if err != nil {
		return err
	}
	if source > target {
		return errors.Wrapf(ErrMalformedInterchange, "source epoch %d exceeds target epoch %d", source, target)
	}
	var root []byte
	if a.SigningRoot != "" {
		root, err = decodeHex(a.SigningRoot)
		if err != nil {
			return err
		}
	}

	surrounding, err := tx.FindSurroundingAttestation(validatorID, types.Epoch(source), types.Epoch(target))
	if err != nil {
		return err
	}
	if surrounding != nil {
		return errors.Wrapf(ErrInterchangeConflict, "attestation (%d, %d) is surrounded by an existing record", source, target)
	}
	surrounded, err := tx.FindSurroundedAttestation(validatorID, types.Epoch(source), types.Epoch(target))
	if err != nil {
		return err
	}
	if surrounded != nil {
		return errors.Wrapf(ErrInterchangeConflict, "attestation (%d, %d) surrounds an existing record", source, target)
	}

	err = tx.InsertAttestation(store.SignedAttestation{
		ValidatorID: validatorID, Source: types.Epoch(source), Target: types.Epoch(target), SigningRoot: root,
	})
	if err != nil {
		if errors.Is(err, store.ErrAttestationConflict) {
			return errors.Wrapf(ErrInterchangeConflict, "attestation at target %d conflicts with existing record", target)
		}
		return err
	}

	if current, ok := highestTarget[validatorID]; !ok || types.Epoch(target) > current {
		highestTarget[validatorID] = types.Epoch(target)
	}
	return nil
}

func nextObjectKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", errors.Wrap(ErrMalformedInterchange, err.Error())
	}
	key, ok := tok.(string)
	if !ok {
		return "", errors.Wrapf(ErrMalformedInterchange, "expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(ErrMalformedInterchange, err.Error())
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != want {
		return errors.Wrapf(ErrMalformedInterchange, "expected %q, got %v", want, tok)
	}
	return nil
}
