package interchange

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/remotesigner/slashing-protector/internal/store"
)

// Export streams the store's journal to w as an EIP-3076 v5 document,
// ordered by ascending validator id, each validator's blocks ordered by
// slot and attestations ordered by (target_epoch, source_epoch). The
// entire read runs inside a single repeatable-read snapshot so the
// exported file is internally consistent (spec §4.4), and only one
// validator's records are held in memory at a time.
func Export(ctx context.Context, s *store.Store, w io.Writer) error {
	return s.View(ctx, func(tx *store.Txn) error {
		root, err := tx.GetGenesisValidatorsRoot()
		if err != nil {
			return err
		}
		if root == nil {
			return ErrMissingGenesisRoot
		}

		bw := bufio.NewWriter(w)
		if _, err := fmt.Fprintf(bw, `{"metadata":{"interchange_format_version":%q,"genesis_validators_root":%q},"data":[`,
			FormatVersion, encodeHex(root)); err != nil {
			return err
		}

		validators, err := tx.ListValidators()
		if err != nil {
			return err
		}
		for i, v := range validators {
			if i > 0 {
				if err := bw.WriteByte(','); err != nil {
					return err
				}
			}
			pd, err := protectionDataFor(tx, v)
			if err != nil {
				return err
			}
			encoded, err := json.Marshal(pd)
			if err != nil {
				return err
			}
			if _, err := bw.Write(encoded); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString("]}"); err != nil {
			return err
		}
		return bw.Flush()
	})
}

func protectionDataFor(tx *store.Txn, v store.Validator) (*ProtectionData, error) {
	blocks, err := tx.BlocksForValidator(v.ID)
	if err != nil {
		return nil, err
	}
	attestations, err := tx.AttestationsForValidator(v.ID)
	if err != nil {
		return nil, err
	}

	pd := &ProtectionData{Pubkey: encodeHex(v.PublicKey)}
	for _, b := range blocks {
		pd.SignedBlocks = append(pd.SignedBlocks, &SignedBlock{
			Slot:        encodeUint64(uint64(b.Slot)),
			SigningRoot: signingRootField(b.SigningRoot),
		})
	}
	for _, a := range attestations {
		pd.SignedAttestations = append(pd.SignedAttestations, &SignedAttestation{
			SourceEpoch: encodeUint64(uint64(a.Source)),
			TargetEpoch: encodeUint64(uint64(a.Target)),
			SigningRoot: signingRootField(a.SigningRoot),
		})
	}
	return pd, nil
}

// signingRootField renders a stored signing root for re-export. A
// zero-length root means the original import declared no concrete root
// (a wildcard); per spec §4.4 it must not be re-exported as if it were a
// real root, so it is omitted instead.
func signingRootField(root []byte) string {
	if len(root) == 0 {
		return ""
	}
	return encodeHex(root)
}
