package interchange

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	types "github.com/prysmaticlabs/eth2-types"
	"github.com/remotesigner/slashing-protector/internal/registry"
	"github.com/remotesigner/slashing-protector/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*store.Store, *registry.Registry) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s, registry.New()
}

// S4: export with no genesis root set raises ErrMissingGenesisRoot and
// writes nothing to the output stream.
func TestExport_MissingGenesisRoot(t *testing.T) {
	s, _ := newTestEnv(t)
	var buf bytes.Buffer

	err := Export(context.Background(), s, &buf)
	require.ErrorIs(t, err, ErrMissingGenesisRoot)
	require.Empty(t, buf.Bytes())
}

// S5: populate the store directly, export, then re-parse and verify
// metadata and per-validator record counts/ordering match the inputs.
func TestExport_RoundTripsPopulatedStore(t *testing.T) {
	s, _ := newTestEnv(t)
	ctx := context.Background()

	root := bytes.Repeat([]byte{0x04, 0x70}, 16)
	pubKey1 := bytes.Repeat([]byte{0x01}, 48)
	pubKey2 := bytes.Repeat([]byte{0x02}, 48)

	err := s.Update(ctx, func(tx *store.Txn) error {
		if err := tx.SetGenesisValidatorsRoot(root); err != nil {
			return err
		}
		ids, err := tx.RegisterValidators([][]byte{pubKey1, pubKey2})
		if err != nil {
			return err
		}
		for _, id := range ids {
			for slot := uint64(0); slot <= 5; slot++ {
				if err := tx.InsertBlock(store.SignedBlock{ValidatorID: id, Slot: types.Slot(slot), SigningRoot: []byte{0x01}}); err != nil {
					return err
				}
			}
			for epoch := uint64(0); epoch <= 7; epoch++ {
				err := tx.InsertAttestation(store.SignedAttestation{
					ValidatorID: id, Source: types.Epoch(epoch), Target: types.Epoch(epoch), SigningRoot: []byte{0x01},
				})
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, s, &buf))

	var doc struct {
		Metadata Metadata          `json:"metadata"`
		Data     []*ProtectionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	require.Equal(t, "5", doc.Metadata.InterchangeFormatVersion)
	require.Equal(t, encodeHex(root), doc.Metadata.GenesisValidatorsRoot)
	require.Len(t, doc.Data, 2)

	for _, entry := range doc.Data {
		require.Len(t, entry.SignedBlocks, 6)
		require.Len(t, entry.SignedAttestations, 8)
		for i, b := range entry.SignedBlocks {
			require.Equal(t, encodeUint64(uint64(i)), b.Slot)
			require.Equal(t, encodeHex([]byte{0x01}), b.SigningRoot)
		}
		for i, a := range entry.SignedAttestations {
			require.Equal(t, encodeUint64(uint64(i)), a.SourceEpoch)
			require.Equal(t, encodeUint64(uint64(i)), a.TargetEpoch)
		}
	}
}

// S6: importing a file whose genesis root differs from the already-stored
// root raises ErrGenesisRootMismatch and leaves the store unchanged.
func TestImport_GenesisRootMismatch(t *testing.T) {
	s, r := newTestEnv(t)
	ctx := context.Background()

	existing := bytes.Repeat([]byte{0xAA}, 32)
	err := s.Update(ctx, func(tx *store.Txn) error { return tx.SetGenesisValidatorsRoot(existing) })
	require.NoError(t, err)

	doc := `{"metadata":{"interchange_format_version":"5","genesis_validators_root":"` + encodeHex(bytes.Repeat([]byte{0xBB}, 32)) + `"},"data":[]}`
	err = Import(ctx, s, r, bytes.NewBufferString(doc))
	require.ErrorIs(t, err, ErrGenesisRootMismatch)

	err = s.View(ctx, func(tx *store.Txn) error {
		validators, err := tx.ListValidators()
		require.NoError(t, err)
		require.Empty(t, validators)
		return nil
	})
	require.NoError(t, err)
}

// A round trip through Export/Import preserves record counts and merges
// duplicate pubkey entries within a single import transaction.
func TestImport_ThenExport_RoundTrip(t *testing.T) {
	s, r := newTestEnv(t)
	ctx := context.Background()

	root := bytes.Repeat([]byte{0x07}, 32)
	pubKey := bytes.Repeat([]byte{0x03}, 48)
	doc := buildDoc(t, root, pubKey)

	require.NoError(t, Import(ctx, s, r, bytes.NewBufferString(doc)))

	id, err := r.Lookup(pubKey)
	require.NoError(t, err)
	require.NotZero(t, id)

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, s, &buf))

	var out struct {
		Data []*ProtectionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Data, 1)
	require.Len(t, out.Data[0].SignedBlocks, 1)
	require.Len(t, out.Data[0].SignedAttestations, 1)
	require.Empty(t, out.Data[0].SignedBlocks[0].SigningRoot)
}

// A duplicate pubkey entry for an already-imported validator merges into
// the same validator id instead of failing or creating a second record.
func TestImport_DuplicatePubkeyMergesWithinTransaction(t *testing.T) {
	s, r := newTestEnv(t)
	ctx := context.Background()

	root := bytes.Repeat([]byte{0x09}, 32)
	pubKey := bytes.Repeat([]byte{0x04}, 48)

	doc := `{"metadata":{"interchange_format_version":"5","genesis_validators_root":"` + encodeHex(root) + `"},` +
		`"data":[` +
		`{"pubkey":"` + encodeHex(pubKey) + `","signed_blocks":[{"slot":"1"}],"signed_attestations":[]},` +
		`{"pubkey":"` + encodeHex(pubKey) + `","signed_blocks":[{"slot":"2"}],"signed_attestations":[]}` +
		`]}`

	require.NoError(t, Import(ctx, s, r, bytes.NewBufferString(doc)))

	err := s.View(ctx, func(tx *store.Txn) error {
		validators, err := tx.ListValidators()
		require.NoError(t, err)
		require.Len(t, validators, 1)

		blocks, err := tx.BlocksForValidator(validators[0].ID)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		return nil
	})
	require.NoError(t, err)
}

// Spec §4.4 requires import to fail with ErrInterchangeConflict when a
// "data" entry contains two attestations that form a surround, in either
// direction, for the same validator.
func TestImport_RejectsSurroundingAttestations(t *testing.T) {
	s, r := newTestEnv(t)
	ctx := context.Background()

	root := bytes.Repeat([]byte{0x0A}, 32)
	pubKey := bytes.Repeat([]byte{0x05}, 48)

	doc := `{"metadata":{"interchange_format_version":"5","genesis_validators_root":"` + encodeHex(root) + `"},` +
		`"data":[{"pubkey":"` + encodeHex(pubKey) + `","signed_blocks":[],"signed_attestations":[` +
		`{"source_epoch":"5","target_epoch":"6"},` +
		`{"source_epoch":"4","target_epoch":"7"}` +
		`]}]}`

	err := Import(ctx, s, r, bytes.NewBufferString(doc))
	require.ErrorIs(t, err, ErrInterchangeConflict)

	err = s.View(ctx, func(tx *store.Txn) error {
		validators, err := tx.ListValidators()
		require.NoError(t, err)
		require.Empty(t, validators, "a rejected import must leave the store untouched")
		return nil
	})
	require.NoError(t, err)
}

// Two attestations that legally share a source epoch (neither surrounds the
// other) must not shadow each other in a way that lets a genuinely
// surrounding third attestation slip past detection and commit.
func TestImport_RejectsSurroundWithSharedSourceEpoch(t *testing.T) {
	s, r := newTestEnv(t)
	ctx := context.Background()

	root := bytes.Repeat([]byte{0x0B}, 32)
	pubKey := bytes.Repeat([]byte{0x06}, 48)

	doc := `{"metadata":{"interchange_format_version":"5","genesis_validators_root":"` + encodeHex(root) + `"},` +
		`"data":[{"pubkey":"` + encodeHex(pubKey) + `","signed_blocks":[],"signed_attestations":[` +
		`{"source_epoch":"5","target_epoch":"6"},` +
		`{"source_epoch":"5","target_epoch":"20"},` +
		`{"source_epoch":"4","target_epoch":"7"}` +
		`]}]}`

	err := Import(ctx, s, r, bytes.NewBufferString(doc))
	require.ErrorIs(t, err, ErrInterchangeConflict)

	err = s.View(ctx, func(tx *store.Txn) error {
		validators, err := tx.ListValidators()
		require.NoError(t, err)
		require.Empty(t, validators, "a rejected import must leave the store untouched")
		return nil
	})
	require.NoError(t, err)
}

func buildDoc(t *testing.T, root, pubKey []byte) string {
	t.Helper()
	return `{"metadata":{"interchange_format_version":"5","genesis_validators_root":"` + encodeHex(root) + `"},` +
		`"data":[{"pubkey":"` + encodeHex(pubKey) + `","signed_blocks":[{"slot":"1"}],` +
		`"signed_attestations":[{"source_epoch":"1","target_epoch":"2"}]}]}`
}
