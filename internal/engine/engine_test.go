package engine

import (
	"context"
	"path/filepath"
	"testing"

	types "github.com/prysmaticlabs/eth2-types"
	"github.com/remotesigner/slashing-protector/internal/registry"
	"github.com/remotesigner/slashing-protector/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return New(s, registry.New(), zaptest.NewLogger(t))
}

// S1 from spec §8.
func TestMaySignBlock_S1(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pk := []byte{0x01}
	require.NoError(t, e.RegisterValidators(ctx, [][]byte{pk}))

	ok, _, err := e.MaySignBlock(ctx, pk, []byte{0xAA}, 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = e.MaySignBlock(ctx, pk, []byte{0xAA}, 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reason, err := e.MaySignBlock(ctx, pk, []byte{0xBB}, 10)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEmpty(t, reason)
}

// S2 from spec §8.
func TestMaySignAttestation_S2(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pk := []byte{0x01}
	require.NoError(t, e.RegisterValidators(ctx, [][]byte{pk}))

	ok, _, err := e.MaySignAttestation(ctx, pk, []byte{0xAA}, 4, 8)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reason, err := e.MaySignAttestation(ctx, pk, []byte{0xBB}, 3, 9)
	require.NoError(t, err)
	require.False(t, ok, "surrounds existing attestation")
	require.NotEmpty(t, reason)

	ok, reason, err = e.MaySignAttestation(ctx, pk, []byte{0xCC}, 5, 7)
	require.NoError(t, err)
	require.False(t, ok, "surrounded by existing attestation")
	require.NotEmpty(t, reason)

	ok, _, err = e.MaySignAttestation(ctx, pk, []byte{0xDD}, 9, 10)
	require.NoError(t, err)
	require.True(t, ok)
}

// S3 from spec §8.
func TestMaySignAttestation_MalformedRequest_S3(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pk := []byte{0x01}
	require.NoError(t, e.RegisterValidators(ctx, [][]byte{pk}))

	ok, reason, err := e.MaySignAttestation(ctx, pk, []byte{0xAA}, 10, 5)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEmpty(t, reason)
}

func TestMaySignBlock_UnregisteredValidator(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	ok, _, err := e.MaySignBlock(ctx, []byte{0x99}, []byte{0xAA}, 1)
	require.ErrorIs(t, err, ErrUnregisteredValidator)
	require.False(t, ok)
}

// P3: idempotence.
func TestMaySignBlock_Idempotent_NoStorageDuplication(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pk := []byte{0x01}
	require.NoError(t, e.RegisterValidators(ctx, [][]byte{pk}))

	for i := 0; i < 3; i++ {
		ok, _, err := e.MaySignBlock(ctx, pk, []byte{0xAA}, 5)
		require.NoError(t, err)
		require.True(t, ok)
	}

	var count int
	require.NoError(t, e.Store().View(ctx, func(tx *store.Txn) error {
		blocks, err := tx.BlocksForValidator(1)
		count = len(blocks)
		return err
	}))
	require.Equal(t, 1, count)
}

func TestMaySignAttestation_EqualSourceTargetPermitted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pk := []byte{0x01}
	require.NoError(t, e.RegisterValidators(ctx, [][]byte{pk}))

	ok, _, err := e.MaySignAttestation(ctx, pk, []byte{0xAA}, 5, types.Epoch(5))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMaySignBlock_WatermarkRejectsStaleSlot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pk := []byte{0x01}
	require.NoError(t, e.RegisterValidators(ctx, [][]byte{pk}))

	ok, _, err := e.MaySignBlock(ctx, pk, []byte{0xAA}, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reason, err := e.MaySignBlock(ctx, pk, []byte{0xBB}, 50)
	require.NoError(t, err)
	require.False(t, ok, "slot below the watermark without a matching record")
	require.NotEmpty(t, reason)
}
