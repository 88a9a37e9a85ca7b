package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/remotesigner/slashing-protector/internal/store"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LookupUnregistered(t *testing.T) {
	r := New()
	_, err := r.Lookup([]byte("nope"))
	require.ErrorIs(t, err, ErrUnregistered)
}

func TestRegistry_RegisterThenLookup(t *testing.T) {
	r := New()
	r.Register(map[string]uint64{"pk-1": 7})
	id, err := r.Lookup([]byte("pk-1"))
	require.NoError(t, err)
	require.Equal(t, uint64(7), id)
}

func TestRegistry_LoadFromStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	err = s.Update(ctx, func(tx *store.Txn) error {
		_, err := tx.RegisterValidators([][]byte{[]byte("pk-a"), []byte("pk-b")})
		return err
	})
	require.NoError(t, err)

	r := New()
	require.NoError(t, r.Load(ctx, s))
	require.True(t, r.Known([]byte("pk-a")))
	require.True(t, r.Known([]byte("pk-b")))
	require.False(t, r.Known([]byte("pk-c")))
}
