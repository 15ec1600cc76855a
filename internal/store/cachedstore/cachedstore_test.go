package cachedstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
	"github.com/onem2m-cse/cse/internal/store/memstore"
)

func TestCachedStore_NilCache_DelegatesToBackingStore(t *testing.T) {
	ctx := context.Background()
	s := New(memstore.New(), nil)

	require.NoError(t, s.PutIdentifier(ctx, store.IdentifierEntry{RI: "cse-in1", RN: "cse-in1", SRN: "/cse-in1", Ty: resource.TypeCSEBase}))

	ri, err := s.GetRIBySRN(ctx, "/cse-in1")
	require.NoError(t, err)
	assert.Equal(t, "cse-in1", ri)

	require.NoError(t, s.DeleteIdentifier(ctx, "cse-in1"))
	_, err = s.GetRIBySRN(ctx, "/cse-in1")
	assert.Error(t, err)
}
