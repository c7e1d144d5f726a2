package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/relyq/pkg/api"
)

type MemoryStoreTestSuite struct {
	storeSuite
}

func TestMemoryStoreSuite(t *testing.T) {
	s := new(MemoryStoreTestSuite)
	s.store = NewMemoryStore()
	suite.Run(t, s)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatch()
	b.Append("q", Lit("k"))
	_, err := st.Exec(ctx, b)
	require.ErrorIs(t, err, api.ErrStoreUnavailable)
	require.ErrorIs(t, err, context.Canceled)

	_, err = st.Exec(context.Background(), b)
	require.NoError(t, err)
}
