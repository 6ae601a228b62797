package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/types"
)

// ChainWriter persists chain data.
type ChainWriter interface {
	PutMessages(context.Context, []types.ChainMsg) error
	PutTxMeta(context.Context, *types.TxMeta) error
	PersistHeaders(context.Context, *types.TipSet) error
}

// PersistFullTipSet stores the messages and headers of fts and returns its
// tipset.
func PersistFullTipSet(t *testing.T, cw ChainWriter, fts *types.FullTipSet) *types.TipSet {
	t.Helper()
	ctx := context.Background()
	for _, fb := range fts.Blocks {
		meta := &types.TxMeta{}
		msgs := make([]types.ChainMsg, 0, len(fb.BlsMessages)+len(fb.SecpkMessages))
		for _, m := range fb.BlsMessages {
			c, err := m.Cid()
			require.NoError(t, err)
			meta.BlsMessages = append(meta.BlsMessages, c)
			msgs = append(msgs, m)
		}
		for _, m := range fb.SecpkMessages {
			c, err := m.Cid()
			require.NoError(t, err)
			meta.SecpkMessages = append(meta.SecpkMessages, c)
			msgs = append(msgs, m)
		}
		require.NoError(t, cw.PutMessages(ctx, msgs))
		require.NoError(t, cw.PutTxMeta(ctx, meta))
	}
	ts, err := fts.TipSet()
	require.NoError(t, err)
	require.NoError(t, cw.PersistHeaders(ctx, ts))
	return ts
}
