package fixed

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

func makeIDs(n int) []contract.Identifier {
	out := make([]contract.Identifier, n)
	for i := range out {
		out[i] = contract.Identifier{Name: fmt.Sprintf("v%d", i+1), Occurrences: 1}
	}
	return out
}

// TestMake_SizeSplit 45 条按 20 切分为 20/20/5。
func TestMake_SizeSplit(t *testing.T) {
	ids := makeIDs(45)
	batches, err := New(nil).Make(context.Background(), "f.lua", ids, contract.BatchLimit{Size: 20})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	sizes := []int{20, 20, 5}
	offsets := []int{0, 20, 40}
	var all []contract.Identifier
	for i, b := range batches {
		assert.Equal(t, int64(i), b.BatchIndex)
		assert.Equal(t, sizes[i], len(b.Identifiers))
		assert.Equal(t, offsets[i], b.Offset)
		assert.Equal(t, contract.FileID("f.lua"), b.FileID)
		all = append(all, b.Identifiers...)
	}
	assert.Equal(t, ids, all)
}

func TestMake_Empty(t *testing.T) {
	batches, err := New(nil).Make(context.Background(), "f", nil, contract.BatchLimit{Size: 20})
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestMake_BadLimit(t *testing.T) {
	_, err := New(nil).Make(context.Background(), "f", makeIDs(1), contract.BatchLimit{Size: 0})
	assert.Error(t, err)
}

func TestMake_TokenCap(t *testing.T) {
	// 每条 ≈ (2+2)/1 = 4 tokens，上限 10 → 每批 2 条
	b := New(&Options{MaxTokens: 10, BytesPerToken: 1, ExtraBytesPerIdentifier: 2})
	batches, err := b.Make(context.Background(), "f", makeIDs(5), contract.BatchLimit{Size: 20})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Identifiers, 2)
	assert.Len(t, batches[2].Identifiers, 1)
	assert.Equal(t, 4, batches[2].Offset)
}

func TestMake_SingleOversizedStillEmitted(t *testing.T) {
	b := New(&Options{MaxTokens: 1, BytesPerToken: 1})
	batches, err := b.Make(context.Background(), "f", makeIDs(2), contract.BatchLimit{Size: 20})
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestMake_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Make(ctx, "f", makeIDs(3), contract.BatchLimit{Size: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
