package cached

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

type countingLLM struct {
	calls int
	err   error
}

func (c *countingLLM) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	c.calls++
	if c.err != nil {
		return contract.Raw{}, c.err
	}
	return contract.Raw{Text: "resp:" + contract.PromptText(p)}, nil
}

func TestCached_HitsAndMisses(t *testing.T) {
	inner := &countingLLM{}
	c, err := Wrap(inner, 2, "m")
	require.NoError(t, err)

	r1, err := c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("a"))
	require.NoError(t, err)
	r2, err := c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("a"))
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls)

	_, _ = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("b"))
	_, _ = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("c"))
	assert.Equal(t, 2, c.Len())
	// "a" 已被淘汰
	_, _ = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("a"))
	assert.Equal(t, 4, inner.calls)
}

func TestCached_ErrorsNotCached(t *testing.T) {
	inner := &countingLLM{err: errors.New("boom")}
	c, err := Wrap(inner, 0, "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("a"))
		assert.Error(t, err)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, c.Len())
}

func TestWrap_NilInner(t *testing.T) {
	_, err := Wrap(nil, 1, "")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
