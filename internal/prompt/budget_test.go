package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
	"luarename/plugins/prompt/rename"
)

func TestMakeEstimatorDefault(t *testing.T) {
	est := MakeEstimator(0)
	assert.Equal(t, 2, est("abcdef")) // 6 字节 -> 2 token
	assert.Equal(t, 0, est(""))
	assert.Equal(t, 6, MakeEstimator(1)("abcdef"))
}

type fakePB struct {
	text string
	err  error
}

func (f *fakePB) Build(_ []contract.Identifier, _ string, _ []string) (contract.Prompt, error) {
	return contract.TextPrompt(f.text), f.err
}

func (f *fakePB) BuildSingle(_ contract.Identifier, _ string, _ []string) (contract.Prompt, error) {
	return contract.TextPrompt(f.text), f.err
}

func TestEffectiveMaxTokensZero(t *testing.T) {
	eff, over := EffectiveMaxTokens(&fakePB{text: "abcd"}, 0, 0)
	assert.Equal(t, 0, eff)
	assert.Equal(t, 0, over)
}

func TestEffectiveMaxTokensOverhead(t *testing.T) {
	pb := &fakePB{text: strings.Repeat("x", 20)}
	eff, over := EffectiveMaxTokens(pb, 4, 10)
	assert.Equal(t, 5, eff)
	assert.Equal(t, 5, over)
}

func TestOverheadTokensBuildError(t *testing.T) {
	assert.Equal(t, 0, OverheadTokens(&fakePB{err: errors.New("x")}, MakeEstimator(4)))
	assert.Equal(t, 0, OverheadTokens(nil, MakeEstimator(4)))
}

func TestEstimatePrompt(t *testing.T) {
	p := contract.ChatPrompt{{Role: "system", Content: "abcd"}, {Role: "user", Content: "efgh"}}
	// "abcd\n\nefgh" = 10 字节
	assert.Equal(t, 3, EstimatePrompt(p, 4))
}

func TestEffectiveMaxTokens_RenameBuilder(t *testing.T) {
	pb, err := rename.New(nil)
	require.NoError(t, err)
	eff, over := EffectiveMaxTokens(pb, 4, 1)
	assert.Greater(t, over, 1)
	assert.LessOrEqual(t, eff, 0)

	eff, over = EffectiveMaxTokens(pb, 4, 4096)
	assert.Equal(t, 4096-over, eff)
	assert.Positive(t, eff)
}
