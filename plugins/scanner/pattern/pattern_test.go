package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

func names(ids []contract.Identifier) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Name
	}
	return out
}

func TestScan_CountsOccurrences(t *testing.T) {
	src := "local var1 = 1\nvar1 = var1 + 1"
	res := Default().Scan(src)
	require.Len(t, res.Identifiers, 1)
	assert.Equal(t, contract.Identifier{Name: "var1", Occurrences: 3}, res.Identifiers[0])
	assert.Equal(t, []string{"local var1 = 1", "var1 = var1 + 1"}, res.Lines)
}

func TestScan_SortedByTrailingNumber(t *testing.T) {
	src := "local v10 = 1\nlocal v2 = v10\nlocal Stk = {}\nlocal a3 = v2"
	res := Default().Scan(src)
	// Stk 无数字后缀视为 0
	assert.Equal(t, []string{"Stk", "v2", "a3", "v10"}, names(res.Identifiers))
}

func TestScan_TiesKeepFirstOccurrence(t *testing.T) {
	res := Default().Scan("b1 a1 c1 a1")
	assert.Equal(t, []string{"b1", "a1", "c1"}, names(res.Identifiers))
	assert.Equal(t, 2, res.Identifiers[1].Occurrences)
}

func TestScan_ShapesAndBoundaries(t *testing.T) {
	src := "u_1_3(p_2, w_7) get_value_12 Upvalues myv1x 0x1F utf8.char(65) bit32.band(1)"
	res := Default().Scan(src)
	got := names(res.Identifiers)
	assert.ElementsMatch(t, []string{"u_1_3", "p_2", "w_7", "get_value_12", "Upvalues"}, got)
	for _, id := range res.Identifiers {
		assert.Equal(t, 1, id.Occurrences, id.Name)
	}
}

func TestScan_PrefixedUnderscoreForms(t *testing.T) {
	res := Default().Scan("local v__1 = p_x + u_abc2\nreturn v__1, up_x, p_x")
	assert.Equal(t, []string{"p_x", "v__1", "u_abc2"}, names(res.Identifiers))
	assert.Equal(t, 2, res.Identifiers[0].Occurrences)
	assert.Equal(t, 2, res.Identifiers[1].Occurrences)
}

func TestScan_OverlappingPatternsCountOnce(t *testing.T) {
	// v1 同时命中数字后缀与短前缀两种形状
	res := Default().Scan("v1 = v1")
	require.Len(t, res.Identifiers, 1)
	assert.Equal(t, 2, res.Identifiers[0].Occurrences)
}

func TestScan_CRLFLines(t *testing.T) {
	res := Default().Scan("a1 = 1\r\nb2 = a1\r\n")
	assert.Equal(t, []string{"a1 = 1", "b2 = a1", ""}, res.Lines)
}

func TestScan_Empty(t *testing.T) {
	res := Default().Scan("")
	assert.Empty(t, res.Identifiers)
	assert.Equal(t, []string{""}, res.Lines)
}

func TestScan_Deterministic(t *testing.T) {
	src := "x9 y3 z3 Stk Env v_1 q1 q1 Top"
	a := Default().Scan(src)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a, Default().Scan(src))
	}
}

func TestNew_Options(t *testing.T) {
	s, err := New(&Options{
		DisableDefaults: true,
		ExtraPatterns:   []string{`L_\d+_`},
		ExtraLiterals:   []string{"Regs"},
		Exclude:         []string{},
	})
	require.NoError(t, err)
	res := s.Scan("L_1_ = Regs; v1 = 2")
	// 两者尾号均为 0，保持首次出现顺序
	assert.Equal(t, []string{"L_1_", "Regs"}, names(res.Identifiers))

	s, err = New(&Options{Exclude: []string{"a1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, names(s.Scan("a1 b1").Identifiers))
	// 显式空排除表：utf8 也会被视为候选
	s, err = New(&Options{Exclude: []string{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"utf8"}, names(s.Scan("utf8.len(x)").Identifiers))

	_, err = New(&Options{ExtraPatterns: []string{"("}})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}
