package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"行注释", "x = 1 -- c\ny = 2", "x = 1 \ny = 2"},
		{"块注释", "x = 1 --[[ c ]] y = 2", "x = 1  y = 2"},
		{"跨行块注释", "--[[ a\nb ]]print(1)", "print(1)"},
		{"非贪婪", "--[[a]] k --[[b]]", " k "},
		{"保留CRLF", "a -- x\r\nb", "a \r\nb"},
		{"层级长注释", "--[==[ a ]] b ]=] ]==]x = 1", "x = 1"},
		{"层级不同不配对", "--[=[ a ]] ]=] y --[[ b ]] z", " y  z"},
		{"跨行层级", "a --[===[\nv1 = 2\n]===] b", "a  b"},
		{"未闭合按行注释", "--[==[ open\nv2 = 1", "\nv2 = 1"},
		{"空", "", ""},
		{"无注释", "local v1 = 2", "local v1 = 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripComments(tt.in))
			assert.Equal(t, tt.want, New().Strip(tt.in))
		})
	}
}

func TestStripComments_StringLiteralLimitation(t *testing.T) {
	// 已知限制：字符串内的 -- 也会被删除
	assert.Equal(t, `s = "a`, StripComments(`s = "a--b"`))
}
