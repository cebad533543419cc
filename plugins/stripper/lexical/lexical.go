package lexical

import (
	"regexp"
	"strings"

	"luarename/pkg/contract"
)

// 先删长注释 --[=*[ ... ]=*]（等号层级须一致，可跨行），再删行注释；不识别字符串字面量。
var (
	openRe = regexp.MustCompile(`--\[(=*)\[`)
	lineRe = regexp.MustCompile(`--[^\r\n]*`)
)

// Stripper: 尽力而为的词法去注释。
type Stripper struct{}

// New 创建词法去注释器。
func New() *Stripper { return &Stripper{} }

// Strip 去除 --[[ ... ]]、--[==[ ... ]==] 与 -- 行注释，保留行注释后的换行。
func (Stripper) Strip(source string) string {
	return StripComments(source)
}

// StripComments 供无需实例的调用方直接使用。
func StripComments(source string) string {
	if source == "" {
		return source
	}
	out := stripLong(source)
	return lineRe.ReplaceAllString(out, "")
}

// stripLong 按层级配对删除长注释；未闭合的开头留给行注释处理。
func stripLong(s string) string {
	var b strings.Builder
	for {
		loc := openRe.FindStringSubmatchIndex(s)
		if loc == nil {
			break
		}
		closer := "]" + s[loc[2]:loc[3]] + "]"
		end := strings.Index(s[loc[1]:], closer)
		if end < 0 {
			break
		}
		b.WriteString(s[:loc[0]])
		s = s[loc[1]+end+len(closer):]
	}
	if b.Len() == 0 {
		return s
	}
	b.WriteString(s)
	return b.String()
}

// 静态接口断言
var _ contract.CommentStripper = (*Stripper)(nil)
