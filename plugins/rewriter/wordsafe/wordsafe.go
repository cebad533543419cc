package wordsafe

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"luarename/pkg/contract"
)

// Options: 预留占位，整词改写无需配置。
type Options struct{}

type rewriter struct{}

// New 创建整词改写器（当前忽略选项）。
func New(raw json.RawMessage) (contract.Rewriter, error) {
	_ = raw
	return &rewriter{}, nil
}

// Apply 见 Apply 函数。
func (r *rewriter) Apply(source string, m contract.NameMapping) string {
	return Apply(source, m)
}

var _ contract.Rewriter = (*rewriter)(nil)

// Apply 将映射一次性应用到源码：
// - 原名按长度降序（同长按字典序）组成单个整词交替正则；
// - 单趟从左到右替换，已替换文本不会被再次匹配；
// - 空映射原样返回。
func Apply(source string, m contract.NameMapping) string {
	if len(m) == 0 || source == "" {
		return source
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return source
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	alts := make([]string, len(keys))
	for i, k := range keys {
		alts[i] = regexp.QuoteMeta(k)
	}
	re := regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
	return re.ReplaceAllStringFunc(source, func(tok string) string {
		if v, ok := m[tok]; ok {
			return v
		}
		return tok
	})
}
