package mapping

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"luarename/pkg/contract"
)

// Options: 预留占位；当前无配置。
type Options struct{}

type decoder struct{}

// New 创建映射解码器。选项严格解码，未知字段报错。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, err
		}
	}
	return &decoder{}, nil
}

// Decode 依次尝试各解析策略，首个产出合法 JSON 对象者胜出。
func (d *decoder) Decode(raw contract.Raw) (contract.NameMapping, bool) {
	return Parse(raw.Text)
}

var _ contract.Decoder = (*decoder)(nil)

// strategy: 纯函数，(映射, 是否成功)。
type strategy func(text string) (contract.NameMapping, bool)

var chain = []strategy{
	wrapped,
	bare,
	fenced,
	embeddedWrapped,
	embeddedBare,
}

// Parse 从不可信文本恢复 原名→新名 映射。空文本或全部失败返回 (nil, false)。
func Parse(text string) (m contract.NameMapping, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m, ok = nil, false
		}
	}()
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, false
	}
	for _, s := range chain {
		if m, ok := s(t); ok {
			return m, true
		}
	}
	return nil, false
}

// wrapped: 整体为 {"mappings": {...}}。
func wrapped(text string) (contract.NameMapping, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	inner, ok := obj["mappings"]
	if !ok {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(inner, &m); err != nil || m == nil {
		return nil, false
	}
	return fromObject(m), true
}

// bare: 整体即映射对象。
func bare(text string) (contract.NameMapping, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil || m == nil {
		return nil, false
	}
	return fromObject(m), true
}

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z]*[ \\t]*\\r?\\n?(.*?)```")

// fenced: ``` 或 ```json 代码块内的 JSON，块内同样先 wrapped 后 bare。
func fenced(text string) (contract.NameMapping, bool) {
	for _, sub := range fenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(sub[1])
		if body == "" {
			continue
		}
		if m, ok := wrapped(body); ok {
			return m, true
		}
		if m, ok := bare(body); ok {
			return m, true
		}
	}
	return nil, false
}

// 嵌入式策略只扫描前 maxScanBytes 字节，最多尝试 maxCandidates 个对象。
const (
	maxScanBytes  = 1 << 20
	maxCandidates = 256
)

// span: 一对平衡花括号的闭区间 [start, end]。
type span struct{ start, end int }

// embeddedWrapped: 自由文本中首个含 "mappings" 的平衡花括号对象。
func embeddedWrapped(text string) (contract.NameMapping, bool) {
	text = head(text)
	keys := keyOffsets(text, `"mappings"`)
	if len(keys) == 0 {
		return nil, false
	}
	for _, sp := range objectSpans(text) {
		// 区间内是否出现过 "mappings"
		i := sort.SearchInts(keys, sp.start)
		if i == len(keys) || keys[i] > sp.end {
			continue
		}
		if m, ok := wrapped(text[sp.start : sp.end+1]); ok {
			return m, true
		}
	}
	return nil, false
}

// embeddedBare: 首个可解析的平衡花括号对象直接作为映射。
func embeddedBare(text string) (contract.NameMapping, bool) {
	text = head(text)
	for _, sp := range objectSpans(text) {
		if m, ok := bare(text[sp.start : sp.end+1]); ok {
			return m, true
		}
	}
	return nil, false
}

func head(text string) string {
	if len(text) > maxScanBytes {
		return text[:maxScanBytes]
	}
	return text
}

func keyOffsets(text, key string) []int {
	var out []int
	for off := 0; ; {
		i := strings.Index(text[off:], key)
		if i < 0 {
			return out
		}
		out = append(out, off+i)
		off += i + len(key)
	}
}

// objectSpans 单趟栈扫描配对花括号，按起点升序返回前 maxCandidates 个。
// 仅在花括号内部识别字符串与转义；未闭合的 '{' 不产生区间。
func objectSpans(text string) []span {
	var (
		stack []int
		spans []span
		inStr bool
		esc   bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = len(stack) > 0
		case '{':
			stack = append(stack, i)
		case '}':
			if n := len(stack); n > 0 {
				spans = append(spans, span{start: stack[n-1], end: i})
				stack = stack[:n-1]
			}
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	if len(spans) > maxCandidates {
		spans = spans[:maxCandidates]
	}
	return spans
}

// fromObject 仅保留字符串值（去首尾空白）；空值与非字符串值丢弃。
func fromObject(obj map[string]any) contract.NameMapping {
	out := make(contract.NameMapping, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out[k] = s
		}
	}
	return out
}
