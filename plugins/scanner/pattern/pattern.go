package pattern

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"luarename/pkg/contract"
)

// Options 为模式扫描器的可选配置。
type Options struct {
	// ExtraPatterns: 追加的 RE2 正则（自动加整词边界）。
	ExtraPatterns []string `json:"extra_patterns" yaml:"extra_patterns"`
	// ExtraLiterals: 追加的字面名（如特定混淆器的寄存器名）。
	ExtraLiterals []string `json:"extra_literals" yaml:"extra_literals"`
	// Exclude: 永不作为候选的名称；为 nil 时使用默认 [utf8, bit32]。
	Exclude []string `json:"exclude" yaml:"exclude"`
	// DisableDefaults: 关闭内置模式与字面名，仅使用 Extra*。
	DisableDefaults bool `json:"disable_defaults" yaml:"disable_defaults"`
}

// 内置形状：数字后缀裸词、v/p/u/w 短前缀（含多下划线与字母段）、prefix_word_digits。
var defaultPatterns = []string{
	`[A-Za-z]+\d+`,
	`[vpuw]_?\d+(?:_\d+)*`,
	`[vpuw]_+[A-Za-z]*\d*`,
	`[A-Za-z]+_[A-Za-z]+_\d+`,
}

// 常见 Lua VM 混淆器生成的固定名称。
var defaultLiterals = []string{
	"Stk", "Env", "Upvalues", "Inst", "InstrPoint", "Top", "Varargsz", "Lupvals", "PCount",
}

var defaultExclude = []string{"utf8", "bit32"}

// Scanner 按模式集合提取候选标识符。
type Scanner struct {
	res     []*regexp.Regexp
	exclude map[string]struct{}
}

// New 编译模式集合。非法正则在构造期报错。
func New(opts *Options) (*Scanner, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	var pats []string
	lits := append([]string(nil), o.ExtraLiterals...)
	if !o.DisableDefaults {
		pats = append(pats, defaultPatterns...)
		lits = append(lits, defaultLiterals...)
	}
	pats = append(pats, o.ExtraPatterns...)

	s := &Scanner{exclude: map[string]struct{}{}}
	for _, p := range pats {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(`\b(?:` + p + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("scanner: %w: pattern %q: %v", contract.ErrInvalidInput, p, err)
		}
		s.res = append(s.res, re)
	}
	if len(lits) > 0 {
		q := make([]string, 0, len(lits))
		for _, l := range lits {
			if contract.IsIdentifier(l) {
				q = append(q, regexp.QuoteMeta(l))
			}
		}
		if len(q) > 0 {
			s.res = append(s.res, regexp.MustCompile(`\b(?:`+strings.Join(q, "|")+`)\b`))
		}
	}
	ex := o.Exclude
	if ex == nil {
		ex = defaultExclude
	}
	for _, e := range ex {
		s.exclude[e] = struct{}{}
	}
	return s, nil
}

// Default 返回内置配置的扫描器。
func Default() *Scanner {
	s, err := New(nil)
	if err != nil {
		panic(err)
	}
	return s
}

// Scan 在未去注释的原文上扫描。同一源码位置被多个模式命中只计一次。
func (s *Scanner) Scan(source string) contract.ScanResult {
	res := contract.ScanResult{Lines: SplitLines(source)}
	if source == "" {
		return res
	}

	type hit struct {
		start int
		name  string
	}
	seen := make(map[int]struct{})
	var hits []hit
	for _, re := range s.res {
		for _, loc := range re.FindAllStringIndex(source, -1) {
			if _, dup := seen[loc[0]]; dup {
				continue
			}
			name := source[loc[0]:loc[1]]
			if contract.IsKeyword(name) {
				continue
			}
			if _, skip := s.exclude[name]; skip {
				continue
			}
			seen[loc[0]] = struct{}{}
			hits = append(hits, hit{start: loc[0], name: name})
		}
	}
	// 按源码位置还原首次出现顺序
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	pos := make(map[string]int)
	for _, h := range hits {
		if i, ok := pos[h.name]; ok {
			res.Identifiers[i].Occurrences++
			continue
		}
		pos[h.name] = len(res.Identifiers)
		res.Identifiers = append(res.Identifiers, contract.Identifier{Name: h.name, Occurrences: 1})
	}
	sort.SliceStable(res.Identifiers, func(i, j int) bool {
		return contract.TrailingNumber(res.Identifiers[i].Name) < contract.TrailingNumber(res.Identifiers[j].Name)
	})
	return res
}

// SplitLines 按 \n 切分并去除行尾 \r。
func SplitLines(source string) []string {
	lines := strings.Split(source, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// 静态接口断言
var _ contract.Scanner = (*Scanner)(nil)
