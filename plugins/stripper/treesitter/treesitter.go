package treesitter

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/lua"

	"luarename/pkg/contract"
	"luarename/plugins/stripper/lexical"
)

// Options 为语法树去注释器的可选配置。
type Options struct {
	// StrictFallback: 语法树含错误节点时也回退词法去注释（默认仅在解析失败时回退）。
	StrictFallback bool `json:"strict_fallback" yaml:"strict_fallback"`
}

// Stripper 基于 Lua 语法删除 comment 节点，字符串内的 -- 不受影响。
// Parser 非并发安全，每次 Strip 独立创建。
type Stripper struct {
	strict bool
}

// New 创建语法树去注释器。
func New(opts *Options) *Stripper {
	s := &Stripper{}
	if opts != nil {
		s.strict = opts.StrictFallback
	}
	return s
}

// Strip 去除所有 comment 节点；解析失败时回退到词法实现。
func (s *Stripper) Strip(source string) string {
	if source == "" {
		return source
	}
	out, ok := s.strip(context.Background(), source)
	if !ok {
		return lexical.StripComments(source)
	}
	return out
}

func (s *Stripper) strip(ctx context.Context, source string) (string, bool) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lua.GetLanguage())

	content := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return "", false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || (s.strict && root.HasError()) {
		return "", false
	}
	var spans [][2]uint32
	collectComments(root, &spans)
	if len(spans) == 0 {
		return source, true
	}

	var b strings.Builder
	b.Grow(len(source))
	last := uint32(0)
	for _, sp := range spans {
		if sp[0] < last || int(sp[1]) > len(content) {
			continue
		}
		b.Write(content[last:sp[0]])
		last = sp[1]
	}
	b.Write(content[last:])
	return b.String(), true
}

// collectComments 先序遍历，按出现顺序收集 comment 节点字节区间。
func collectComments(n *sitter.Node, out *[][2]uint32) {
	if n.Type() == "comment" {
		*out = append(*out, [2]uint32{n.StartByte(), n.EndByte()})
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			collectComments(c, out)
		}
	}
}

// 静态接口断言
var _ contract.CommentStripper = (*Stripper)(nil)
