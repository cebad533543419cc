package rename

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"unicode/utf8"

	"luarename/pkg/contract"
)

// Options 为变量重命名 PromptBuilder 的最小配置。
type Options struct {
	// InlineSystemTemplate / SystemTemplatePath: system 提示模板（二选一，均为空时使用内置默认模板）。
	InlineSystemTemplate string `json:"inline_system_template" yaml:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path" yaml:"system_template_path"`
	// ContextBytes: 每个标识符上下文行的最大字节数（默认 100）。
	ContextBytes int `json:"context_bytes" yaml:"context_bytes"`
	// AvoidTail: 提示中列出的已占用名称条数上限（取最近的若干条，默认 20）。
	AvoidTail int `json:"avoid_tail" yaml:"avoid_tail"`
}

// Builder: 以标识符批与源码构造 ChatPrompt（system + user + json_schema）。
// 运行期不做 I/O；模板在构造期解析。
type Builder struct {
	sysT      *template.Template
	ctxBytes  int
	avoidTail int
}

// New 创建重命名 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("system").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	b := &Builder{sysT: tpl, ctxBytes: 100, avoidTail: 20}
	if o.ContextBytes > 0 {
		b.ctxBytes = o.ContextBytes
	}
	if o.AvoidTail > 0 {
		b.avoidTail = o.AvoidTail
	}
	return b, nil
}

// Build: 每个标识符输出 "name: context" 一行，随后是输出规则与已占用名称。
// 空批次只产出固定框架，供预算估算固定开销。
func (b *Builder) Build(batch []contract.Identifier, source string, avoid []string) (contract.Prompt, error) {
	sys, err := b.system()
	if err != nil {
		return nil, err
	}
	lines := splitLines(source)

	var uw bytes.Buffer
	uw.Grow(64 * (len(batch) + 4))
	uw.WriteString("Rename these obfuscated Lua identifiers. Each line is `name: first line where it appears`.\n\n")
	for _, id := range batch {
		uw.WriteString(id.Name)
		uw.WriteString(": ")
		uw.WriteString(b.contextFor(lines, id.Name))
		uw.WriteByte('\n')
	}
	b.writeRules(&uw, avoid, `{"mappings": {"old": "new"}}`)

	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: uw.String()},
		{Role: contract.RoleJSONSchema, Content: mappingJSONSchema},
	}), nil
}

// BuildSingle: 单个标识符的单发请求，输出形状与批请求一致。
func (b *Builder) BuildSingle(id contract.Identifier, source string, avoid []string) (contract.Prompt, error) {
	if strings.TrimSpace(id.Name) == "" {
		return nil, fmt.Errorf("prompt: %w: empty identifier", contract.ErrInvalidInput)
	}
	sys, err := b.system()
	if err != nil {
		return nil, err
	}
	var uw bytes.Buffer
	uw.WriteString("Suggest one meaningful name for this obfuscated Lua identifier.\n\n")
	uw.WriteString(id.Name)
	uw.WriteString(": ")
	uw.WriteString(b.contextFor(splitLines(source), id.Name))
	uw.WriteByte('\n')
	b.writeRules(&uw, avoid, fmt.Sprintf(`{"mappings": {%q: "new"}}`, id.Name))

	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: uw.String()},
		{Role: contract.RoleJSONSchema, Content: mappingJSONSchema},
	}), nil
}

func (b *Builder) system() (string, error) {
	var sysBuf bytes.Buffer
	if err := b.sysT.Execute(&sysBuf, nil); err != nil {
		return "", fmt.Errorf("system render: %w", contract.ErrInvalidInput)
	}
	return sysBuf.String(), nil
}

func (b *Builder) writeRules(w *bytes.Buffer, avoid []string, shape string) {
	w.WriteString("\nIMPORTANT OUTPUT RULES:\n")
	w.WriteString("1) Every new name must be a valid Lua identifier ([A-Za-z_][A-Za-z0-9_]*) and not a Lua keyword.\n")
	w.WriteString("2) Use distinct names; do not reuse any name listed under 'taken'.\n")
	w.WriteString("3) Return ONLY JSON in exactly this shape: ")
	w.WriteString(shape)
	w.WriteByte('\n')
	w.WriteString("taken: [")
	w.WriteString(strings.Join(tail(avoid, b.avoidTail), ", "))
	w.WriteString("]\n")
}

// contextFor: 首个包含该名称（子串匹配）的行，去首尾空白并按字节截断。
func (b *Builder) contextFor(lines []string, name string) string {
	for _, l := range lines {
		if strings.Contains(l, name) {
			return truncate(strings.TrimSpace(l), b.ctxBytes)
		}
	}
	return "(no context)"
}

// truncate 按字节上限截断且不切断 UTF-8 字符，截断时追加 "..."。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func tail(ss []string, n int) []string {
	if len(ss) <= n {
		return ss
	}
	return ss[len(ss)-n:]
}

func splitLines(source string) []string {
	lines := strings.Split(source, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// 静态接口断言
var _ contract.PromptBuilder = (*Builder)(nil)

// 默认 system 模板。
const defaultSystemTemplate = `You are an expert Lua reverse engineer. You receive identifiers from an obfuscated Lua script, each with the first source line where it appears.
Propose short, descriptive camelCase or snake_case names that reflect how each identifier is used (loop counters, tables, callbacks, VM registers and so on).
Keep the original name's role: functions get verb names, tables get plural or container names, booleans read as predicates.
Output ONLY strict JSON; no markdown, no code fences, no commentary.`

// 映射对象：{"mappings": {原名: 新名}}。
const mappingJSONSchema = `{"type":"object","properties":{"mappings":{"type":"object","additionalProperties":{"type":"string"}}},"required":["mappings"]}`
