package registry

import (
	"bytes"
	"encoding/json"

	"luarename/pkg/contract"
	bfixed "luarename/plugins/batcher/fixed"
	dmap "luarename/plugins/decoder/mapping"
	flaky "luarename/plugins/llmclient/flaky"
	gmi "luarename/plugins/llmclient/gemini"
	mock "luarename/plugins/llmclient/mock"
	oai "luarename/plugins/llmclient/openai"
	tgen "luarename/plugins/llmclient/textgen"
	prn "luarename/plugins/prompt/rename"
	rfs "luarename/plugins/reader/filesystem"
	rws "luarename/plugins/rewriter/wordsafe"
	spat "luarename/plugins/scanner/pattern"
	lex "luarename/plugins/stripper/lexical"
	tsit "luarename/plugins/stripper/treesitter"
	wfs "luarename/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewScanner 工厂签名：接收原样 JSON Options。
type NewScanner func(raw json.RawMessage) (contract.Scanner, error)

// NewStripper 工厂签名：接收原样 JSON Options。
type NewStripper func(raw json.RawMessage) (contract.CommentStripper, error)

// NewBatcher 工厂签名：接收原样 JSON Options。
type NewBatcher func(raw json.RawMessage) (contract.Batcher, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewRewriter 工厂签名：接收原样 JSON Options。
type NewRewriter func(raw json.RawMessage) (contract.Rewriter, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Scanner 工厂注册表。
var Scanner = map[string]NewScanner{
	// pattern: 正则形状 + 混淆器字面名
	"pattern": func(raw json.RawMessage) (contract.Scanner, error) {
		var opts spat.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return spat.New(&opts)
	},
}

// Stripper 工厂注册表。"none" 表示不去注释（上下文取原文）。
var Stripper = map[string]NewStripper{
	"lexical": func(raw json.RawMessage) (contract.CommentStripper, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return lex.New(), nil
	},
	// treesitter: Lua 语法树，字符串内的 -- 不受影响
	"treesitter": func(raw json.RawMessage) (contract.CommentStripper, error) {
		var opts tsit.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tsit.New(&opts), nil
	},
	"none": func(json.RawMessage) (contract.CommentStripper, error) { return nil, nil },
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// fixed: 定长批（可选 token 上限）
	"fixed": func(raw json.RawMessage) (contract.Batcher, error) {
		var opts bfixed.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bfixed.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// rename: name: context 行 + 输出规则 + JSON Schema 伪消息
	"rename": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts prn.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return prn.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"textgen": func(raw json.RawMessage) (contract.LLMClient, error) { return tgen.New(raw) },
	"openai":  func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"gemini":  func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":    func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":   func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// mapping: 多策略容错解析 {"mappings": {...}}
	"mapping": func(raw json.RawMessage) (contract.Decoder, error) { return dmap.New(raw) },
}

// Rewriter 工厂注册表。
var Rewriter = map[string]NewRewriter{
	// wordsafe: 长名优先、整词、单趟替换
	"wordsafe": func(raw json.RawMessage) (contract.Rewriter, error) { return rws.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（输出目录/原地覆盖，原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
