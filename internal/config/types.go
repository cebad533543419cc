package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 均使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs []string `json:"inputs" yaml:"inputs"`
	// Concurrency: 同时在途的批次数；1 为严格串行。
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// BatchSize: 每批标识符数（默认 20）。
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// MaxTokens: 单请求 token 预算；0 表示不检查。
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// MaxRetries: 网络/限流错误的最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// 单次调用超时（秒）：批量默认 15，单发默认 20。
	BatchTimeoutSeconds  int `json:"batch_timeout_seconds" yaml:"batch_timeout_seconds"`
	SingleTimeoutSeconds int `json:"single_timeout_seconds" yaml:"single_timeout_seconds"`
	// CacheSize: LRU 响应缓存条数；0 关闭。
	CacheSize   int     `json:"cache_size" yaml:"cache_size"`
	SkipSidecar bool    `json:"skip_sidecar" yaml:"skip_sidecar"`
	Logging     Logging `json:"logging" yaml:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components" yaml:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm" yaml:"llm"`
	Provider map[string]Provider `json:"provider" yaml:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options" yaml:"options"`

	Server Server `json:"server" yaml:"server"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level" yaml:"level"`
}

// Server: 本地代理服务。
type Server struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader" yaml:"reader"`
	Scanner       string `json:"scanner" yaml:"scanner"`
	Stripper      string `json:"stripper" yaml:"stripper"`
	Batcher       string `json:"batcher" yaml:"batcher"`
	PromptBuilder string `json:"prompt_builder" yaml:"prompt_builder"`
	Decoder       string `json:"decoder" yaml:"decoder"`
	Rewriter      string `json:"rewriter" yaml:"rewriter"`
	Writer        string `json:"writer" yaml:"writer"`
}

// Options: 各组件的原样 Options。
type Options struct {
	Reader        Raw `json:"reader,omitempty" yaml:"reader,omitempty"`
	Scanner       Raw `json:"scanner,omitempty" yaml:"scanner,omitempty"`
	Stripper      Raw `json:"stripper,omitempty" yaml:"stripper,omitempty"`
	Batcher       Raw `json:"batcher,omitempty" yaml:"batcher,omitempty"`
	PromptBuilder Raw `json:"prompt_builder,omitempty" yaml:"prompt_builder,omitempty"`
	Decoder       Raw `json:"decoder,omitempty" yaml:"decoder,omitempty"`
	Rewriter      Raw `json:"rewriter,omitempty" yaml:"rewriter,omitempty"`
	Writer        Raw `json:"writer,omitempty" yaml:"writer,omitempty"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string `json:"client" yaml:"client"`
	Options Raw    `json:"options,omitempty" yaml:"options,omitempty"`
	Limits  Limits `json:"limits" yaml:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm" yaml:"rpm"`
	TPM             int `json:"tpm" yaml:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req" yaml:"max_tokens_per_req"`
}

// Raw: 组件 Options 的原样 JSON。YAML 配置中的子树在解析期转成 JSON，
// 工厂层统一按 JSON 严格解码。
type Raw json.RawMessage

// JSON 返回 json.RawMessage 视图。
func (r Raw) JSON() json.RawMessage { return json.RawMessage(r) }

func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *Raw) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

func (r *Raw) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	if v == nil {
		*r = nil
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	*r = b
	return nil
}

func (r Raw) MarshalYAML() (any, error) {
	if len(r) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r, &v); err != nil {
		return nil, err
	}
	return v, nil
}
