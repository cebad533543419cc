package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 默认输入为 STDIN（"-"），Writer 输出到 ./out 目录；
// - 组件名采用仓库内置实现；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.Inputs = []string{"-"}
	cfg.MaxTokens = 4096
	cfg.MaxRetries = 2
	cfg.LLM = "mock"
	cfg.Provider = map[string]Provider{
		"mock": {
			Client: "mock",
			// 包含所有 mock 选项键（可为空）
			Options: Raw(`{"prefix":"","api_key":"","response_mode":""}`),
			Limits:  Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 8192},
		},
		"local": {
			Client: "textgen",
			Options: Raw(`{
  "url": "http://127.0.0.1:8787/api/rename-batch",
  "model": "",
  "api_key_env": "",
  "api_key": "",
  "timeout_seconds": 60,
  "extra_headers": {},
  "max_response_bytes": 0
}`),
		},
		"openai": {
			Client: "openai",
			// 覆盖全部 OpenAI 选项键，值可为空/默认
			Options: Raw(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {},
  "disable_json_mode": false
}`),
		},
		"gemini": {
			Client: "gemini",
			// 覆盖全部 Gemini 选项键，值可为空/默认
			Options: Raw(`{
  "base_url": "",
  "model": "",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null,
  "response_mime_type": ""
}`),
		},
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = Raw(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "allow_exts": [".lua", ".luau"]
}`)
	cfg.Options.Scanner = Raw(`{
  "extra_patterns": [],
  "extra_literals": [],
  "exclude": ["utf8", "bit32"],
  "disable_defaults": false
}`)
	cfg.Options.Stripper = Raw(`{"strict_fallback": false}`)
	cfg.Options.Batcher = Raw(`{
  "max_tokens": 0,
  "bytes_per_token": 4,
  "extra_bytes_per_identifier": 104
}`)
	cfg.Options.PromptBuilder = Raw(`{
  "inline_system_template": "",
  "system_template_path": "",
  "context_bytes": 100,
  "avoid_tail": 20
}`)
	// mapping 解码器与 wordsafe 改写器当前无配置项，保持空对象
	cfg.Options.Decoder = Raw(`{}`)
	cfg.Options.Rewriter = Raw(`{}`)
	cfg.Options.Writer = Raw(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "buf_size": 65536
}`)
	return cfg
}

// Render 按格式（json|yaml）输出配置文本。
func Render(cfg Config, format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case "yaml", "yml":
		return yaml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("config: unknown format %q", format)
	}
}
