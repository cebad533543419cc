package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "LUAREN_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Concurrency:          1,
		BatchSize:            20,
		MaxRetries:           0,
		BatchTimeoutSeconds:  15,
		SingleTimeoutSeconds: 20,
		Logging:              Logging{Level: "info"},
		Components: Components{
			Reader:        "fs",
			Scanner:       "pattern",
			Stripper:      "treesitter",
			Batcher:       "fixed",
			PromptBuilder: "rename",
			Decoder:       "mapping",
			Rewriter:      "wordsafe",
			Writer:        "fs",
		},
		Options: Options{Writer: Raw(`{"output_dir":"out"}`)},
		Server:  Server{Addr: "127.0.0.1:8787"},
	}
}

// LoadFile 按扩展名选择解析器：.yaml/.yml 走 YAML，其余按 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

func openSource(path string, raw []byte) (io.ReadCloser, error) {
	switch {
	case len(raw) > 0:
		return io.NopCloser(bytes.NewReader(raw)), nil
	case path != "":
		return os.Open(path)
	default:
		return nil, errors.New("no config source provided")
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	r, err := openSource(path, raw)
	if err != nil {
		return cfg, err
	}
	defer r.Close()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config json: %w", err)
	}
	return cfg, nil
}

// LoadYAML 从文件路径或原始 YAML 解析 Config（KnownFields 严格模式）。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	r, err := openSource(path, raw)
	if err != nil {
		return cfg, err
	}
	defer r.Close()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, errors.New("config yaml: empty document")
		}
		return cfg, fmt.Errorf("config yaml: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv 把 .env 文件载入进程环境（不覆盖已存在的变量），
// 使 provider 的 api_key_env 与 LUAREN_* 覆盖都能读到。
// required=false 时文件不存在视为无操作。
func LoadDotEnv(path string, required bool) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("dotenv %s: %w", path, err)
	}
	return nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为替换；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.BatchSize != 0 {
		out.BatchSize = over.BatchSize
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	// MaxRetries 的 0 具有语义（禁用重试），约定 -1 为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.BatchTimeoutSeconds != 0 {
		out.BatchTimeoutSeconds = over.BatchTimeoutSeconds
	}
	if over.SingleTimeoutSeconds != 0 {
		out.SingleTimeoutSeconds = over.SingleTimeoutSeconds
	}
	if over.CacheSize != 0 {
		out.CacheSize = over.CacheSize
	}
	if over.SkipSidecar {
		out.SkipSidecar = true
	}
	if lv := strings.TrimSpace(over.Logging.Level); lv != "" {
		out.Logging.Level = lv
	}
	if a := strings.TrimSpace(over.Server.Addr); a != "" {
		out.Server.Addr = a
	}

	// 组件名（空不覆盖）
	pick := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	pick(&out.Components.Reader, over.Components.Reader)
	pick(&out.Components.Scanner, over.Components.Scanner)
	pick(&out.Components.Stripper, over.Components.Stripper)
	pick(&out.Components.Batcher, over.Components.Batcher)
	pick(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	pick(&out.Components.Decoder, over.Components.Decoder)
	pick(&out.Components.Rewriter, over.Components.Rewriter)
	pick(&out.Components.Writer, over.Components.Writer)

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		prov := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			prov[k] = v
		}
		for k, v := range over.Provider {
			prov[k] = v
		}
		out.Provider = prov
	}

	// Options（完整替换对应键）
	raw := func(dst *Raw, v Raw) {
		if len(v) > 0 {
			*dst = cloneRaw(v)
		}
	}
	raw(&out.Options.Reader, over.Options.Reader)
	raw(&out.Options.Scanner, over.Options.Scanner)
	raw(&out.Options.Stripper, over.Options.Stripper)
	raw(&out.Options.Batcher, over.Options.Batcher)
	raw(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	raw(&out.Options.Decoder, over.Options.Decoder)
	raw(&out.Options.Rewriter, over.Options.Rewriter)
	raw(&out.Options.Writer, over.Options.Writer)

	pick(&out.LLM, over.LLM)
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 LUAREN_；支持 INPUTS, CONCURRENCY, BATCH_SIZE, MAX_TOKENS, MAX_RETRIES,
// BATCH_TIMEOUT_SECONDS, SINGLE_TIMEOUT_SECONDS, CACHE_SIZE, SKIP_SIDECAR, LOG_LEVEL,
// SERVER_ADDR, LLM, COMPONENTS_*，
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分未覆盖和显式设置为 0。
	over.MaxRetries = -1
	prov := map[string]Provider{}
	setInt := func(dst *int, key, val string) error {
		v, err := atoi(val)
		if err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
		}
		*dst = v
		return nil
	}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := kv[len(EnvPrefix):eq]
		val := kv[eq+1:]
		// 空值视为未设置（.env 模板中的占位键）
		if strings.TrimSpace(val) == "" {
			continue
		}
		var err error
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "CONCURRENCY":
			err = setInt(&over.Concurrency, nk, val)
		case "BATCH_SIZE":
			err = setInt(&over.BatchSize, nk, val)
		case "MAX_TOKENS":
			err = setInt(&over.MaxTokens, nk, val)
		case "MAX_RETRIES":
			err = setInt(&over.MaxRetries, nk, val)
		case "BATCH_TIMEOUT_SECONDS":
			err = setInt(&over.BatchTimeoutSeconds, nk, val)
		case "SINGLE_TIMEOUT_SECONDS":
			err = setInt(&over.SingleTimeoutSeconds, nk, val)
		case "CACHE_SIZE":
			err = setInt(&over.CacheSize, nk, val)
		case "SKIP_SIDECAR":
			over.SkipSidecar, err = strconv.ParseBool(strings.TrimSpace(val))
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "SERVER_ADDR":
			over.Server.Addr = strings.TrimSpace(val)
		case "LLM":
			over.LLM = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_SCANNER":
			over.Components.Scanner = strings.TrimSpace(val)
		case "COMPONENTS_STRIPPER":
			over.Components.Stripper = strings.TrimSpace(val)
		case "COMPONENTS_BATCHER":
			over.Components.Batcher = strings.TrimSpace(val)
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = strings.TrimSpace(val)
		case "COMPONENTS_DECODER":
			over.Components.Decoder = strings.TrimSpace(val)
		case "COMPONENTS_REWRITER":
			over.Components.Rewriter = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.TrimSpace(parts[1])
			field := strings.Join(parts[2:], "__")
			p, seen := prov[name]
			changed := false
			switch field {
			case "CLIENT":
				if tv := strings.TrimSpace(val); tv != "" {
					p.Client = tv
					changed = true
				}
			case "LIMITS_RPM":
				err = setInt(&p.Limits.RPM, nk, val)
				changed = err == nil
			case "LIMITS_TPM":
				err = setInt(&p.Limits.TPM, nk, val)
				changed = err == nil
			case "LIMITS_MAX_TOKENS_PER_REQ":
				err = setInt(&p.Limits.MaxTokensPerReq, nk, val)
				changed = err == nil
			case "OPTIONS_JSON":
				// 空值视为未设置，避免清空现有配置
				if tv := strings.TrimSpace(val); tv != "" {
					if !json.Valid([]byte(tv)) {
						err = fmt.Errorf("env %s%s: invalid json", EnvPrefix, nk)
					} else {
						p.Options = Raw(tv)
						changed = true
					}
				}
			}
			if changed || seen {
				prov[name] = p
			}
		}
		if err != nil {
			return Config{}, err
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in Raw) Raw {
	if len(in) == 0 {
		return nil
	}
	out := make(Raw, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
