package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
	"luarename/plugins/llmclient/cached"
)

const basicJSON = `{
  "inputs": ["scripts/"],
  "concurrency": 2,
  "batch_size": 10,
  "max_tokens": 2048,
  "max_retries": 1,
  "logging": {"level": "debug"},
  "components": {"reader": "fs", "stripper": "lexical"},
  "llm": "mock",
  "provider": {
    "mock": {"client": "mock", "options": {"prefix": "n"}, "limits": {"rpm": 60, "tpm": 10000, "max_tokens_per_req": 4096}}
  },
  "options": {"writer": {"output_dir": "renamed"}}
}`

const basicYAML = `
inputs: [scripts/]
concurrency: 2
batch_size: 10
max_tokens: 2048
logging:
  level: debug
components:
  stripper: lexical
llm: mock
provider:
  mock:
    client: mock
    options:
      prefix: n
      response_mode: fenced
    limits: {rpm: 60, tpm: 10000}
options:
  writer:
    output_dir: renamed
    flat: false
`

func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("", []byte(basicJSON))
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.LLM)
	assert.Equal(t, []string{"scripts/"}, cfg.Inputs)
	assert.Equal(t, "lexical", cfg.Components.Stripper)
	assert.JSONEq(t, `{"prefix":"n"}`, string(cfg.Provider["mock"].Options))
	assert.JSONEq(t, `{"output_dir":"renamed"}`, string(cfg.Options.Writer))

	merged := Merge(Defaults(), cfg)
	require.NoError(t, Validate(merged))
	assert.Equal(t, "pattern", merged.Components.Scanner)
}

func TestLoadJSON_Unknown(t *testing.T) {
	_, err := LoadJSON("", []byte(`{"unknown":1}`))
	require.Error(t, err)
	_, err = LoadJSON("", nil)
	require.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := LoadYAML("", []byte(basicYAML))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 60, cfg.Provider["mock"].Limits.RPM)
	// YAML 子树转换为 JSON 交给工厂
	assert.JSONEq(t, `{"prefix":"n","response_mode":"fenced"}`, string(cfg.Provider["mock"].Options))
	assert.JSONEq(t, `{"output_dir":"renamed","flat":false}`, string(cfg.Options.Writer))

	_, err = LoadYAML("", []byte("bogus_key: 1\n"))
	require.Error(t, err)
}

func TestLoadFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	jp := filepath.Join(dir, "c.json")
	yp := filepath.Join(dir, "c.yml")
	require.NoError(t, os.WriteFile(jp, []byte(basicJSON), 0o644))
	require.NoError(t, os.WriteFile(yp, []byte(basicYAML), 0o644))

	a, err := LoadFile(jp)
	require.NoError(t, err)
	b, err := LoadFile(yp)
	require.NoError(t, err)
	assert.Equal(t, a.LLM, b.LLM)
	assert.Equal(t, a.Inputs, b.Inputs)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestEnvOverlay(t *testing.T) {
	env := []string{
		"LUAREN_INPUTS=a.lua, b.lua",
		"LUAREN_CONCURRENCY=3",
		"LUAREN_MAX_RETRIES=0",
		"LUAREN_LLM=mock",
		"LUAREN_COMPONENTS_STRIPPER=none",
		"LUAREN_SKIP_SIDECAR=true",
		"LUAREN_PROVIDER__mock__CLIENT=mock",
		"LUAREN_PROVIDER__mock__LIMITS_RPM=30",
		`LUAREN_PROVIDER__mock__OPTIONS_JSON={"prefix":"z"}`,
		"OTHER_VAR=1",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, "mock", over.LLM)
	assert.Equal(t, 3, over.Concurrency)
	assert.Equal(t, []string{"a.lua", "b.lua"}, over.Inputs)
	assert.Equal(t, 0, over.MaxRetries)
	assert.True(t, over.SkipSidecar)
	assert.Equal(t, "none", over.Components.Stripper)
	p := over.Provider["mock"]
	assert.Equal(t, "mock", p.Client)
	assert.Equal(t, 30, p.Limits.RPM)
	assert.JSONEq(t, `{"prefix":"z"}`, string(p.Options))

	// 未设置 MAX_RETRIES 时保持哨兵值，Merge 不覆盖
	over, err = EnvOverlay([]string{"LUAREN_LLM=x"})
	require.NoError(t, err)
	base := Defaults()
	base.MaxRetries = 4
	assert.Equal(t, 4, Merge(base, over).MaxRetries)
}

func TestEnvOverlay_Errors(t *testing.T) {
	_, err := EnvOverlay([]string{"LUAREN_CONCURRENCY=abc"})
	require.Error(t, err)
	_, err = EnvOverlay([]string{"LUAREN_PROVIDER__x__OPTIONS_JSON={bad"})
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("LUAREN_TEST_DOTENV_KEY=secret\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LUAREN_TEST_DOTENV_KEY") })

	require.NoError(t, LoadDotEnv(p, true))
	assert.Equal(t, "secret", os.Getenv("LUAREN_TEST_DOTENV_KEY"))

	missing := filepath.Join(dir, "nope.env")
	require.NoError(t, LoadDotEnv(missing, false))
	require.Error(t, LoadDotEnv(missing, true))
}

func TestMerge(t *testing.T) {
	base := Defaults()
	base.Provider = map[string]Provider{"a": {Client: "mock"}}
	over := Config{
		MaxRetries: -1,
		BatchSize:  5,
		Components: Components{Rewriter: "wordsafe", Scanner: "  "},
		Provider:   map[string]Provider{"b": {Client: "openai"}},
		Options:    Options{Scanner: Raw(`{"exclude":[]}`)},
	}
	m := Merge(base, over)
	assert.Equal(t, 5, m.BatchSize)
	assert.Equal(t, 0, m.MaxRetries)
	assert.Equal(t, "pattern", m.Components.Scanner)
	assert.Len(t, m.Provider, 2)
	assert.JSONEq(t, `{"exclude":[]}`, string(m.Options.Scanner))
	assert.JSONEq(t, `{"output_dir":"out"}`, string(m.Options.Writer))
}

func TestSplitCommaAtoi(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitComma("a, b , ,c"))
	assert.Nil(t, splitComma(""))
	v, err := atoi(" 10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	assert.Equal(t, "fs", d.Components.Reader)
	assert.Equal(t, "treesitter", d.Components.Stripper)
	assert.Equal(t, 20, d.BatchSize)
	src := Raw("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(dst))
	assert.Nil(t, cloneRaw(nil))
}

func TestValidateErrors(t *testing.T) {
	require.Error(t, Validate(Config{}))

	cases := map[string]func(c *Config){
		"混用 '-'":       func(c *Config) { c.Inputs = []string{"-", "a"} },
		"空输入路径":        func(c *Config) { c.Inputs = []string{" "} },
		"并发 0":         func(c *Config) { c.Concurrency = 0 },
		"批大小 0":        func(c *Config) { c.BatchSize = 0 },
		"负重试":          func(c *Config) { c.MaxRetries = -2 },
		"未知日志等级":       func(c *Config) { c.Logging.Level = "loud" },
		"未设置 llm":      func(c *Config) { c.LLM = "" },
		"provider 缺失":  func(c *Config) { c.LLM = "nope" },
		"client 为空":    func(c *Config) { c.Provider = map[string]Provider{"mock": {}} },
		"未注册 client":   func(c *Config) { c.Provider = map[string]Provider{"mock": {Client: "nope"}} },
		"超出单请求上限":      func(c *Config) { c.MaxTokens = 100000 },
		"未注册 scanner":  func(c *Config) { c.Components.Scanner = "ast" },
		"未注册 rewriter": func(c *Config) { c.Components.Rewriter = "x" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultTemplateConfig()
			mut(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	// serve 等场景无需 inputs
	cfg := DefaultTemplateConfig()
	cfg.Inputs = nil
	assert.NoError(t, Validate(cfg))
}

func TestAssemble(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Options.Writer = Raw(`{"output_dir":"` + filepath.ToSlash(t.TempDir()) + `"}`)
	cfg.CacheSize = 8
	cfg.BatchTimeoutSeconds = 3

	comp, set, gate, key, err := Assemble(cfg)
	require.NoError(t, err)
	assert.NotNil(t, comp.Reader)
	assert.NotNil(t, comp.Scanner)
	assert.NotNil(t, comp.Stripper)
	assert.NotNil(t, comp.Rewriter)
	assert.NotNil(t, comp.Writer)
	assert.NotNil(t, gate)
	assert.NotEmpty(t, key)
	assert.Equal(t, key, set.GateKey)
	assert.Equal(t, 3*time.Second, set.BatchTimeout)
	assert.Equal(t, 20, set.BatchSize)

	assert.IsType(t, &cached.Client{}, comp.LLM)

	// stripper=none 装配为 nil
	cfg.Components.Stripper = "none"
	comp, _, _, _, err = Assemble(cfg)
	require.NoError(t, err)
	assert.Nil(t, comp.Stripper)
}

func TestAssemble_FactoryErrors(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Options.Scanner = Raw(`{"unknown_opt":1}`)
	_, _, _, _, err := Assemble(cfg)
	require.Error(t, err)

	cfg = DefaultTemplateConfig()
	cfg.Options.Writer = Raw(`{}`)
	_, _, _, _, err = Assemble(cfg)
	require.Error(t, err)

	cfg = DefaultTemplateConfig()
	cfg.Options.Scanner = Raw(`{"extra_patterns":["("]}`)
	_, _, _, _, err = Assemble(cfg)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestTemplateRender(t *testing.T) {
	cfg := DefaultTemplateConfig()
	require.NoError(t, Validate(cfg))

	js, err := Render(cfg, "json")
	require.NoError(t, err)
	back, err := LoadJSON("", js)
	require.NoError(t, err)
	assert.Equal(t, cfg.LLM, back.LLM)
	assert.JSONEq(t, string(cfg.Options.Batcher), string(back.Options.Batcher))

	ys, err := Render(cfg, "yaml")
	require.NoError(t, err)
	back, err = LoadYAML("", ys)
	require.NoError(t, err)
	assert.Equal(t, cfg.Components, back.Components)
	assert.JSONEq(t, string(cfg.Provider["openai"].Options), string(back.Provider["openai"].Options))
	require.NoError(t, Validate(back))

	_, err = Render(cfg, "toml")
	require.Error(t, err)
}

func TestRawMarshal(t *testing.T) {
	var r Raw
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
	v, err := r.MarshalYAML()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBuildSingleComponents(t *testing.T) {
	cfg := Defaults()
	sc, err := BuildScanner(cfg)
	require.NoError(t, err)
	assert.Len(t, sc.Scan("local v1 = v1").Identifiers, 1)

	st, err := BuildStripper(cfg)
	require.NoError(t, err)
	require.NotNil(t, st)

	rw, err := BuildRewriter(cfg)
	require.NoError(t, err)
	assert.Equal(t, "local n = n", rw.Apply("local v1 = v1", contract.NameMapping{"v1": "n"}))

	cfg.Components.Stripper = "none"
	st, err = BuildStripper(cfg)
	require.NoError(t, err)
	assert.Nil(t, st)

	cfg.Components.Scanner = "nope"
	_, err = BuildScanner(cfg)
	require.Error(t, err)
}

func TestEnvOverlay_EmptyValuesIgnored(t *testing.T) {
	over, err := EnvOverlay([]string{"LUAREN_CONCURRENCY=", "LUAREN_LLM= ", "LUAREN_PROVIDER__openai__LIMITS_RPM="})
	require.NoError(t, err)
	assert.Zero(t, over.Concurrency)
	assert.Empty(t, over.LLM)
	assert.Empty(t, over.Provider)
}
