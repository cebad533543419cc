package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"luarename/pkg/contract"
)

// Options: 通用文本生成端点（POST {prompt, model}）的最小配置。
type Options struct {
	URL            string            `json:"url" yaml:"url"`                         // 完整端点 URL，例如 http://127.0.0.1:8787/api/rename-batch
	Model          string            `json:"model" yaml:"model"`                     // 为空则不下发 model 字段
	APIKeyEnv      string            `json:"api_key_env" yaml:"api_key_env"`         // 可选：从环境变量读取 Bearer token
	APIKey         string            `json:"api_key" yaml:"api_key"`                 // 可选：明文 token（测试用）
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"` // client 级超时（秒），默认 60
	ExtraHeaders   map[string]string `json:"extra_headers" yaml:"extra_headers"`
	// MaxResponseBytes: 读取响应体的上限，默认 4 MiB。
	MaxResponseBytes int64 `json:"max_response_bytes" yaml:"max_response_bytes"`
}

func (o *Options) defaults() {
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = 4 << 20
	}
}

// Client 向通用端点发送 {prompt, model}，原样返回文本或从常见信封中取出正文。
type Client struct {
	url    string
	model  string
	apiKey string
	extraH map[string]string
	max    int64
	do     func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("textgen options: %w", err)
		}
	}
	opts.defaults()
	if !(strings.HasPrefix(opts.URL, "http://") || strings.HasPrefix(opts.URL, "https://")) {
		return nil, fmt.Errorf("textgen: %w: url must be http(s)", contract.ErrInvalidInput)
	}
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{url: opts.URL, model: opts.Model, apiKey: key, extraH: opts.ExtraHeaders, max: opts.MaxResponseBytes, do: hc.Do}, nil
}

type tgReq struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// envelope 兼容三类响应：本地代理 {mappings,error,details}、OpenAI 风格 choices、以及 {text}/{response}。
type envelope struct {
	Mappings json.RawMessage `json:"mappings"`
	Error    string          `json:"error"`
	Details  string          `json:"details"`
	Choices  []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Text     string `json:"text"`
	Response string `json:"response"`
}

// Invoke: 单次调用，同步返回；不做重试。
func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	text := contract.PromptText(p)
	if strings.TrimSpace(text) == "" {
		return contract.Raw{}, fmt.Errorf("textgen: %w: empty prompt", contract.ErrInvalidInput)
	}
	body, err := json.Marshal(tgReq{Prompt: text, Model: contract.ModelFrom(ctx, c.model)})
	if err != nil {
		return contract.Raw{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return contract.Raw{}, ctx.Err()
			}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	slurp, err := io.ReadAll(io.LimitReader(resp.Body, c.max))
	if err != nil {
		return contract.Raw{}, err
	}
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(slurp))
		var env envelope
		if json.Unmarshal(slurp, &env) == nil && env.Error != "" {
			msg = strings.TrimSpace(env.Error + " " + env.Details)
		}
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return contract.Raw{}, &contract.HTTPError{Client: "textgen", Status: resp.StatusCode, Message: msg}
	}
	return unwrap(slurp)
}

// unwrap 从已知信封中取出正文；非 JSON 或未知形状时原样返回。
func unwrap(body []byte) (contract.Raw, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return contract.Raw{}, fmt.Errorf("textgen: empty body: %w", contract.ErrResponseInvalid)
	}
	var env envelope
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &env) != nil {
		return contract.Raw{Text: string(body)}, nil
	}
	switch {
	case len(env.Mappings) > 0 && string(env.Mappings) != "null":
		return contract.Raw{Text: `{"mappings":` + string(env.Mappings) + `}`}, nil
	case env.Error != "":
		return contract.Raw{}, fmt.Errorf("textgen: %s %s: %w", env.Error, env.Details, contract.ErrResponseInvalid)
	case len(env.Choices) > 0:
		if s := env.Choices[0].Message.Content; s != "" {
			return contract.Raw{Text: s}, nil
		}
		if s := env.Choices[0].Text; s != "" {
			return contract.Raw{Text: s}, nil
		}
		return contract.Raw{}, contract.ErrResponseInvalid
	case env.Text != "":
		return contract.Raw{Text: env.Text}, nil
	case env.Response != "":
		return contract.Raw{Text: env.Response}, nil
	}
	return contract.Raw{Text: string(body)}, nil
}

var _ contract.LLMClient = (*Client)(nil)
