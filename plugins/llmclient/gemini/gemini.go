package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"luarename/pkg/contract"
)

// Options: Gemini（官方 genai SDK）最小必需配置。
type Options struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`       // 可选：覆盖 SDK 默认端点（测试/代理）
	Model     string `json:"model" yaml:"model"`             // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key" yaml:"api_key"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	// JSON 输出 MIME：仅当 Prompt 携带 schema 伪消息时生效；为空则使用 application/json
	ResponseMIMEType string `json:"response_mime_type,omitempty" yaml:"response_mime_type,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.ResponseMIMEType == "" {
		o.ResponseMIMEType = "application/json"
	}
}

type Client struct {
	cli      *genai.Client
	model    string
	temp     *float32
	respMIME string
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, err
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/") + "/"}
	}
	cli, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &Client{cli: cli, model: opts.Model, temp: opts.Temperature, respMIME: opts.ResponseMIMEType}, nil
}

// toContents: system 消息并入 SystemInstruction；schema 伪消息仅开启 JSON MIME。
func (c *Client) toContents(p contract.Prompt) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{Temperature: c.temp}
	var contents []*genai.Content
	switch v := p.(type) {
	case contract.TextPrompt:
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: string(v)}}})
	case contract.ChatPrompt:
		var sys []*genai.Part
		for _, m := range v {
			role := strings.ToLower(strings.TrimSpace(m.Role))
			switch role {
			case contract.RoleJSONSchema:
				cfg.ResponseMIMEType = c.respMIME
			case "system":
				sys = append(sys, &genai.Part{Text: m.Content})
			case "assistant", "model":
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
			default:
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
			}
		}
		if len(sys) > 0 {
			cfg.SystemInstruction = &genai.Content{Parts: sys}
		}
	default:
		return nil, nil, contract.ErrInvalidInput
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("gemini: %w: no user content", contract.ErrInvalidInput)
	}
	return contents, cfg, nil
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	contents, cfg, err := c.toContents(p)
	if err != nil {
		return contract.Raw{}, err
	}
	resp, err := c.cli.Models.GenerateContent(ctx, contract.ModelFrom(ctx, c.model), contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, classify(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: sb.String()}, nil
}

// classify 将 SDK 的 APIError 映射到本地错误分类。
func classify(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	return &contract.HTTPError{Client: "gemini", Status: apiErr.Code, Message: apiErr.Message}
}

var _ contract.LLMClient = (*Client)(nil)
