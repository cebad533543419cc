package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"luarename/pkg/contract"
)

// Client 以 Prompt 文本为键缓存上游成功响应；错误不入缓存。
// 同一 Prompt 在重复运行（watch 模式、重试）中只打一次上游。
type Client struct {
	inner contract.LLMClient
	cache *lru.Cache[string, string]
	scope string
}

// Wrap 用容量为 size 的 LRU 包装 inner。scope 区分不同 provider/模型的缓存键空间。
func Wrap(inner contract.LLMClient, size int, scope string) (*Client, error) {
	if inner == nil {
		return nil, fmt.Errorf("cached: %w: nil inner client", contract.ErrInvalidInput)
	}
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Client{inner: inner, cache: c, scope: scope}, nil
}

func (c *Client) key(p contract.Prompt) string {
	h := sha256.New()
	h.Write([]byte(c.scope))
	h.Write([]byte{0})
	h.Write([]byte(contract.PromptText(p)))
	return hex.EncodeToString(h.Sum(nil))
}

// Invoke 命中缓存直接返回；否则调用上游并缓存非空成功结果。
func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	k := c.key(p)
	if v, ok := c.cache.Get(k); ok {
		return contract.Raw{Text: v}, nil
	}
	raw, err := c.inner.Invoke(ctx, b, p)
	if err != nil {
		return raw, err
	}
	if raw.Text != "" {
		c.cache.Add(k, raw.Text)
	}
	return raw, nil
}

// Len 返回当前缓存条目数。
func (c *Client) Len() int { return c.cache.Len() }

var _ contract.LLMClient = (*Client)(nil)
