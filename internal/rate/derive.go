package rate

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// 不联网的调试客户端共用一个固定分组。
var offlineClients = map[string]bool{"mock": true, "flaky": true}

// keyOptions: 各客户端 Options 中与分组相关的公共键。
type keyOptions struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
	URL       string `json:"url"`
	BaseURL   string `json:"base_url"`
}

// DeriveKeyFromProviderOptions 按 client+sha256(凭据) 构造限流分组键。
// 凭据依次取 api_key、api_key_env 指向的环境变量；调试客户端使用固定值；
// 无密钥的自建端点按 url/base_url 分组。均缺失时返回错误。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	var o keyOptions
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return "", fmt.Errorf("rate: provider options for %s: %w", client, err)
		}
	}
	secret := strings.TrimSpace(o.APIKey)
	if secret == "" && o.APIKeyEnv != "" {
		secret = strings.TrimSpace(os.Getenv(o.APIKeyEnv))
	}
	if secret == "" && offlineClients[client] {
		secret = "offline"
	}
	if secret == "" {
		secret = strings.TrimSpace(o.URL)
	}
	if secret == "" {
		secret = strings.TrimSpace(o.BaseURL)
	}
	if secret == "" {
		return "", fmt.Errorf("rate: no api key or endpoint for client %s", client)
	}
	sum := sha256.Sum256([]byte(secret))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:8])), nil
}
