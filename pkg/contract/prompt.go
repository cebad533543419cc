package contract

import "strings"

// Prompt: 不透明载荷，由具体 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息形状（可用于 ChatPrompt）。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// RoleJSONSchema: 携带响应 JSON Schema 的伪消息角色，展平时跳过。
const RoleJSONSchema = "json_schema"

// PromptText 将任意 Prompt 展平为文本（Chat 以空行连接各条 Content）。
// 未知类型返回空串。
func PromptText(p Prompt) string {
	switch v := p.(type) {
	case TextPrompt:
		return string(v)
	case string:
		return v
	case ChatPrompt:
		parts := make([]string, 0, len(v))
		for _, m := range v {
			if strings.EqualFold(strings.TrimSpace(m.Role), RoleJSONSchema) {
				continue
			}
			parts = append(parts, m.Content)
		}
		return strings.Join(parts, "\n\n")
	default:
		return ""
	}
}

// PromptBuilder: 基于一批标识符与源码构造确定性的 Prompt。
// 约束：
//   - 纯计算，不做 I/O；
//   - avoid 为已被占用的替换名（实现可只取尾部若干条）；
//   - 失败快速返回错误。
type PromptBuilder interface {
	Build(batch []Identifier, source string, avoid []string) (Prompt, error)
	// BuildSingle: 单个标识符的单发请求。
	BuildSingle(id Identifier, source string, avoid []string) (Prompt, error)
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int
