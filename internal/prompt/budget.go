package prompt

import (
	"luarename/pkg/contract"
)

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// OverheadTokens 估算固定提示开销：以空批次、空源码构造一次提示词后计数。
func OverheadTokens(pb contract.PromptBuilder, est contract.TokenEstimator) int {
	if pb == nil || est == nil {
		return 0
	}
	p, err := pb.Build(nil, "", nil)
	if err != nil {
		return 0
	}
	return est(contract.PromptText(p))
}

// EffectiveMaxTokens 计算预扣固定提示开销后的有效预算。
// 返回 (effectiveMax, overheadTokens)。若 maxTokens<=0，返回 (0,0)。
func EffectiveMaxTokens(pb contract.PromptBuilder, bytesPerToken int, maxTokens int) (int, int) {
	if maxTokens <= 0 {
		return 0, 0
	}
	overhead := OverheadTokens(pb, MakeEstimator(bytesPerToken))
	return maxTokens - overhead, overhead
}

// EstimatePrompt 估算一次请求的 token 数（供限流申请）。
func EstimatePrompt(p contract.Prompt, bytesPerToken int) int {
	return MakeEstimator(bytesPerToken)(contract.PromptText(p))
}
