package contract

import "errors"

// 运行期哨兵错误；调用方以 errors.Is 判定，包装时保留 %w。
var (
	// ErrPathInvalid: ArtifactID 无法映射为输出目录内的路径（绝对路径、'..' 逃逸、stdin 等）。
	ErrPathInvalid = errors.New("artifact path invalid")
	// ErrBudgetExceeded: 单请求 token 预算被固定提示开销或配额耗尽。
	ErrBudgetExceeded = errors.New("token budget exceeded")
	// ErrInvariantViolation: 重命名结果违反唯一性等约束。
	ErrInvariantViolation = errors.New("rename invariant violated")
)
