package diag

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"

	"luarename/pkg/contract"
)

// Code: 日志、指标与重试判定共用的错误分类，与退出码无关。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 按哨兵错误、上游状态码与标准库错误类型归类，不做字符串匹配。
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	}

	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		return classifyStatus(ue.UpstreamStatus())
	}

	switch {
	case errors.Is(err, contract.ErrBudgetExceeded), errors.Is(err, contract.ErrRateLimited):
		return CodeBudget
	case errors.Is(err, contract.ErrResponseInvalid):
		return CodeProtocol
	case errors.Is(err, contract.ErrInvariantViolation),
		errors.Is(err, contract.ErrInvalidInput),
		errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}

	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// classifyStatus: 429 限流；408/5xx 上游暂时故障；其余 4xx 为请求或配置问题。
func classifyStatus(status int) Code {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeBudget
	case status == http.StatusRequestTimeout, status >= 500 && status < 600:
		return CodeNetwork
	case status >= 400 && status < 500:
		return CodeInvariant
	default:
		return CodeProtocol
	}
}
