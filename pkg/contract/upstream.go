package contract

import (
	"fmt"
	"net/http"
)

// UpstreamError 承载上游 HTTP 失败的状态码与简短消息，供日志与错误分类使用。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// HTTPError 是各 HTTP 客户端共用的非 2xx 响应错误。
// errors.Is 按状态码命中哨兵：429 → ErrRateLimited；408 以外的 4xx → ErrInvalidInput。
type HTTPError struct {
	Client  string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s upstream %d", e.Client, e.Status)
	}
	return fmt.Sprintf("%s upstream %d: %s", e.Client, e.Status, e.Message)
}

func (e *HTTPError) UpstreamStatus() int     { return e.Status }
func (e *HTTPError) UpstreamMessage() string { return e.Message }

func (e *HTTPError) Unwrap() error {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Transient():
		return nil
	case e.Status/100 == 4:
		return ErrInvalidInput
	}
	return nil
}

// Transient: 408 与 5xx 属于上游暂时故障。
func (e *HTTPError) Transient() bool {
	return e.Status == http.StatusRequestTimeout || e.Status/100 == 5
}
