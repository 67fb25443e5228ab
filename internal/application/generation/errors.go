// Package generation 实现视频生成的派发与轮询用例
package generation

import "net/http"

// attemptOutcome 单次任务创建尝试的结局分类
type attemptOutcome string

const (
	outcomeSuccess     attemptOutcome = "success"
	outcomeAuth        attemptOutcome = "auth"
	outcomeRateLimited attemptOutcome = "rate_limited"
	outcomeClientError attemptOutcome = "client_error"
	outcomeNoTaskID    attemptOutcome = "no_task_id"
	outcomeTransport   attemptOutcome = "transport"
)

// classifyCreateStatus 按 HTTP 状态码分类创建响应。
// 认证失败与普通 4xx 立即切换下一家；限流与 5xx 可在本家重试，
// 传输错误同样按可重试处理。
func classifyCreateStatus(status int) (outcome attemptOutcome, retryable bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return outcomeAuth, false
	case status == http.StatusTooManyRequests:
		return outcomeRateLimited, true
	case status >= 400 && status < 500:
		return outcomeClientError, false
	case status >= 500:
		return outcomeTransport, true
	default:
		return outcomeSuccess, false
	}
}
