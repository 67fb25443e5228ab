// Package provider 提供视频供应商抽象与静态描述符
package provider

import (
	"net/http"
	"strings"
	"time"

	"z-video-ai-api/internal/domain/entity"
)

// RemoteState 远程任务状态的规范化三态
type RemoteState string

const (
	RemoteStateProcessing RemoteState = "processing"
	RemoteStateCompleted  RemoteState = "completed"
	RemoteStateFailed     RemoteState = "failed"
)

// Descriptor 单个视频供应商的静态元数据与纯映射函数。
// 实现必须无状态：进程生命周期内不可变，方法不做网络调用。
type Descriptor interface {
	// Key 供应商键，用于链配置与记录存储
	Key() string

	// Name 人类可读名称
	Name() string

	// CostPerSecond 每秒视频的计费单价
	CostPerSecond() float64

	// SupportsTier 检查档位可用性
	SupportsTier(tier entity.Tier) bool

	// EstimatedTime 按视频长度估算的生成耗时
	EstimatedTime(lengthSeconds int) time.Duration

	// CreateEndpoint 任务创建端点
	CreateEndpoint(baseURL string) string

	// StatusEndpoint 任务状态查询端点
	StatusEndpoint(baseURL, taskID string) string

	// ApplyAuth 注入供应商特定的认证头
	ApplyAuth(req *http.Request, apiKey string)

	// BuildRequest 构造供应商特定的创建请求体
	BuildRequest(prompt string, lengthSeconds int) ([]byte, error)

	// ExtractTaskID 从创建响应中提取任务标识，缺失时返回空串
	ExtractTaskID(body []byte) string

	// ClassifyStatus 将状态响应归一化为三态
	ClassifyStatus(body []byte) RemoteState

	// ExtractResultURL 从状态响应中提取结果视频 URL，缺失时返回空串
	ExtractResultURL(body []byte) string

	// ExtractError 从状态响应中提取失败原因，缺失时返回空串
	ExtractError(body []byte) string
}

// normalizeState 将各家互不一致的原始状态词汇归一化。
// 未知词汇一律视为仍在处理中，避免误判为终态。
func normalizeState(raw string) RemoteState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "succeed", "success", "completed", "complete", "done":
		return RemoteStateCompleted
	case "failed", "fail", "error", "canceled", "cancelled", "timeout":
		return RemoteStateFailed
	default:
		return RemoteStateProcessing
	}
}
