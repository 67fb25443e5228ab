// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/google/uuid"
)

// Tier 用户订阅档位
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid 检查档位是否合法
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Paid 检查是否为付费档位
func (t Tier) Paid() bool {
	return t.Valid() && t != TierFree
}

// GenerationStatus 生成任务状态
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusCancelled  GenerationStatus = "cancelled"
)

// Terminal 检查状态是否为终态
func (s GenerationStatus) Terminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	}
	return false
}

// Generation 视频生成记录
//
// 不变式：VideoURL 非空当且仅当 Status = completed；
// ErrorMessage 非空仅当 Status = failed。
type Generation struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	ProviderTaskID string           `json:"provider_task_id,omitempty"`
	Prompt         string           `json:"prompt"`
	Tier           Tier             `json:"tier"`
	ProviderKey    string           `json:"provider_key,omitempty"`
	Status         GenerationStatus `json:"status"`
	VideoURL       string           `json:"video_url,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	Cost           float64          `json:"cost"`
	LengthSeconds  int              `json:"length_seconds"`
	PollAttempts   int              `json:"poll_attempts"`
	EmptyURLPolls  int              `json:"empty_url_polls"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// NewGeneration 创建新的生成记录
func NewGeneration(userID, prompt string, tier Tier, lengthSeconds int) *Generation {
	now := time.Now()
	return &Generation{
		ID:            uuid.New().String(),
		UserID:        userID,
		Prompt:        prompt,
		Tier:          tier,
		Status:        GenerationStatusPending,
		LengthSeconds: lengthSeconds,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Start 记录远程任务创建成功，进入 processing 状态
func (g *Generation) Start(providerKey, providerTaskID string, cost float64) {
	now := time.Now()
	g.Status = GenerationStatusProcessing
	g.ProviderKey = providerKey
	g.ProviderTaskID = providerTaskID
	g.Cost = cost
	g.StartedAt = &now
	g.UpdatedAt = now
}

// Complete 完成生成
func (g *Generation) Complete(videoURL string) {
	now := time.Now()
	g.Status = GenerationStatusCompleted
	g.VideoURL = videoURL
	g.ErrorMessage = ""
	g.CompletedAt = &now
	g.UpdatedAt = now
}

// Fail 生成失败
func (g *Generation) Fail(errMsg string) {
	now := time.Now()
	g.Status = GenerationStatusFailed
	g.ErrorMessage = errMsg
	g.CompletedAt = &now
	g.UpdatedAt = now
}

// Cancel 客户端主动取消，仅允许从非终态退出
func (g *Generation) Cancel() bool {
	if g.Status.Terminal() {
		return false
	}
	now := time.Now()
	g.Status = GenerationStatusCancelled
	g.CompletedAt = &now
	g.UpdatedAt = now
	return true
}

// Elapsed 计算从创建到当前（或终态）的耗时
func (g *Generation) Elapsed(now time.Time) time.Duration {
	if g.CompletedAt != nil {
		return g.CompletedAt.Sub(g.CreatedAt)
	}
	return now.Sub(g.CreatedAt)
}
