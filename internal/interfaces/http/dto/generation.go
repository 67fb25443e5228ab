// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"z-video-ai-api/internal/domain/entity"
)

// GenerateRequest 创建视频生成请求
type GenerateRequest struct {
	Prompt string `json:"prompt" binding:"required,min=1,max=500"`
	UserID string `json:"userId" binding:"required"`
	Tier   string `json:"tier"`
	Length int    `json:"length"`
}

// GenerateResponse 创建成功响应
type GenerateResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	GenerationID  string `json:"generationId"`
	TaskID        string `json:"taskId"`
	Provider      string `json:"provider"`
	RemainingFree *int   `json:"remainingFree"`
	PollURL       string `json:"pollUrl"`
	EstimatedTime string `json:"estimatedTime"`
}

// QuotaExceededResponse 免费配额耗尽响应
type QuotaExceededResponse struct {
	Message   string `json:"message"`
	FreeUsed  int    `json:"freeUsed"`
	FreeLimit int    `json:"freeLimit"`
}

// GenerateFailedResponse 全链耗尽响应
type GenerateFailedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Elapsed string `json:"elapsed"`
}

// PollResponse 轮询响应
type PollResponse struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	VideoURL string `json:"videoUrl,omitempty"`
	Error    string `json:"error,omitempty"`
	Elapsed  string `json:"elapsed"`
}

// GenerationResponse 生成记录详情
type GenerationResponse struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Prompt         string  `json:"prompt"`
	Tier           string  `json:"tier"`
	Provider       string  `json:"provider,omitempty"`
	ProviderTaskID string  `json:"provider_task_id,omitempty"`
	Status         string  `json:"status"`
	VideoURL       string  `json:"video_url,omitempty"`
	Error          string  `json:"error,omitempty"`
	Cost           float64 `json:"cost"`
	LengthSeconds  int     `json:"length_seconds"`
	CreatedAt      string  `json:"created_at"`
	StartedAt      string  `json:"started_at,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
}

// GenerationListResponse 生成记录列表
type GenerationListResponse struct {
	Generations []*GenerationResponse `json:"generations"`
}

// ToGenerationResponse 转换生成记录实体
func ToGenerationResponse(gen *entity.Generation) *GenerationResponse {
	resp := &GenerationResponse{
		ID:             gen.ID,
		UserID:         gen.UserID,
		Prompt:         gen.Prompt,
		Tier:           string(gen.Tier),
		Provider:       gen.ProviderKey,
		ProviderTaskID: gen.ProviderTaskID,
		Status:         string(gen.Status),
		VideoURL:       gen.VideoURL,
		Error:          gen.ErrorMessage,
		Cost:           gen.Cost,
		LengthSeconds:  gen.LengthSeconds,
		CreatedAt:      gen.CreatedAt.Format(time.RFC3339),
	}
	if gen.StartedAt != nil {
		resp.StartedAt = gen.StartedAt.Format(time.RFC3339)
	}
	if gen.CompletedAt != nil {
		resp.CompletedAt = gen.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// ToGenerationListResponse 转换生成记录列表
func ToGenerationListResponse(gens []*entity.Generation) *GenerationListResponse {
	out := make([]*GenerationResponse, 0, len(gens))
	for _, gen := range gens {
		out = append(out, ToGenerationResponse(gen))
	}
	return &GenerationListResponse{Generations: out}
}
