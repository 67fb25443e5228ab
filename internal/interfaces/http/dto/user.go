package dto

import (
	"time"

	"z-video-ai-api/internal/domain/entity"
)

// QuotaStatusResponse 用户配额状态
type QuotaStatusResponse struct {
	UserID    string `json:"user_id"`
	Tier      string `json:"tier"`
	FreeUsed  int    `json:"free_used"`
	FreeLimit int    `json:"free_limit"`
	// Remaining 免费档剩余次数，付费档为 -1 表示不限量
	Remaining int    `json:"remaining"`
	PaidUsed  int    `json:"paid_used"`
	ResetsAt  string `json:"resets_at"`
}

// ToQuotaStatusResponse 转换配额状态
func ToQuotaStatusResponse(user *entity.User, freeLimit, remaining int) *QuotaStatusResponse {
	return &QuotaStatusResponse{
		UserID:    user.ID,
		Tier:      string(user.Tier),
		FreeUsed:  user.FreeUsed,
		FreeLimit: freeLimit,
		Remaining: remaining,
		PaidUsed:  user.PaidUsed,
		ResetsAt:  user.ResetsAt.Format(time.RFC3339),
	}
}
