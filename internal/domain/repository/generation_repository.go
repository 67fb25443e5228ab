// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"z-video-ai-api/internal/domain/entity"
)

// GenerationFilter 生成记录过滤条件
type GenerationFilter struct {
	Status      entity.GenerationStatus
	ProviderKey string
}

// GenerationRepository 生成记录仓储接口
type GenerationRepository interface {
	// Create 创建生成记录
	Create(ctx context.Context, gen *entity.Generation) error

	// GetByID 根据 ID 获取生成记录
	GetByID(ctx context.Context, id string) (*entity.Generation, error)

	// UpdateDispatch 任务派发成功后写入供应商信息
	UpdateDispatch(ctx context.Context, gen *entity.Generation) error

	// ListByUser 获取用户的生成记录列表
	ListByUser(ctx context.Context, userID string, filter *GenerationFilter, pagination Pagination) (*PagedResult[*entity.Generation], error)

	// UpdatePollProgress 记录一次远程轮询（attempts 与 empty url 计数）
	UpdatePollProgress(ctx context.Context, id string, pollAttempts, emptyURLPolls int) error

	// FinalizeIfProcessing 条件性写入终态：仅当记录仍为 processing 时生效。
	// 返回 false 表示另一个轮询已先行写入终态，本次为幂等空操作。
	FinalizeIfProcessing(ctx context.Context, gen *entity.Generation) (bool, error)
}
