package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/internal/domain/repository"
)

// GenerationRepository 生成记录仓储实现
type GenerationRepository struct {
	client *Client
}

// NewGenerationRepository 创建生成记录仓储
func NewGenerationRepository(client *Client) *GenerationRepository {
	return &GenerationRepository{client: client}
}

// Create 创建生成记录
func (r *GenerationRepository) Create(ctx context.Context, gen *entity.Generation) error {
	ctx, span := tracer.Start(ctx, "postgres.GenerationRepository.Create")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Create(gen).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create generation: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取生成记录，不存在时返回 (nil, nil)
func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*entity.Generation, error) {
	ctx, span := tracer.Start(ctx, "postgres.GenerationRepository.GetByID")
	defer span.End()

	var gen entity.Generation
	if err := r.client.db.WithContext(ctx).First(&gen, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return &gen, nil
}

// ListByUser 按用户分页查询生成记录，按创建时间倒序
func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, filter *repository.GenerationFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Generation], error) {
	ctx, span := tracer.Start(ctx, "postgres.GenerationRepository.ListByUser")
	defer span.End()

	db := r.client.db.WithContext(ctx).Model(&entity.Generation{}).Where("user_id = ?", userID)
	if filter != nil {
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if filter.ProviderKey != "" {
			db = db.Where("provider_key = ?", filter.ProviderKey)
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}

	var items []*entity.Generation
	err := db.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&items).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	return repository.NewPagedResult(items, total, pagination), nil
}

// UpdatePollProgress 记录轮询进度计数
func (r *GenerationRepository) UpdatePollProgress(ctx context.Context, id string, pollAttempts, emptyURLPolls int) error {
	ctx, span := tracer.Start(ctx, "postgres.GenerationRepository.UpdatePollProgress")
	defer span.End()

	err := r.client.db.WithContext(ctx).
		Model(&entity.Generation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"poll_attempts":   pollAttempts,
			"empty_url_polls": emptyURLPolls,
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update poll progress: %w", err)
	}
	return nil
}

// FinalizeIfProcessing 将处理中的记录写入终态。
// 条件更新保证终态只写一次：已被其他轮询定稿时返回 false，调用方按幂等处理。
func (r *GenerationRepository) FinalizeIfProcessing(ctx context.Context, gen *entity.Generation) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.GenerationRepository.FinalizeIfProcessing")
	defer span.End()

	res := r.client.db.WithContext(ctx).
		Model(&entity.Generation{}).
		Where("id = ? AND status IN ?", gen.ID, []string{
			string(entity.GenerationStatusPending),
			string(entity.GenerationStatusProcessing),
		}).
		Updates(map[string]any{
			"status":          gen.Status,
			"video_url":       gen.VideoURL,
			"error_message":   gen.ErrorMessage,
			"poll_attempts":   gen.PollAttempts,
			"empty_url_polls": gen.EmptyURLPolls,
			"completed_at":    gen.CompletedAt,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		span.RecordError(res.Error)
		return false, fmt.Errorf("failed to finalize generation: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateDispatch 任务派发成功后写入供应商信息
func (r *GenerationRepository) UpdateDispatch(ctx context.Context, gen *entity.Generation) error {
	ctx, span := tracer.Start(ctx, "postgres.GenerationRepository.UpdateDispatch")
	defer span.End()

	err := r.client.db.WithContext(ctx).
		Model(&entity.Generation{}).
		Where("id = ?", gen.ID).
		Updates(map[string]any{
			"provider_key":     gen.ProviderKey,
			"provider_task_id": gen.ProviderTaskID,
			"status":           gen.Status,
			"cost":             gen.Cost,
			"started_at":       gen.StartedAt,
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update dispatch info: %w", err)
	}
	return nil
}
