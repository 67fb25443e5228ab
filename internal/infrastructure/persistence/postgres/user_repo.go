// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"z-video-ai-api/internal/domain/entity"
)

// UserRepository 用户仓储实现
type UserRepository struct {
	client *Client
}

// NewUserRepository 创建用户仓储
func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.Create")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Create(user).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取用户，不存在时返回 (nil, nil)
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.GetByID")
	defer span.End()

	var user entity.User
	if err := r.client.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ResetQuotaIfExpired 清零已过期的免费计数。
// 条件更新：仅当 resets_at 已过去才生效，并发重置只有一个会写入。
func (r *UserRepository) ResetQuotaIfExpired(ctx context.Context, id string, now, nextReset time.Time) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.ResetQuotaIfExpired")
	defer span.End()

	err := r.client.db.WithContext(ctx).Exec(
		"UPDATE users SET free_used = 0, resets_at = ?, updated_at = ? WHERE id = ? AND resets_at <= ?",
		nextReset, now, id, now,
	).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reset quota: %w", err)
	}
	return nil
}

// IncrementFreeUsed 条件自增免费计数。
// 单条带 RETURNING 的条件更新保证并发下不超发。
// 返回自增前的计数；达到上限时 ok 为 false 且返回当前计数。
func (r *UserRepository) IncrementFreeUsed(ctx context.Context, id string, limit int) (int, bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.IncrementFreeUsed")
	defer span.End()

	db := r.client.db.WithContext(ctx)

	var newUsed int
	res := db.Raw(
		"UPDATE users SET free_used = free_used + 1, updated_at = ? WHERE id = ? AND free_used < ? RETURNING free_used",
		time.Now().UTC(), id, limit,
	).Scan(&newUsed)
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, false, fmt.Errorf("failed to increment free quota: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return newUsed - 1, true, nil
	}

	// 未命中说明已达上限，读取当前计数供调用方展示
	var current int
	if err := db.Raw("SELECT free_used FROM users WHERE id = ?", id).Scan(&current).Error; err != nil {
		span.RecordError(err)
		return 0, false, fmt.Errorf("failed to read free quota: %w", err)
	}
	return current, false, nil
}

// IncrementPaidUsed 自增付费计数，返回自增前的值
func (r *UserRepository) IncrementPaidUsed(ctx context.Context, id string) (int, error) {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.IncrementPaidUsed")
	defer span.End()

	var newUsed int
	res := r.client.db.WithContext(ctx).Raw(
		"UPDATE users SET paid_used = paid_used + 1, updated_at = ? WHERE id = ? RETURNING paid_used",
		time.Now().UTC(), id,
	).Scan(&newUsed)
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to increment paid quota: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("failed to increment paid quota: user %s not found", id)
	}
	return newUsed - 1, nil
}

// RestoreFreeUsed 回退一次免费计数。
// 仅当计数仍是预留后的值时生效，期间发生过月度重置则放弃回退。
func (r *UserRepository) RestoreFreeUsed(ctx context.Context, id string, previous int) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.RestoreFreeUsed")
	defer span.End()

	err := r.client.db.WithContext(ctx).Exec(
		"UPDATE users SET free_used = ?, updated_at = ? WHERE id = ? AND free_used = ?",
		previous, time.Now().UTC(), id, previous+1,
	).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to restore free quota: %w", err)
	}
	return nil
}

// RestorePaidUsed 回退一次付费计数
func (r *UserRepository) RestorePaidUsed(ctx context.Context, id string, previous int) error {
	ctx, span := tracer.Start(ctx, "postgres.UserRepository.RestorePaidUsed")
	defer span.End()

	err := r.client.db.WithContext(ctx).Exec(
		"UPDATE users SET paid_used = ?, updated_at = ? WHERE id = ? AND paid_used = ?",
		previous, time.Now().UTC(), id, previous+1,
	).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to restore paid quota: %w", err)
	}
	return nil
}
