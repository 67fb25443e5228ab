// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"z-video-ai-api/internal/domain/entity"
)

// UserRepository 用户仓储接口
//
// 配额计数的增减必须在存储层以单条条件更新完成，
// 不允许应用层读改写，以保证并发请求下的原子性。
type UserRepository interface {
	// Create 创建用户
	Create(ctx context.Context, user *entity.User) error

	// GetByID 根据 ID 获取用户
	GetByID(ctx context.Context, id string) (*entity.User, error)

	// ResetQuotaIfExpired 当 now >= resets_at 时将两个计数清零并推进重置时间。
	// 条件更新，周期未到期时为空操作。
	ResetQuotaIfExpired(ctx context.Context, id string, now, nextReset time.Time) error

	// IncrementFreeUsed 原子递增免费用量，仅当 free_used < limit 时生效。
	// 返回递增前的值以及是否成功。
	IncrementFreeUsed(ctx context.Context, id string, limit int) (previous int, ok bool, err error)

	// IncrementPaidUsed 原子递增付费用量，返回递增前的值
	IncrementPaidUsed(ctx context.Context, id string) (previous int, err error)

	// RestoreFreeUsed 将免费用量回滚到 previous，仅当当前值为 previous+1 时生效
	RestoreFreeUsed(ctx context.Context, id string, previous int) error

	// RestorePaidUsed 将付费用量回滚到 previous，仅当当前值为 previous+1 时生效
	RestorePaidUsed(ctx context.Context, id string, previous int) error
}
