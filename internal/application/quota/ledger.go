// Package quota 提供用户生成配额的预留与回滚能力
package quota

import (
	"context"
	"fmt"
	"time"

	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/internal/domain/repository"
	"z-video-ai-api/pkg/logger"
	"z-video-ai-api/pkg/metrics"
)

// ExceededError 表示免费档月度配额已耗尽
type ExceededError struct {
	UserID    string
	FreeUsed  int
	FreeLimit int
}

func (e ExceededError) Error() string {
	return fmt.Sprintf("free quota exceeded: user=%s used=%d limit=%d", e.UserID, e.FreeUsed, e.FreeLimit)
}

// Reservation 一次成功预留的凭据，用于后续回滚
type Reservation struct {
	UserID   string
	Tier     entity.Tier
	Previous int

	rolledBack bool
}

// Ledger 配额台账。预留与回滚都落在存储层的单条条件更新上，
// 并发请求不会出现超发。
type Ledger struct {
	userRepo  repository.UserRepository
	freeLimit int
	now       func() time.Time
}

func NewLedger(userRepo repository.UserRepository, freeLimit int) *Ledger {
	return &Ledger{
		userRepo:  userRepo,
		freeLimit: freeLimit,
		now:       time.Now,
	}
}

// FreeLimit 免费档每月的生成次数上限
func (l *Ledger) FreeLimit() int { return l.freeLimit }

// Reserve 为用户预留一次生成额度。
// 免费档先按月重置规则刷新计数，再做条件自增；达到上限返回 ExceededError。
// 付费档只记账不设限。
func (l *Ledger) Reserve(ctx context.Context, user *entity.User) (*Reservation, error) {
	if user.Tier.Paid() {
		previous, err := l.userRepo.IncrementPaidUsed(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("reserve paid quota: %w", err)
		}
		metrics.QuotaReservationsTotal.WithLabelValues(string(user.Tier), "allowed").Inc()
		return &Reservation{UserID: user.ID, Tier: user.Tier, Previous: previous}, nil
	}

	now := l.now().UTC()
	if user.QuotaExpired(now) {
		if err := l.userRepo.ResetQuotaIfExpired(ctx, user.ID, now, entity.NextQuotaReset(now)); err != nil {
			return nil, fmt.Errorf("reset expired quota: %w", err)
		}
		user.FreeUsed = 0
		user.ResetsAt = entity.NextQuotaReset(now)
	}

	previous, ok, err := l.userRepo.IncrementFreeUsed(ctx, user.ID, l.freeLimit)
	if err != nil {
		return nil, fmt.Errorf("reserve free quota: %w", err)
	}
	if !ok {
		metrics.QuotaReservationsTotal.WithLabelValues(string(user.Tier), "rejected").Inc()
		return nil, ExceededError{UserID: user.ID, FreeUsed: previous, FreeLimit: l.freeLimit}
	}
	metrics.QuotaReservationsTotal.WithLabelValues(string(user.Tier), "allowed").Inc()
	return &Reservation{UserID: user.ID, Tier: user.Tier, Previous: previous}, nil
}

// Rollback 归还一次预留。幂等：同一凭据只生效一次。
// 仅当计数仍是预留后的值时才回退，避免覆盖期间发生的月度重置。
func (l *Ledger) Rollback(ctx context.Context, res *Reservation) {
	if res == nil || res.rolledBack {
		return
	}
	res.rolledBack = true

	var err error
	if res.Tier.Paid() {
		err = l.userRepo.RestorePaidUsed(ctx, res.UserID, res.Previous)
	} else {
		err = l.userRepo.RestoreFreeUsed(ctx, res.UserID, res.Previous)
	}
	if err != nil {
		// 回滚失败只记日志，用户下月重置时自愈
		logger.Error(ctx, "quota rollback failed", err, "user_id", res.UserID, "tier", res.Tier)
		return
	}
	metrics.QuotaReservationsTotal.WithLabelValues(string(res.Tier), "rolled_back").Inc()
}

// Remaining 免费档剩余次数，付费档返回 -1 表示不限量
func (l *Ledger) Remaining(user *entity.User) int {
	if user.Tier.Paid() {
		return -1
	}
	if user.QuotaExpired(l.now().UTC()) {
		return l.freeLimit
	}
	remaining := l.freeLimit - user.FreeUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
