package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"z-video-ai-api/internal/domain/entity"
)

func setupTestDB(t *testing.T) *Client {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库单连接，避免并发测试打开多个独立内存库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&entity.User{}, &entity.Generation{}))
	t.Cleanup(func() { _ = sqlDB.Close() })

	return NewClientWithDB(db)
}

func newTestUser(t *testing.T, repo *UserRepository, tier entity.Tier, freeUsed int) *entity.User {
	t.Helper()

	user := entity.NewUser("alice@example.com", "alice", tier)
	user.FreeUsed = freeUsed
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestUserRepositoryIncrementFreeUsed(t *testing.T) {
	ctx := context.Background()

	t.Run("increments below limit", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := newTestUser(t, repo, entity.TierFree, 3)

		previous, ok, err := repo.IncrementFreeUsed(ctx, user.ID, 10)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, previous)

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.FreeUsed)
	})

	t.Run("rejects at limit and reports current count", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := newTestUser(t, repo, entity.TierFree, 10)

		previous, ok, err := repo.IncrementFreeUsed(ctx, user.ID, 10)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 10, previous)

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.FreeUsed)
	})

	t.Run("concurrent increments never oversell", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := newTestUser(t, repo, entity.TierFree, 9)

		var granted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := repo.IncrementFreeUsed(ctx, user.ID, 10)
				if err == nil && ok {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), granted.Load())

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.FreeUsed)
	})
}

func TestUserRepositoryRestoreFreeUsed(t *testing.T) {
	ctx := context.Background()

	t.Run("restores after increment", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := newTestUser(t, repo, entity.TierFree, 5)

		previous, ok, err := repo.IncrementFreeUsed(ctx, user.ID, 10)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, repo.RestoreFreeUsed(ctx, user.ID, previous))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.FreeUsed)
	})

	t.Run("skips restore when count moved on", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := newTestUser(t, repo, entity.TierFree, 5)

		previous, _, err := repo.IncrementFreeUsed(ctx, user.ID, 10)
		require.NoError(t, err)

		// 期间发生了月度重置
		require.NoError(t, repo.ResetQuotaIfExpired(ctx, user.ID, user.ResetsAt.Add(time.Hour), user.ResetsAt.AddDate(0, 1, 0)))

		require.NoError(t, repo.RestoreFreeUsed(ctx, user.ID, previous))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.FreeUsed)
	})
}

func TestUserRepositoryResetQuotaIfExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("resets expired counter", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := newTestUser(t, repo, entity.TierFree, 8)

		now := user.ResetsAt.Add(time.Minute)
		next := entity.NextQuotaReset(now)
		require.NoError(t, repo.ResetQuotaIfExpired(ctx, user.ID, now, next))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.FreeUsed)
		assert.WithinDuration(t, next, got.ResetsAt, time.Second)
	})

	t.Run("leaves current window untouched", func(t *testing.T) {
		repo := NewUserRepository(setupTestDB(t))
		user := newTestUser(t, repo, entity.TierFree, 8)

		now := user.ResetsAt.Add(-time.Hour)
		require.NoError(t, repo.ResetQuotaIfExpired(ctx, user.ID, now, entity.NextQuotaReset(now)))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, got.FreeUsed)
	})
}

func TestUserRepositoryIncrementPaidUsed(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(setupTestDB(t))
	user := newTestUser(t, repo, entity.TierPro, 0)

	previous, err := repo.IncrementPaidUsed(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, previous)

	_, err = repo.IncrementPaidUsed(ctx, "missing-user")
	assert.Error(t, err)

	require.NoError(t, repo.RestorePaidUsed(ctx, user.ID, previous))
	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.PaidUsed)
}

func TestUserRepositoryGetByIDNotFound(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))
	got, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}
