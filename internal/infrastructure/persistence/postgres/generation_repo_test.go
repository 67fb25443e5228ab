package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/internal/domain/repository"
)

func TestGenerationRepositoryFinalizeIfProcessing(t *testing.T) {
	ctx := context.Background()

	t.Run("finalizes processing record once", func(t *testing.T) {
		repo := NewGenerationRepository(setupTestDB(t))

		gen := entity.NewGeneration("user-1", "a red fox", entity.TierFree, 5)
		gen.Start("runway", "task-1", 0.5)
		require.NoError(t, repo.Create(ctx, gen))

		gen.Complete("https://cdn.example.com/v.mp4")
		ok, err := repo.FinalizeIfProcessing(ctx, gen)
		require.NoError(t, err)
		assert.True(t, ok)

		// 第二次定稿是幂等空操作
		gen.Fail("late failure")
		ok, err = repo.FinalizeIfProcessing(ctx, gen)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.GetByID(ctx, gen.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.GenerationStatusCompleted, got.Status)
		assert.Equal(t, "https://cdn.example.com/v.mp4", got.VideoURL)
	})

	t.Run("skips already terminal record", func(t *testing.T) {
		repo := NewGenerationRepository(setupTestDB(t))

		gen := entity.NewGeneration("user-1", "prompt", entity.TierFree, 5)
		gen.Start("kling", "task-2", 0.25)
		gen.Fail("provider failed")
		require.NoError(t, repo.Create(ctx, gen))

		gen.Complete("https://cdn.example.com/late.mp4")
		ok, err := repo.FinalizeIfProcessing(ctx, gen)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGenerationRepositoryUpdateDispatch(t *testing.T) {
	ctx := context.Background()
	repo := NewGenerationRepository(setupTestDB(t))

	gen := entity.NewGeneration("user-1", "prompt", entity.TierPro, 8)
	require.NoError(t, repo.Create(ctx, gen))

	gen.Start("luma", "luma-task-9", 0.32)
	require.NoError(t, repo.UpdateDispatch(ctx, gen))

	got, err := repo.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusProcessing, got.Status)
	assert.Equal(t, "luma", got.ProviderKey)
	assert.Equal(t, "luma-task-9", got.ProviderTaskID)
	assert.NotNil(t, got.StartedAt)
}

func TestGenerationRepositoryUpdatePollProgress(t *testing.T) {
	ctx := context.Background()
	repo := NewGenerationRepository(setupTestDB(t))

	gen := entity.NewGeneration("user-1", "prompt", entity.TierFree, 5)
	gen.Start("kie", "kt-1", 0.1)
	require.NoError(t, repo.Create(ctx, gen))

	require.NoError(t, repo.UpdatePollProgress(ctx, gen.ID, 7, 2))

	got, err := repo.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.PollAttempts)
	assert.Equal(t, 2, got.EmptyURLPolls)
}

func TestGenerationRepositoryListByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewGenerationRepository(setupTestDB(t))

	for i := 0; i < 3; i++ {
		gen := entity.NewGeneration("user-1", "prompt", entity.TierFree, 5)
		gen.Start("runway", "t", 0.5)
		if i == 0 {
			gen.Fail("boom")
		}
		require.NoError(t, repo.Create(ctx, gen))
	}
	other := entity.NewGeneration("user-2", "prompt", entity.TierFree, 5)
	require.NoError(t, repo.Create(ctx, other))

	t.Run("scopes to user", func(t *testing.T) {
		page, err := repo.ListByUser(ctx, "user-1", nil, repository.NewPagination(1, 10))
		require.NoError(t, err)
		assert.EqualValues(t, 3, page.Total)
		assert.Len(t, page.Items, 3)
	})

	t.Run("filters by status", func(t *testing.T) {
		filter := &repository.GenerationFilter{Status: entity.GenerationStatusFailed}
		page, err := repo.ListByUser(ctx, "user-1", filter, repository.NewPagination(1, 10))
		require.NoError(t, err)
		assert.EqualValues(t, 1, page.Total)
	})

	t.Run("paginates", func(t *testing.T) {
		page, err := repo.ListByUser(ctx, "user-1", nil, repository.NewPagination(2, 2))
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
		assert.EqualValues(t, 3, page.Total)
	})
}
