package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printglide/renderqueue/internal/models"
)

func TestWebhookEventRepository_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("first delivery is fresh", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewWebhookEventRepository(db)

		fresh, err := repo.Record(ctx, "evt-1", "job-1", "succeeded")
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("redelivery of the same key is suppressed", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewWebhookEventRepository(db)

		fresh, err := repo.Record(ctx, "evt-1", "job-1", "succeeded")
		require.NoError(t, err)
		require.True(t, fresh)

		fresh, err = repo.Record(ctx, "evt-1", "job-1", "succeeded")
		require.NoError(t, err)
		assert.False(t, fresh)

		var n int64
		require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&n).Error)
		assert.EqualValues(t, 1, n)
	})

	t.Run("distinct keys for the same job both record", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewWebhookEventRepository(db)

		fresh, err := repo.Record(ctx, "prov-1:processing", "job-1", "processing")
		require.NoError(t, err)
		assert.True(t, fresh)

		fresh, err = repo.Record(ctx, "prov-1:succeeded", "job-1", "succeeded")
		require.NoError(t, err)
		assert.True(t, fresh)
	})
}

func TestWebhookEventRepository_Forget(t *testing.T) {
	ctx := context.Background()

	t.Run("a forgotten key records as fresh again", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewWebhookEventRepository(db)

		fresh, err := repo.Record(ctx, "evt-1", "job-1", "succeeded")
		require.NoError(t, err)
		require.True(t, fresh)

		require.NoError(t, repo.Forget(ctx, "evt-1"))

		fresh, err = repo.Record(ctx, "evt-1", "job-1", "succeeded")
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("forgetting an absent key is a no-op", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewWebhookEventRepository(db)

		require.NoError(t, repo.Forget(ctx, "evt-ghost"))
	})
}
