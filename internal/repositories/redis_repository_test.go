//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formapi/internal/models"
)

func TestRedisRepository(t *testing.T) {
	rdb := startRedis(t)
	repo := NewRedisRepository(rdb)
	ctx := context.Background()

	_, ok, err := repo.GetProject(ctx, "remote-1")
	require.NoError(t, err)
	assert.False(t, ok)

	owner := "alice"
	require.NoError(t, repo.SetProject(ctx, &models.Project{ID: "remote-1", Plan: models.PlanCommercial, Owner: &owner}, time.Hour))

	p, ok, err := repo.GetProject(ctx, "remote-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remote-1", p.ID)
	assert.Equal(t, models.PlanCommercial, p.Plan)
	assert.Equal(t, models.TypeProject, p.Type)
	assert.True(t, p.Synthetic)
	assert.Nil(t, p.Owner, "descriptors are shared between users")

	ttl, err := rdb.TTL(ctx, fallbackKeyPrefix+"remote-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, repo.SetProject(ctx, &models.Project{ID: "remote-2", Plan: models.PlanBasic}, 0))
	_, ok, err = repo.GetProject(ctx, "remote-2")
	require.NoError(t, err)
	assert.False(t, ok, "a zero ttl stores nothing")
}
