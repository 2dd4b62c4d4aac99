package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"formapi/internal/models"
)

const fallbackKeyPrefix = "license:project:"

// RedisRepository shares synthetic project descriptors between replicas.
type RedisRepository struct {
	rdb *redis.Client
}

func NewRedisRepository(rdb *redis.Client) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

// fallbackDescriptor is shared by every requester, so it carries no owner.
type fallbackDescriptor struct {
	ID   string      `json:"_id"`
	Plan models.Plan `json:"plan"`
}

func (r *RedisRepository) GetProject(ctx context.Context, id string) (*models.Project, bool, error) {
	raw, err := r.rdb.Get(ctx, fallbackKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var d fallbackDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false, err
	}
	return &models.Project{ID: d.ID, Plan: d.Plan, Type: models.TypeProject, Synthetic: true}, true, nil
}

// SetProject stores the descriptor; a non-positive ttl stores nothing.
func (r *RedisRepository) SetProject(ctx context.Context, project *models.Project, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(fallbackDescriptor{ID: project.ID, Plan: project.Plan})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, fallbackKeyPrefix+project.ID, raw, ttl).Err()
}
