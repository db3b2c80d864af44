package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisConsultationRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisConsultationRepository(client *redis.Client) ports.ConsultationRepository {
	return &RedisConsultationRepository{
		client: client,
		prefix: "vitalink:consultation:",
	}
}

func (r *RedisConsultationRepository) key(id domain.ConsultationID) string {
	return r.prefix + string(id)
}

func (r *RedisConsultationRepository) indexKey() string {
	return r.prefix + "all"
}

func (r *RedisConsultationRepository) Create(ctx context.Context, record *domain.ConsultationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal consultation: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(record.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set consultation in Redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("consultation already exists: %s", record.ID)
	}

	if err := r.client.SAdd(ctx, r.indexKey(), string(record.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index consultation: %w", err)
	}
	return nil
}

func (r *RedisConsultationRepository) GetByID(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error) {
	data, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrConsultationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consultation from Redis: %w", err)
	}

	var record domain.ConsultationRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consultation: %w", err)
	}
	return &record, nil
}

func (r *RedisConsultationRepository) Update(ctx context.Context, record *domain.ConsultationRecord) error {
	if _, err := r.GetByID(ctx, record.ID); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal consultation: %w", err)
	}
	if err := r.client.Set(ctx, r.key(record.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update consultation in Redis: %w", err)
	}
	return nil
}

func (r *RedisConsultationRepository) List(ctx context.Context) ([]*domain.ConsultationRecord, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list consultations: %w", err)
	}

	records := make([]*domain.ConsultationRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.GetByID(ctx, domain.ConsultationID(id))
		if err == domain.ErrConsultationNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (r *RedisConsultationRepository) Delete(ctx context.Context, id domain.ConsultationID) error {
	removed, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete consultation from Redis: %w", err)
	}
	if removed == 0 {
		return domain.ErrConsultationNotFound
	}
	if err := r.client.SRem(ctx, r.indexKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to unindex consultation: %w", err)
	}
	return nil
}
