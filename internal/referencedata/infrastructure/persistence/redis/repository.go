package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
)

// ReferenceRedisRepository 基于 Redis 的参考数据读模型
type ReferenceRedisRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewReferenceRedisRepository ttl 为 0 时不过期
func NewReferenceRedisRepository(client redis.UniversalClient, ttl time.Duration) *ReferenceRedisRepository {
	return &ReferenceRedisRepository{
		client: client,
		prefix: "seclending:refdata:",
		ttl:    ttl,
	}
}

func (r *ReferenceRedisRepository) set(ctx context.Context, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return r.client.Set(ctx, r.prefix+kind+":"+id, data, r.ttl).Err()
}

func (r *ReferenceRedisRepository) get(ctx context.Context, kind, id string, dest any) error {
	data, err := r.client.Get(ctx, r.prefix+kind+":"+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s from redis: %w", kind, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return nil
}

func (r *ReferenceRedisRepository) GetSecurity(ctx context.Context, id string) (*domain.Security, error) {
	var s domain.Security
	if err := r.get(ctx, "security", id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ReferenceRedisRepository) GetCounterparty(ctx context.Context, id string) (*domain.Counterparty, error) {
	var c domain.Counterparty
	if err := r.get(ctx, "counterparty", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ReferenceRedisRepository) GetAggregationUnit(ctx context.Context, id string) (*domain.AggregationUnit, error) {
	var au domain.AggregationUnit
	if err := r.get(ctx, "au", id, &au); err != nil {
		return nil, err
	}
	return &au, nil
}

func (r *ReferenceRedisRepository) SaveSecurity(ctx context.Context, s *domain.Security) error {
	return r.set(ctx, "security", s.SecurityID, s)
}

func (r *ReferenceRedisRepository) SaveCounterparty(ctx context.Context, c *domain.Counterparty) error {
	return r.set(ctx, "counterparty", c.CounterpartyID, c)
}

func (r *ReferenceRedisRepository) SaveAggregationUnit(ctx context.Context, au *domain.AggregationUnit) error {
	return r.set(ctx, "au", au.AggregationUnitID, au)
}
