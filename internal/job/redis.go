package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisRepository implements Repository.
var _ Repository = (*RedisRepository)(nil)

const (
	redisKeyPrefix = "job:"
	redisIndexKey  = "jobs:index"
)

// RedisRepository stores jobs as JSON snapshots under job:<id> with a TTL.
// A set of known IDs backs List; expired members are pruned lazily.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository creates a repository on an existing client. A
// non-positive ttl keeps snapshots forever.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisRepository{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Save writes the job snapshot and refreshes its TTL.
func (r *RedisRepository) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job.Clone())
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisKey(job.ID), data, r.ttl)
	pipe.SAdd(ctx, redisIndexKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// FindByID loads a job snapshot. Returns ErrJobNotFound if the key is
// missing or expired.
func (r *RedisRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return decodeJob(data)
}

// List returns all live jobs, newest first.
func (r *RedisRepository) List(ctx context.Context) ([]*Job, error) {
	ids, err := r.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(values))
	var expired []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		job, err := decodeJob([]byte(s))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if len(expired) > 0 {
		_ = r.client.SRem(ctx, redisIndexKey, expired...).Err()
	}

	sortNewestFirst(jobs)
	return jobs, nil
}

// Delete removes the job snapshot. Returns ErrJobNotFound if it did not exist.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, redisKey(id))
	pipe.SRem(ctx, redisIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func decodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
