package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/halodocs/workbench/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type redisTaskStore struct {
	rdb redis.Cmdable
}

func NewRedisTaskStore(rdb redis.Cmdable) *redisTaskStore {
	return &redisTaskStore{rdb: rdb}
}

func (s *redisTaskStore) CreateTask(p domain.CreateTaskParams) (string, error) {
	ctx := context.Background()

	if p.IdempotencyKey != "" {
		existingID, err := s.rdb.Get(ctx, idempKey(p.IdempotencyKey)).Result()
		if err == nil && existingID != "" {
			t, ok := s.Task(existingID)
			if !ok {
				_ = s.rdb.Del(ctx, idempKey(p.IdempotencyKey)).Err()
			} else {
				if t.FileHashSHA == p.FileHashSHA && t.FileSize == p.FileSize && t.Op == p.Op {
					return existingID, nil
				}
				return "", fmt.Errorf("idempotency key %q reused with different payload", p.IdempotencyKey)
			}
		} else if err != nil && err != redis.Nil {
			return "", fmt.Errorf("redis get idempotency: %w", err)
		}
	}

	id := uuid.NewString()
	now := time.Now()
	expiresAt := now.Add(p.TTL)

	pipe := s.rdb.TxPipeline()
	hk := taskKey(id)

	pipe.HSet(ctx, hk,
		"status", string(domain.StatusPending),
		"progress", 0,
		"op", p.Op,
		"options", p.OptionsJSON,
		"original_name", p.OriginalName,
		"input_filename", p.InputFilename,
		"result_filename", "",
		"cancel_requested", 0,
		"file_size", p.FileSize,
		"file_hash_sha", p.FileHashSHA,
		"idempotency_key", p.IdempotencyKey,
		"created_at", now.UnixNano(),
		"updated_at", now.UnixNano(),
		"expires_at", expiresAt.UnixNano(),
		"error", "",
	)
	pipe.ZAdd(ctx, tasksByCreatedKey(), redis.Z{
		Score:  float64(expiresAt.Unix()),
		Member: id,
	})
	if p.IdempotencyKey != "" {
		pipe.Set(ctx, idempKey(p.IdempotencyKey), id, p.TTL)
	}
	if p.FileHashSHA != "" {
		pipe.Set(ctx, hashKey(p.FileHashSHA), id, p.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis create task: %w", err)
	}

	return id, nil
}

func (s *redisTaskStore) Task(id string) (domain.Task, bool) {
	ctx := context.Background()
	hk := taskKey(id)

	res, err := s.rdb.HGetAll(ctx, hk).Result()
	if err != nil {
		return domain.Task{}, false
	}
	if len(res) == 0 {
		return domain.Task{}, false
	}

	t := domain.Task{
		ID: id,
	}

	t.Status = domain.TaskStatus(res["status"])
	t.Op = res["op"]
	t.OptionsJSON = res["options"]
	t.OriginalName = res["original_name"]
	t.InputFilename = res["input_filename"]
	t.ResultFilename = res["result_filename"]
	t.FileHashSHA = res["file_hash_sha"]
	t.IdempotencyKey = res["idempotency_key"]
	t.Error = res["error"]
	t.CancelRequested = res["cancel_requested"] == "1"

	if v, ok := res["progress"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.Progress = n
		}
	}

	if v, ok := res["file_size"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.FileSize = n
		}
	}

	if v, ok := res["created_at"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.CreatedAt = time.Unix(0, n)
		}
	}
	if v, ok := res["updated_at"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.UpdatedAt = time.Unix(0, n)
		}
	}
	if v, ok := res["expires_at"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.ExpiresAt = time.Unix(0, n)
		}
	}

	return t, true
}

func (s *redisTaskStore) UpdateStatus(id string, newStatus domain.TaskStatus, errReason string) {
	ctx := context.Background()
	hk := taskKey(id)

	now := time.Now().UnixNano()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, "status", string(newStatus))
	pipe.HSet(ctx, hk, "error", errReason)
	pipe.HSet(ctx, hk, "updated_at", now)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis UpdateStatus", slog.String("error", err.Error()))
	}
}

func (s *redisTaskStore) SetProgress(id string, progress int) {
	ctx := context.Background()
	hk := taskKey(id)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, "progress", progress)
	pipe.HSet(ctx, hk, "updated_at", time.Now().UnixNano())

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis SetProgress", slog.String("error", err.Error()))
	}
}

func (s *redisTaskStore) SetResult(id string, resultFilename string) {
	ctx := context.Background()
	hk := taskKey(id)

	now := time.Now().UnixNano()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, "result_filename", resultFilename)
	pipe.HSet(ctx, hk, "error", "")
	pipe.HSet(ctx, hk, "status", string(domain.StatusDone))
	pipe.HSet(ctx, hk, "progress", 100)
	pipe.HSet(ctx, hk, "updated_at", now)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis SetResult", slog.String("error", err.Error()))
	}
}

// RequestCancel flips the per-task cancel flag. Workers poll it between
// processing stages; a task that already finished is left untouched.
func (s *redisTaskStore) RequestCancel(id string) error {
	ctx := context.Background()

	t, ok := s.Task(id)
	if !ok {
		return domain.ErrTaskNotFound
	}

	switch t.Status {
	case domain.StatusDone, domain.StatusFailed, domain.StatusExpired, domain.StatusCancelled:
		return domain.ErrTaskNotReady
	}

	if err := s.rdb.HSet(ctx, taskKey(id), "cancel_requested", 1).Err(); err != nil {
		return fmt.Errorf("redis RequestCancel: %w", err)
	}
	return nil
}

func (s *redisTaskStore) CancelRequested(id string) bool {
	ctx := context.Background()

	v, err := s.rdb.HGet(ctx, taskKey(id), "cancel_requested").Result()
	if err != nil {
		return false
	}
	return v == "1"
}

func (s *redisTaskStore) ByIdempotencyKey(key string) (domain.Task, bool) {
	if key == "" {
		return domain.Task{}, false
	}
	ctx := context.Background()

	id, err := s.rdb.Get(ctx, idempKey(key)).Result()
	if err == redis.Nil {
		return domain.Task{}, false
	}
	if err != nil {
		slog.Warn("redis ByIdempotencyKey", slog.String("error", err.Error()))
		return domain.Task{}, false
	}

	return s.Task(id)
}

func (s *redisTaskStore) ExpiredTasks(now time.Time) []string {
	ctx := context.Background()

	ids, err := s.rdb.ZRangeByScore(ctx, tasksByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(now.Unix()),
	}).Result()
	if err != nil {
		return nil
	}

	var expiredIDs []string

	for _, id := range ids {
		t, ok := s.Task(id)
		if !ok {
			continue
		}
		if now.After(t.ExpiresAt) && t.Status != domain.StatusExpired {
			s.UpdateStatus(id, domain.StatusExpired, "task expired")
			expiredIDs = append(expiredIDs, id)
		}
	}

	return expiredIDs
}

func (s *redisTaskStore) DeleteExpired(now time.Time, ttl time.Duration) int {
	ctx := context.Background()

	border := now.Add(-ttl).Unix()

	ids, err := s.rdb.ZRangeByScore(ctx, tasksByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(border),
	}).Result()
	if err != nil {
		return 0
	}

	deleted := 0
	for _, id := range ids {
		t, ok := s.Task(id)
		if !ok {
			continue
		}

		pipe := s.rdb.TxPipeline()

		pipe.Del(ctx, taskKey(id))
		pipe.ZRem(ctx, tasksByCreatedKey(), id)
		if t.IdempotencyKey != "" {
			pipe.Del(ctx, idempKey(t.IdempotencyKey))
		}
		if t.FileHashSHA != "" {
			pipe.Del(ctx, hashKey(t.FileHashSHA))
		}

		if _, err := pipe.Exec(ctx); err == nil {
			deleted++
		}
	}

	return deleted
}

func taskKey(id string) string {
	return "task:" + id
}

func idempKey(k string) string {
	return "task:idemp:" + k
}

func hashKey(h string) string {
	return "task:hash:" + h
}

func tasksByCreatedKey() string {
	return "tasks:by_created"
}
