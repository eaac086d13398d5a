package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/dagflow/workflow"
)

// RedisStore keeps checkpoints as JSON blobs with per-workflow sorted-set
// indexes scored by creation time. Suitable for resuming runs across
// processes.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

var _ workflow.CheckpointStore = (*RedisStore)(nil)

// NewRedisStore wraps client. keyPrefix defaults to "dagflow"; a zero ttl
// keeps checkpoints until they are deleted.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "dagflow"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "checkpoint_redis")),
	}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) runKey(runID string) string {
	return s.keyPrefix + ":run:" + runID
}

func (s *RedisStore) workflowKey(name string) string {
	return s.keyPrefix + ":workflow:" + name
}

func (s *RedisStore) allKey() string {
	return s.keyPrefix + ":runs"
}

// Save stores cp, replacing any checkpoint with the same run ID.
func (s *RedisStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if cp == nil || cp.RunID == "" {
		return fmt.Errorf("%w: checkpoint without run id", workflow.ErrValidation)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	score := float64(cp.CreatedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(cp.RunID), data, s.ttl)
	pipe.ZAdd(ctx, s.workflowKey(cp.Workflow), redis.Z{Score: score, Member: cp.RunID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: cp.RunID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.RunID, err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("run_id", cp.RunID),
		zap.String("workflow", cp.Workflow),
		zap.Int("bytes", len(data)))
	return nil
}

// Load returns the checkpoint for runID or an error matching
// workflow.ErrRunNotFound.
func (s *RedisStore) Load(ctx context.Context, runID string) (*workflow.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &workflow.RunNotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}

	var cp workflow.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return &cp, nil
}

// Claim removes the checkpoint of runID if it still waits on requestID. The
// read and the removal run under WATCH, so a concurrent claim or save makes
// this one lose with an error matching workflow.ErrRunNotFound.
func (s *RedisStore) Claim(ctx context.Context, runID, requestID string) error {
	key := s.runKey(runID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return &workflow.RunNotFoundError{RunID: runID}
		}
		if err != nil {
			return err
		}
		var cp workflow.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return fmt.Errorf("decode checkpoint %s: %w", runID, err)
		}
		if cp.Pending == nil || cp.Pending.RequestID != requestID {
			return &workflow.RunNotFoundError{RunID: runID}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.allKey(), runID)
			pipe.ZRem(ctx, s.workflowKey(cp.Workflow), runID)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		s.logger.Debug("checkpoint claimed", zap.String("run_id", runID), zap.String("request_id", requestID))
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return &workflow.RunNotFoundError{RunID: runID}
	case errors.Is(err, workflow.ErrRunNotFound):
		return err
	default:
		return fmt.Errorf("claim checkpoint %s: %w", runID, err)
	}
}

// Delete removes the checkpoint and its index entries. Deleting an unknown
// run is not an error.
func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	cp, err := s.Load(ctx, runID)
	if err != nil && !errors.Is(err, workflow.ErrRunNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.ZRem(ctx, s.allKey(), runID)
	if cp != nil {
		pipe.ZRem(ctx, s.workflowKey(cp.Workflow), runID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", runID, err)
	}
	return nil
}

// List returns the checkpoints of workflowName, or of every workflow when it
// is empty, oldest first. Index entries whose blob expired are pruned.
func (s *RedisStore) List(ctx context.Context, workflowName string) ([]*workflow.Checkpoint, error) {
	indexKey := s.allKey()
	if workflowName != "" {
		indexKey = s.workflowKey(workflowName)
	}

	runIDs, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	result := make([]*workflow.Checkpoint, 0, len(runIDs))
	var stale []any
	for _, runID := range runIDs {
		cp, err := s.Load(ctx, runID)
		if errors.Is(err, workflow.ErrRunNotFound) {
			stale = append(stale, runID)
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			s.logger.Warn("failed to prune checkpoint index", zap.String("index", indexKey), zap.Error(err))
		}
	}
	return result, nil
}
