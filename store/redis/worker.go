package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/worker"
)

// UpsertWorker creates or refreshes a worker, keeping its current job and
// registration time.
func (s *Store) UpsertWorker(ctx context.Context, w *worker.Worker) (*worker.Worker, error) {
	key := workerKey(w.ID)

	var out *worker.Worker
	err := s.watch(ctx, "upsert worker", func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("cluster/redis: upsert worker: %w", err)
		}
		next := w.Clone()
		if len(vals) > 0 {
			cur := mapToWorker(vals)
			next.CurrentJob = cur.CurrentJob
			next.RegisteredAt = cur.RegisteredAt
			if cur.LastHeartbeat.After(next.LastHeartbeat) {
				next.LastHeartbeat = cur.LastHeartbeat
			}
		}
		fields, err := workerToMap(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			pipe.SAdd(ctx, workerIDsKey, w.ID)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HeartbeatWorker records a heartbeat, ignoring out-of-order timestamps.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID string, at time.Time) error {
	key := workerKey(workerID)
	return s.watch(ctx, "heartbeat worker", func(tx *goredis.Tx) error {
		raw, err := tx.HGet(ctx, key, "last_heartbeat").Result()
		if isMissing(err) {
			return cluster.ErrUnknownWorker
		}
		if err != nil {
			return fmt.Errorf("cluster/redis: heartbeat worker: %w", err)
		}
		last, _ := time.Parse(time.RFC3339Nano, raw) //nolint:errcheck // best-effort parse from trusted Redis data
		if !at.After(last) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "last_heartbeat", at.UTC().Format(time.RFC3339Nano))
			return nil
		})
		return err
	}, key)
}

// GetWorker retrieves a worker by id.
func (s *Store) GetWorker(ctx context.Context, workerID string) (*worker.Worker, error) {
	vals, err := s.client.HGetAll(ctx, workerKey(workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cluster/redis: get worker: %w", err)
	}
	if len(vals) == 0 {
		return nil, cluster.ErrWorkerNotFound
	}
	return mapToWorker(vals), nil
}

// ListWorkers returns all workers ordered by id.
func (s *Store) ListWorkers(ctx context.Context) ([]*worker.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cluster/redis: list workers: %w", err)
	}

	result := make([]*worker.Worker, 0, len(ids))
	for _, wid := range ids {
		vals, err := s.client.HGetAll(ctx, workerKey(wid)).Result()
		if err != nil {
			return nil, fmt.Errorf("cluster/redis: list workers: %w", err)
		}
		if len(vals) == 0 {
			continue
		}
		result = append(result, mapToWorker(vals))
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// SetCurrentJob compare-and-sets the worker's current job.
func (s *Store) SetCurrentJob(ctx context.Context, workerID, expected, next string) error {
	key := workerKey(workerID)
	return s.watch(ctx, "set current job", func(tx *goredis.Tx) error {
		vals, err := tx.HMGet(ctx, key, "id", "current_job").Result()
		if err != nil {
			return fmt.Errorf("cluster/redis: set current job: %w", err)
		}
		if vals[0] == nil {
			return cluster.ErrWorkerNotFound
		}
		cur, _ := vals[1].(string) //nolint:errcheck // nil means no current job
		if cur != expected {
			return fmt.Errorf("%w: worker %s holds %q, expected %q",
				cluster.ErrConflictingState, workerID, cur, expected)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if next == "" {
				pipe.HDel(ctx, key, "current_job")
			} else {
				pipe.HSet(ctx, key, "current_job", next)
			}
			return nil
		})
		return err
	}, key)
}

// RemoveWorker deletes a worker.
func (s *Store) RemoveWorker(ctx context.Context, workerID string) error {
	key := workerKey(workerID)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cluster/redis: remove worker: %w", err)
	}
	if n == 0 {
		return cluster.ErrWorkerNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, workerIDsKey, workerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cluster/redis: remove worker: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Hash conversion
// ──────────────────────────────────────────────────

func workerToMap(w *worker.Worker) (map[string]interface{}, error) {
	caps, err := json.Marshal(w.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("cluster/redis: marshal capabilities: %w", err)
	}
	m := map[string]interface{}{
		"id":             w.ID,
		"hostname":       w.Hostname,
		"os":             w.OS,
		"cpu":            w.CPU,
		"kernel":         w.Kernel,
		"ip":             w.IP,
		"task_runner":    w.TaskRunner,
		"capabilities":   string(caps),
		"last_heartbeat": w.LastHeartbeat.UTC().Format(time.RFC3339Nano),
		"registered_at":  w.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}
	if w.CurrentJob != "" {
		m["current_job"] = w.CurrentJob
	}
	return m, nil
}

func mapToWorker(m map[string]string) *worker.Worker {
	w := &worker.Worker{
		Info: worker.Info{
			Hostname:   m["hostname"],
			OS:         m["os"],
			CPU:        m["cpu"],
			Kernel:     m["kernel"],
			IP:         m["ip"],
			TaskRunner: m["task_runner"],
		},
		ID:         m["id"],
		CurrentJob: m["current_job"],
	}
	_ = json.Unmarshal([]byte(m["capabilities"]), &w.Capabilities)         //nolint:errcheck // best-effort parse from trusted Redis data
	w.LastHeartbeat, _ = time.Parse(time.RFC3339Nano, m["last_heartbeat"]) //nolint:errcheck // best-effort parse from trusted Redis data
	w.RegisteredAt, _ = time.Parse(time.RFC3339Nano, m["registered_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	return w
}
