package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
)

// CreateJob persists a new PENDING job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if j.State != job.StatePending {
		return fmt.Errorf("%w: new job must be %s", cluster.ErrInvalidTransition, job.StatePending)
	}
	if err := j.Validate(); err != nil {
		return err
	}

	key := jobKey(j.ID.String())
	return s.watch(ctx, "create job", func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("cluster/redis: create job: %w", err)
		}
		if n > 0 {
			return cluster.ErrJobAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			pipe.SAdd(ctx, jobIDsKey, j.ID.String())
			return nil
		})
		return err
	}, key)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("cluster/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, cluster.ErrJobNotFound
	}
	return mapToJob(vals)
}

// ListJobs returns jobs matching opts in dispatch order.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cluster/redis: list jobs: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jid := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jid))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("cluster/redis: list jobs: %w", err)
		}
	}

	result := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			// Deleted between SMEMBERS and HGETALL.
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		if opts.Matches(j) {
			result = append(result, j)
		}
	}
	job.SortForDispatch(result)

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// TransitionJob moves a job from expected to next inside a WATCH
// transaction on the job hash.
func (s *Store) TransitionJob(ctx context.Context, jobID id.JobID, expected, next job.State, patch func(*job.Job)) (*job.Job, error) {
	key := jobKey(jobID.String())

	var out *job.Job
	err := s.watch(ctx, "transition job", func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("cluster/redis: transition job: %w", err)
		}
		if len(vals) == 0 {
			return cluster.ErrJobNotFound
		}
		cur, err := mapToJob(vals)
		if err != nil {
			return err
		}
		updated, err := job.Apply(cur, expected, next, patch, s.now())
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, jobToMap(updated))
			return nil
		})
		if err != nil {
			return err
		}
		out = updated
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteJob removes a job that is still in expected.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, expected job.State) (*job.Job, error) {
	key := jobKey(jobID.String())

	var out *job.Job
	err := s.watch(ctx, "delete job", func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("cluster/redis: delete job: %w", err)
		}
		if len(vals) == 0 {
			return cluster.ErrJobNotFound
		}
		cur, err := mapToJob(vals)
		if err != nil {
			return err
		}
		if cur.State != expected {
			return fmt.Errorf("%w: job %s is %s, expected %s",
				cluster.ErrConflictingState, cur.ID, cur.State, expected)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, jobIDsKey, jobID.String())
			return nil
		})
		if err != nil {
			return err
		}
		cur.State = job.StateDeleted
		out = cur
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Hash conversion
// ──────────────────────────────────────────────────

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":         j.ID.String(),
		"name":       j.Name,
		"state":      string(j.State),
		"priority":   j.Priority,
		"strategy":   j.StrategyName,
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.AssignedWorker != "" {
		m["assigned_worker"] = j.AssignedWorker
	}
	if j.InputRef != "" {
		m["input_ref"] = j.InputRef
	}
	if j.OutputRef != "" {
		m["output_ref"] = j.OutputRef
	}
	if j.Error != "" {
		m["error"] = j.Error
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.CollectedAt != nil {
		m["collected_at"] = j.CollectedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jobID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("cluster/redis: parse job id %q: %w", m["id"], err)
	}
	priority, _ := strconv.Atoi(m["priority"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:             jobID,
		Name:           m["name"],
		State:          job.State(m["state"]),
		Priority:       priority,
		StrategyName:   m["strategy"],
		AssignedWorker: m["assigned_worker"],
		InputRef:       m["input_ref"],
		OutputRef:      m["output_ref"],
		Error:          m["error"],
		StartedAt:      parseOptionalTime(m["started_at"]),
		CompletedAt:    parseOptionalTime(m["completed_at"]),
		CollectedAt:    parseOptionalTime(m["collected_at"]),
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return j, nil
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// isMissing reports whether err is the Redis nil reply.
func isMissing(err error) bool { return errors.Is(err, goredis.Nil) }
