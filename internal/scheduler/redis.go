package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"argent/internal/logging"
)

var _ Scheduler = (*Redis)(nil)

// Redis stores jobs in three keys under a prefix:
//
//	{prefix}:jobs     ZSET  job id -> visible-at unix millis
//	{prefix}:jobdata  HASH  job id -> job JSON
//	{prefix}:current  HASH  player|key -> job id holding the slot
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// claimScript leases due jobs atomically so concurrent runners never hand
// out the same job inside one lease window.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  local data = redis.call('HGET', KEYS[2], id)
  if data then
    redis.call('ZADD', KEYS[1], ARGV[3], id)
    table.insert(out, data)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

// ackScript removes a job and frees its slot only if it still holds it.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if ARGV[2] ~= '' and redis.call('HGET', KEYS[3], ARGV[2]) == ARGV[1] then
  redis.call('HDEL', KEYS[3], ARGV[2])
end
return 1
`)

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "argent"
	}
	return &Redis{rdb: rdb, prefix: prefix + ":sched"}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	logging.Scheduler("redis scheduler connected: %s", addr)
	return NewRedis(rdb, prefix), nil
}

func (r *Redis) jobsKey() string    { return r.prefix + ":jobs" }
func (r *Redis) dataKey() string    { return r.prefix + ":jobdata" }
func (r *Redis) currentKey() string { return r.prefix + ":current" }

// Schedule implements Scheduler.
func (r *Redis) Schedule(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.dataKey(), job.ID, data)
		pipe.ZAdd(ctx, r.jobsKey(), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
		if k := job.SupersedeKey(); k != "" {
			pipe.HSet(ctx, r.currentKey(), k, job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.ID, err)
	}
	return nil
}

// Due implements Scheduler.
func (r *Redis) Due(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := claimScript.Run(ctx, r.rdb,
		[]string{r.jobsKey(), r.dataKey()},
		now.UnixMilli(), limit, now.Add(lease).UnixMilli(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claiming due jobs: %w", err)
	}
	jobs := make([]Job, 0, len(raw))
	for _, s := range raw {
		var j Job
		if err := json.Unmarshal([]byte(s), &j); err != nil {
			logging.SchedulerWarn("dropping undecodable job: %v", err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Ack implements Scheduler.
func (r *Redis) Ack(ctx context.Context, job Job) error {
	err := ackScript.Run(ctx, r.rdb,
		[]string{r.jobsKey(), r.dataKey(), r.currentKey()},
		job.ID, job.SupersedeKey(),
	).Err()
	if err != nil {
		return fmt.Errorf("acking job %s: %w", job.ID, err)
	}
	return nil
}

// Current implements Scheduler.
func (r *Redis) Current(ctx context.Context, job Job) (bool, error) {
	k := job.SupersedeKey()
	if k == "" {
		return true, nil
	}
	id, err := r.rdb.HGet(ctx, r.currentKey(), k).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading supersede slot: %w", err)
	}
	return id == job.ID, nil
}

// Pending implements Scheduler.
func (r *Redis) Pending(ctx context.Context) (int, error) {
	n, err := r.rdb.ZCard(ctx, r.jobsKey()).Result()
	return int(n), err
}

// Close implements Scheduler.
func (r *Redis) Close() error { return r.rdb.Close() }
