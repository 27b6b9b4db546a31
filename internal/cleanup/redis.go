package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultConsumerTTL is how long a consumer's heartbeat outlives its last poll.
// Jobs held by a consumer whose heartbeat expired go back on the wait list.
const DefaultConsumerTTL = 30 * time.Second

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Queue    string // key prefix, e.g. "file_cleanup"
}

// RedisQueue keeps jobs in Redis so they survive restarts and can be shared by
// several processes. Keys:
//
//	<queue>:wait              list of ready jobs (LPUSH / BLMOVE)
//	<queue>:processing:<id>   jobs consumer <id> has dequeued but not yet finished
//	<queue>:alive:<id>        heartbeat of consumer <id>, expires after consumerTTL
//	<queue>:consumers         set of consumer ids that may hold jobs
//	<queue>:delayed           sorted set of retries scored by due time
//	<queue>:pending           set of job ids not yet completed
type RedisQueue struct {
	client       *redis.Client
	name         string
	consumer     string
	waitKey      string
	delayedKey   string
	pendingKey   string
	consumersKey string

	// pollInterval bounds how long Dequeue blocks before promoting due retries.
	pollInterval time.Duration
	consumerTTL  time.Duration

	mu       sync.Mutex
	inflight map[string]string // job id -> payload as stored in the processing list
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, opts RedisOptions) (*RedisQueue, error) {
	if opts.Queue == "" {
		opts.Queue = "file_cleanup"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return newRedisQueue(client, opts.Queue), nil
}

func newRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		client:       client,
		name:         name,
		consumer:     uuid.New().String(),
		waitKey:      name + ":wait",
		delayedKey:   name + ":delayed",
		pendingKey:   name + ":pending",
		consumersKey: name + ":consumers",
		pollInterval: time.Second,
		consumerTTL:  DefaultConsumerTTL,
		inflight:     make(map[string]string),
	}
}

func (q *RedisQueue) processingKey(consumer string) string {
	return q.name + ":processing:" + consumer
}

func (q *RedisQueue) aliveKey(consumer string) string {
	return q.name + ":alive:" + consumer
}

var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes jobs whose id is not in the pending set.
func (q *RedisQueue) Enqueue(ctx context.Context, jobs ...Job) (int, error) {
	added := 0
	for _, job := range jobs {
		payload, err := json.Marshal(job)
		if err != nil {
			return added, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
		}

		n, err := q.client.SAdd(ctx, q.pendingKey, job.ID).Result()
		if err != nil {
			return added, fmt.Errorf("failed to register job %s: %w", job.ID, err)
		}
		if n == 0 {
			continue
		}

		if err := q.client.LPush(ctx, q.waitKey, payload).Err(); err != nil {
			q.client.SRem(ctx, q.pendingKey, job.ID)
			return added, fmt.Errorf("failed to push job %s: %w", job.ID, err)
		}
		added++
	}
	return added, nil
}

// Dequeue moves the oldest ready job onto this consumer's processing list, promoting
// due retries and requeueing jobs of dead consumers first. The job stays there until
// Retry or Complete, so it survives a crash of this process.
func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		if err := q.heartbeat(ctx); err != nil {
			slog.Warn("failed to refresh cleanup consumer heartbeat", "consumer", q.consumer, "error", err)
		}
		if err := q.promote(ctx); err != nil {
			slog.Warn("failed to promote delayed cleanup jobs", "error", err)
		}
		if err := q.requeueStale(ctx); err != nil {
			slog.Warn("failed to requeue jobs of stale cleanup consumers", "error", err)
		}

		processing := q.processingKey(q.consumer)
		payload, err := q.client.BLMove(ctx, q.waitKey, processing, "RIGHT", "LEFT", q.pollInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Job{}, ErrQueueClosed
			}
			return Job{}, fmt.Errorf("failed to pop cleanup job: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			slog.Error("discarding undecodable cleanup job", "payload", payload, "error", err)
			q.client.LRem(ctx, processing, 1, payload)
			continue
		}

		q.mu.Lock()
		q.inflight[job.ID] = payload
		q.mu.Unlock()
		return job, nil
	}
}

// heartbeat registers this consumer and extends its liveness.
func (q *RedisQueue) heartbeat(ctx context.Context) error {
	if err := q.client.SAdd(ctx, q.consumersKey, q.consumer).Err(); err != nil {
		return err
	}
	return q.client.Set(ctx, q.aliveKey(q.consumer), 1, q.consumerTTL).Err()
}

// requeueStale moves the processing lists of consumers whose heartbeat expired back
// onto the wait list.
func (q *RedisQueue) requeueStale(ctx context.Context) error {
	consumers, err := q.client.SMembers(ctx, q.consumersKey).Result()
	if err != nil {
		return err
	}

	for _, c := range consumers {
		if c == q.consumer {
			continue
		}
		alive, err := q.client.Exists(ctx, q.aliveKey(c)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}

		requeued := 0
		for {
			err := q.client.LMove(ctx, q.processingKey(c), q.waitKey, "RIGHT", "LEFT").Err()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return err
			}
			requeued++
		}
		if err := q.client.SRem(ctx, q.consumersKey, c).Err(); err != nil {
			return err
		}
		if requeued > 0 {
			slog.Info("requeued cleanup jobs of stale consumer", "consumer", c, "jobs", requeued)
		}
	}
	return nil
}

// release drops job from this consumer's processing list.
func (q *RedisQueue) release(ctx context.Context, job Job) error {
	q.mu.Lock()
	payload, ok := q.inflight[job.ID]
	delete(q.inflight, job.ID)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return q.client.LRem(ctx, q.processingKey(q.consumer), 1, payload).Err()
}

// promote moves retries whose due time has passed onto the wait list.
func (q *RedisQueue) promote(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, payload := range due {
		// ZREM decides which consumer owns the job when several poll at once
		removed, err := q.client.ZRem(ctx, q.delayedKey, payload).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.waitKey, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Retry stores job in the delayed set until delay has passed.
func (q *RedisQueue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	job.NotBefore = time.Now().Add(delay)
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	err = q.client.ZAdd(ctx, q.delayedKey, redis.Z{
		Score:  float64(job.NotBefore.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return err
	}
	return q.release(ctx, job)
}

// Complete removes the job from the processing list and its id from the pending set.
func (q *RedisQueue) Complete(ctx context.Context, job Job) error {
	if err := q.release(ctx, job); err != nil {
		return err
	}
	return q.client.SRem(ctx, q.pendingKey, job.ID).Err()
}

// Close drops this consumer's heartbeat and closes the Redis client. Jobs still on
// its processing list are requeued by the next consumer that polls.
func (q *RedisQueue) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.client.Del(ctx, q.aliveKey(q.consumer)).Err(); err != nil {
		slog.Debug("failed to drop cleanup consumer heartbeat", "consumer", q.consumer, "error", err)
	}
	return q.client.Close()
}
