package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/metrics"
)

// promoteScript moves due members of the delayed zset onto the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  redis.call('LPUSH', KEYS[2], member)
  redis.call('ZREM', KEYS[1], member)
end
return #due
`)

const promoteBatch = 100

// Redis stores ready jobs in a list per lane and delayed jobs in a zset
// scored by due time in unix milliseconds.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "activitylogger"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// NewRedisClient connects to the configured server and pings it.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func (r *Redis) readyKey(lane string) string   { return r.prefix + ":queue:" + lane }
func (r *Redis) delayedKey(lane string) string { return r.prefix + ":queue:" + lane + ":delayed" }

func (r *Redis) Enqueue(ctx context.Context, job delivery.Job, opts Options) error {
	body, err := job.Encode()
	if err != nil {
		return newError("encode", err)
	}
	lane := LaneName(opts.Queue)
	if opts.Delay > 0 {
		due := time.Now().Add(opts.Delay).UnixMilli()
		err = r.rdb.ZAdd(ctx, r.delayedKey(lane), redis.Z{Score: float64(due), Member: body}).Err()
	} else {
		err = r.rdb.LPush(ctx, r.readyKey(lane), body).Err()
	}
	if err != nil {
		return newError("broker_unavailable", fmt.Errorf("redis enqueue %s: %w", lane, err))
	}
	return nil
}

// Promote moves delayed jobs due at now onto the ready list.
func (r *Redis) Promote(ctx context.Context, lane string, now time.Time) (int, error) {
	lane = LaneName(lane)
	n, err := promoteScript.Run(ctx, r.rdb,
		[]string{r.delayedKey(lane), r.readyKey(lane)},
		strconv.FormatInt(now.UnixMilli(), 10), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis promote %s: %w", lane, err)
	}
	return n, nil
}

// Len returns ready and delayed counts for a lane.
func (r *Redis) Len(ctx context.Context, lane string) (ready, delayed int64, err error) {
	lane = LaneName(lane)
	pipe := r.rdb.Pipeline()
	readyCmd := pipe.LLen(ctx, r.readyKey(lane))
	delayedCmd := pipe.ZCard(ctx, r.delayedKey(lane))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis len %s: %w", lane, err)
	}
	return readyCmd.Val(), delayedCmd.Val(), nil
}

// RedisConsumer pops jobs from one lane with N workers. A job popped is
// considered done once the handler returns.
type RedisConsumer struct {
	q           *Redis
	lane        string
	concurrency int
	handler     Handler
	logger      *logging.Logger

	// PollTimeout bounds each BRPOP; PromoteEvery is the delayed-job scan period.
	PollTimeout  time.Duration
	PromoteEvery time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewRedisConsumer(q *Redis, lane string, concurrency int, h Handler, logger *logging.Logger) *RedisConsumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisConsumer{
		q:            q,
		lane:         LaneName(lane),
		concurrency:  concurrency,
		handler:      h,
		logger:       logger,
		PollTimeout:  time.Second,
		PromoteEvery: time.Second,
	}
}

// Start launches the promoter and the workers. They run until Stop or ctx ends.
func (c *RedisConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.promoteLoop(ctx)
	}()
	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.work(ctx)
		}()
	}
}

// Stop signals the loops and waits for in-flight jobs to finish.
func (c *RedisConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *RedisConsumer) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(c.PromoteEvery)
	defer ticker.Stop()
	for {
		if _, err := c.q.Promote(ctx, c.lane, time.Now()); err != nil && ctx.Err() == nil {
			c.logger.Plain().WithLane(config.ConnectionRedis, c.lane).WithError(err).Warn("promote delayed jobs failed")
		}
		if ready, delayed, err := c.q.Len(ctx, c.lane); err == nil {
			metrics.UpdateLaneBacklog(config.ConnectionRedis, c.lane, float64(ready+delayed))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *RedisConsumer) work(ctx context.Context) {
	key := c.q.readyKey(c.lane)
	for ctx.Err() == nil {
		res, err := c.q.rdb.BRPop(ctx, c.PollTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Plain().WithLane(config.ConnectionRedis, c.lane).WithError(err).Warn("redis pop failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.PollTimeout):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}
		job, err := delivery.DecodeJob([]byte(res[1]))
		if err != nil {
			c.logger.Plain().WithLane(config.ConnectionRedis, c.lane).WithError(err).Error("bad job payload")
			continue
		}
		c.handler(context.WithoutCancel(ctx), job)
	}
}
