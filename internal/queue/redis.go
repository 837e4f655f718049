package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteScript moves due retries from the delayed set back onto the wait list.
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, item in ipairs(items) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('LPUSH', KEYS[2], item)
end
return #items
`)

// requeueScript returns one in-flight item to the wait list if it is still active.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 1 then
	redis.call('LPUSH', KEYS[2], ARGV[1])
	redis.call('HDEL', KEYS[3], ARGV[2])
	return 1
end
return 0
`)

// RedisQueue is a reliable list queue: items move atomically from the wait
// list to the active list on reserve, so a crashed worker never loses one.
type RedisQueue struct {
	client redis.UniversalClient
	opts   Options

	waitKey    string
	activeKey  string
	delayedKey string
	failedKey  string
	leasesKey  string
}

// NewRedisQueue creates a queue whose keys are namespaced by name.
func NewRedisQueue(client redis.UniversalClient, name string, opts Options) *RedisQueue {
	prefix := "cvscreen:queue:" + name
	return &RedisQueue{
		client:     client,
		opts:       opts.withDefaults(),
		waitKey:    prefix + ":wait",
		activeKey:  prefix + ":active",
		delayedKey: prefix + ":delayed",
		failedKey:  prefix + ":failed",
		leasesKey:  prefix + ":leases",
	}
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, item WorkItem) (string, error) {
	env := newEnvelope(item, q.opts)
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.waitKey, raw).Err(); err != nil {
		return "", fmt.Errorf("push work item: %w", err)
	}
	return env.ID, nil
}

func (q *RedisQueue) Reserve(ctx context.Context, wait time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.waitKey, q.activeKey, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoItem
	}
	if err != nil {
		return nil, fmt.Errorf("reserve work item: %w", err)
	}

	d := decodeDelivery(raw)
	if d.DecodeErr == nil {
		deadline := time.Now().Add(q.opts.LeaseTimeout).UnixMilli()
		if err := q.client.HSet(ctx, q.leasesKey, d.Envelope.ID, deadline).Err(); err != nil {
			return nil, fmt.Errorf("record lease: %w", err)
		}
	}
	return d, nil
}

func (q *RedisQueue) Complete(ctx context.Context, d *Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey, 1, d.raw)
		if d.Envelope.ID != "" {
			pipe.HDel(ctx, q.leasesKey, d.Envelope.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete work item: %w", err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, d *Delivery, cause error, retryable bool) (Outcome, error) {
	env := d.Envelope
	retry, delay := recordFailure(&env, cause, retryable, q.opts)

	var next []byte
	if d.DecodeErr != nil {
		// Keep the original bytes so the malformed payload can be inspected.
		next = []byte(d.raw)
	} else {
		var err error
		if next, err = json.Marshal(env); err != nil {
			return OutcomeRetained, fmt.Errorf("encode envelope: %w", err)
		}
	}

	outcome := OutcomeRetained
	if retry {
		outcome = OutcomeRetryScheduled
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey, 1, d.raw)
		if env.ID != "" {
			pipe.HDel(ctx, q.leasesKey, env.ID)
		}
		if retry {
			due := time.Now().Add(delay).UnixMilli()
			pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: string(next)})
		} else {
			pipe.LPush(ctx, q.failedKey, next)
		}
		return nil
	})
	if err != nil {
		return outcome, fmt.Errorf("fail work item: %w", err)
	}
	return outcome, nil
}

// Maintain promotes due retries and requeues items whose lease expired.
func (q *RedisQueue) Maintain(ctx context.Context) error {
	if _, err := q.promoteDue(ctx, 100); err != nil {
		return err
	}
	if _, err := q.recoverStalled(ctx); err != nil {
		return err
	}
	return nil
}

func (q *RedisQueue) promoteDue(ctx context.Context, batch int) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.waitKey}, now, batch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed items: %w", err)
	}
	return n, nil
}

// recoverStalled requeues active items whose lease expired. An active item
// with no lease (the worker died between the move and the lease write) is
// given one here, so it is requeued once that lease runs out.
func (q *RedisQueue) recoverStalled(ctx context.Context) (int, error) {
	active, err := q.client.LRange(ctx, q.activeKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read active items: %w", err)
	}
	if len(active) == 0 {
		return 0, nil
	}
	leases, err := q.client.HGetAll(ctx, q.leasesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read leases: %w", err)
	}

	now := time.Now().UnixMilli()
	recovered := 0
	for _, raw := range active {
		d := decodeDelivery(raw)
		if d.DecodeErr != nil || d.Envelope.ID == "" {
			continue
		}
		deadline, leased := leases[d.Envelope.ID]
		if !leased {
			adopt := time.Now().Add(q.opts.LeaseTimeout).UnixMilli()
			if err := q.client.HSetNX(ctx, q.leasesKey, d.Envelope.ID, adopt).Err(); err != nil {
				return recovered, fmt.Errorf("adopt orphaned item: %w", err)
			}
			continue
		}
		if ms, err := strconv.ParseInt(deadline, 10, 64); err == nil && ms >= now {
			continue
		}
		n, err := requeueScript.Run(ctx, q.client,
			[]string{q.activeKey, q.waitKey, q.leasesKey}, raw, d.Envelope.ID).Int()
		if err != nil {
			return recovered, fmt.Errorf("requeue stalled item: %w", err)
		}
		recovered += n
	}
	return recovered, nil
}

func (q *RedisQueue) Failed(ctx context.Context, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := q.client.LRange(ctx, q.failedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed items: %w", err)
	}
	out := make([]Envelope, 0, len(raws))
	for _, raw := range raws {
		d := decodeDelivery(raw)
		if d.DecodeErr != nil {
			out = append(out, Envelope{Name: JobName, FailedReason: "malformed payload: " + raw})
			continue
		}
		out = append(out, d.Envelope)
	}
	return out, nil
}

// Depth reports the number of items waiting, in flight, delayed and retained.
func (q *RedisQueue) Depth(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, q.waitKey)
	active := pipe.LLen(ctx, q.activeKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	failed := pipe.LLen(ctx, q.failedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	return map[string]int64{
		"wait":    wait.Val(),
		"active":  active.Val(),
		"delayed": delayed.Val(),
		"failed":  failed.Val(),
	}, nil
}

var _ Queue = (*RedisQueue)(nil)
