// Package queue is a durable at-least-once work queue on Redis.
//
// Layout for a queue named N:
//
//	queue:N:ready               list, LPUSH in / RPOPLPUSH out (FIFO)
//	queue:N:processing:<id>     list, messages held by one consumer
//	queue:N:delayed             zset, failed messages scored by retry time (unix ms)
//	queue:N:dead                list, messages that exhausted their attempts
//
// A message stays in its consumer's processing list until the handler
// returns. A consumer that crashes leaves it there and requeues it on its
// next start, so handlers must tolerate seeing a message more than once.
package queue

import (
	"context"       // Context for Redis operations
	"encoding/json" // Message encoding
	"errors"        // Error inspection
	"fmt"           // Panic conversion
	"time"          // Backoff and timestamps

	"github.com/google/uuid"       // Message ids
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// Message is the envelope stored in Redis
type Message struct {
	ID         string          `json:"id"`                   // Unique per enqueue
	Key        string          `json:"key"`                  // Job key, e.g. subscription and date
	Payload    json.RawMessage `json:"payload"`              // Job body
	Attempts   int             `json:"attempts"`             // Failed attempts so far
	EnqueuedAt time.Time       `json:"enqueued_at"`          // First enqueue time
	LastError  string          `json:"last_error,omitempty"` // Error of the last failed attempt
}

// Decode unmarshals the payload into dest
func (m Message) Decode(dest any) error {
	return json.Unmarshal(m.Payload, dest)
}

// Handler processes one message; a non-nil error schedules a retry
type Handler func(ctx context.Context, msg Message) error

// Options tunes retries and polling
type Options struct {
	Name        string        // Queue name
	MaxAttempts int           // Attempts before dead-lettering
	BaseBackoff time.Duration // Delay after the first failure
	MaxBackoff  time.Duration // Delay cap
	PollTimeout time.Duration // Blocking pop timeout in Run
}

// RedisQueue implements the queue on a Redis client
type RedisQueue struct {
	rdb  *redis.Client    // Redis client
	opts Options          // Tunables
	now  func() time.Time // Clock, replaced in tests
}

// promoteScript moves due delayed messages back to the ready list atomically
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// NewRedisQueue creates a queue, filling unset options with defaults
func NewRedisQueue(rdb *redis.Client, opts Options) *RedisQueue {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 5 * time.Second
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	return &RedisQueue{rdb: rdb, opts: opts, now: time.Now}
}

func (q *RedisQueue) readyKey() string   { return "queue:" + q.opts.Name + ":ready" }
func (q *RedisQueue) delayedKey() string { return "queue:" + q.opts.Name + ":delayed" }
func (q *RedisQueue) deadKey() string    { return "queue:" + q.opts.Name + ":dead" }
func (q *RedisQueue) processingKey(consumer string) string {
	return "queue:" + q.opts.Name + ":processing:" + consumer
}

// Enqueue appends a job. It returns once Redis has accepted the message and
// never waits for the job to run.
func (q *RedisQueue) Enqueue(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Key:        key,
		Payload:    body,
		EnqueuedAt: q.now().UTC(),
	})
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.readyKey(), raw).Err()
}

// Run consumes messages until ctx is cancelled
func (q *RedisQueue) Run(ctx context.Context, consumer string, handler Handler) error {
	if n, err := q.Recover(ctx, consumer); err != nil {
		return err
	} else if n > 0 {
		logrus.WithFields(logrus.Fields{
			"queue":    q.opts.Name, // Queue
			"consumer": consumer,    // Consumer id
			"count":    n,           // Requeued messages
		}).Warn("Requeued messages left by a previous run")
	}
	for ctx.Err() == nil {
		if _, err := q.PromoteDue(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Warn("Promoting delayed messages failed")
		}
		if _, err := q.poll(ctx, consumer, handler, q.opts.PollTimeout); err != nil {
			if ctx.Err() != nil {
				break
			}
			logrus.WithFields(logrus.Fields{
				"queue":    q.opts.Name, // Queue
				"consumer": consumer,    // Consumer id
				"error":    err.Error(), // Error message
			}).Error("Queue poll failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return nil
}

// ProcessNext handles at most one ready message without blocking
func (q *RedisQueue) ProcessNext(ctx context.Context, consumer string, handler Handler) (bool, error) {
	return q.poll(ctx, consumer, handler, 0)
}

// PromoteDue moves delayed messages whose retry time has passed to the ready list
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	now := q.now().UnixMilli()
	return promoteScript.Run(ctx, q.rdb, []string{q.delayedKey(), q.readyKey()}, now, 100).Int()
}

// Recover requeues messages stranded in a consumer's processing list
func (q *RedisQueue) Recover(ctx context.Context, consumer string) (int, error) {
	n := 0
	for {
		err := q.rdb.RPopLPush(ctx, q.processingKey(consumer), q.readyKey()).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// DeadLetters lists up to limit dead-lettered messages, newest first
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]Message, error) {
	raws, err := q.rdb.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			m = Message{LastError: "undecodable: " + raw}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Depth reports the ready, delayed and dead counts
func (q *RedisQueue) Depth(ctx context.Context) (ready, delayed, dead int64, err error) {
	pipe := q.rdb.Pipeline()
	r := pipe.LLen(ctx, q.readyKey())
	d := pipe.ZCard(ctx, q.delayedKey())
	x := pipe.LLen(ctx, q.deadKey())
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return r.Val(), d.Val(), x.Val(), nil
}

// poll takes one message into the consumer's processing list and handles it
func (q *RedisQueue) poll(ctx context.Context, consumer string, handler Handler, timeout time.Duration) (bool, error) {
	var raw string
	var err error
	if timeout > 0 {
		raw, err = q.rdb.BRPopLPush(ctx, q.readyKey(), q.processingKey(consumer), timeout).Result()
	} else {
		raw, err = q.rdb.RPopLPush(ctx, q.readyKey(), q.processingKey(consumer)).Result()
	}
	if errors.Is(err, redis.Nil) {
		return false, nil // Nothing ready
	}
	if err != nil {
		return false, err
	}
	return true, q.handle(ctx, consumer, raw, handler)
}

// handle runs the handler and acknowledges, reschedules or dead-letters the message
func (q *RedisQueue) handle(ctx context.Context, consumer, raw string, handler Handler) error {
	proc := q.processingKey(consumer)
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		logrus.WithError(err).Error("Undecodable queue message dead-lettered")
		_, perr := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, proc, 1, raw)
			p.LPush(ctx, q.deadKey(), raw)
			return nil
		})
		return perr
	}

	herr := safeCall(ctx, handler, msg)
	if herr == nil {
		return q.rdb.LRem(ctx, proc, 1, raw).Err() // Ack
	}

	msg.Attempts++
	msg.LastError = herr.Error()
	next, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	fields := logrus.Fields{
		"queue":    q.opts.Name,  // Queue
		"job_key":  msg.Key,      // Job key
		"attempts": msg.Attempts, // Attempts so far
		"error":    herr.Error(), // Handler error
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, proc, 1, raw)
		if msg.Attempts >= q.opts.MaxAttempts {
			p.LPush(ctx, q.deadKey(), next)
			return nil
		}
		retryAt := q.now().Add(q.backoff(msg.Attempts)).UnixMilli()
		p.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(retryAt), Member: next})
		return nil
	})
	if err != nil {
		return err
	}
	if msg.Attempts >= q.opts.MaxAttempts {
		logrus.WithFields(fields).Error("Job dead-lettered, manual inspection required")
	} else {
		logrus.WithFields(fields).Warn("Job failed, retry scheduled")
	}
	return nil
}

// backoff doubles the delay per attempt up to MaxBackoff
func (q *RedisQueue) backoff(attempt int) time.Duration {
	d := q.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return d
}

// safeCall turns a handler panic into a retryable error
func safeCall(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}
