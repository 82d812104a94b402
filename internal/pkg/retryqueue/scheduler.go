package retryqueue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mkessels/paybridge/internal/pkg/notify"
	"github.com/mkessels/paybridge/internal/pkg/webhook"
)

// Redeliverer re-enters a due payment event into reconciliation. Implemented
// by the reconciliation engine; defined here so the queue does not depend on
// it.
type Redeliverer interface {
	Redeliver(ctx context.Context, payment webhook.PaymentEvent, attempt int) error
}

// Scheduler is the Redis-backed delay queue between "payment arrived first"
// and "order showed up". Envelopes sit in a sorted set scored by due time;
// a poller moves due ones to a bounded worker pool. Delivery is at least
// once; the engine tolerates duplicates because reconciliation is idempotent
// against the order store.
type Scheduler struct {
	client      *redis.Client
	notifier    notify.Notifier
	baseDelay   time.Duration
	maxAttempts int
	workers     int

	deliveries chan *Envelope
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewScheduler creates the delay queue. Non-positive knobs fall back to
// defaults.
func NewScheduler(client *redis.Client, notifier notify.Notifier, baseDelay time.Duration, maxAttempts, workers int) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if baseDelay <= 0 {
		baseDelay = 5 * time.Minute
	}

	return &Scheduler{
		client:      client,
		notifier:    notifier,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		workers:     workers,
		deliveries:  make(chan *Envelope, workers),
		stopCh:      make(chan struct{}),
	}
}

// MaxAttempts returns the configured retry ceiling.
func (s *Scheduler) MaxAttempts() int {
	return s.maxAttempts
}

// delayFor scales the base delay linearly with the attempt counter.
func (s *Scheduler) delayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return s.baseDelay * time.Duration(attempt)
}

// Schedule queues the envelope for redelivery after its attempt-scaled
// delay. Once the attempt counter exceeds the ceiling the envelope is routed
// to the dead-letter list and escalated for manual review instead; it is
// never rescheduled from there.
func (s *Scheduler) Schedule(ctx context.Context, env *Envelope) (ScheduleResult, error) {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}
	if env.Attempt < 1 {
		env.Attempt = 1
	}

	if env.Attempt > s.maxAttempts {
		return s.deadLetter(ctx, env)
	}

	data, err := marshalEnvelope(env)
	if err != nil {
		return "", err
	}

	due := time.Now().Add(s.delayFor(env.Attempt))
	pipe := s.client.Pipeline()
	pipe.Set(ctx, EnvelopeKeyPrefix+env.ID, data, EnvelopeTTL)
	pipe.ZAdd(ctx, DueSetKey, redis.Z{Score: float64(due.Unix()), Member: env.ID})
	pipe.HIncrBy(ctx, StatsKey, StatScheduled, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to schedule retry envelope %s: %w", env.ID, err)
	}

	log.Infof("[RetryQueue] Scheduled envelope %s (order=%s, attempt=%d/%d, due=%s)",
		env.ID, env.OrderRef, env.Attempt, s.maxAttempts, due.Format(time.RFC3339))
	return ResultScheduled, nil
}

func (s *Scheduler) deadLetter(ctx context.Context, env *Envelope) (ScheduleResult, error) {
	data, err := marshalEnvelope(env)
	if err != nil {
		return "", err
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, DeadLetterKey, data)
	pipe.Del(ctx, EnvelopeKeyPrefix+env.ID)
	pipe.HIncrBy(ctx, StatsKey, StatDeadLetter, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to dead-letter envelope %s: %w", env.ID, err)
	}

	log.Warnf("[RetryQueue] Envelope %s for order %s dead-lettered after %d attempts",
		env.ID, env.OrderRef, env.Attempt-1)
	if s.notifier != nil {
		if nerr := s.notifier.DeadLetter(ctx, env.Payment, env.Attempt-1); nerr != nil {
			// Escalation failures must not block queue processing.
			log.Errorf("[RetryQueue] Dead-letter notification for %s failed: %v", env.ID, nerr)
		}
	}
	return ResultDeadLettered, nil
}

// Start launches the due-envelope poller, the worker pool and the orphan
// sweeper. Redelivered envelopes re-enter through target.
func (s *Scheduler) Start(target Redeliverer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	log.Infof("[RetryQueue] Starting poller and %d workers", s.workers)

	s.wg.Add(1)
	go s.poller()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i, target)
	}

	s.wg.Add(1)
	go s.orphanSweeper(10*time.Minute, time.Minute)
}

// Stop shuts the poller and workers down and waits for in-flight envelopes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	log.Info("[RetryQueue] Stopping...")
	close(s.stopCh)
	s.running = false
	s.wg.Wait()
	log.Info("[RetryQueue] Stopped")
}

// poller moves due envelope ids from the sorted set to the worker channel.
// ZRem is the claim: only the caller that actually removed the member
// dispatches it.
func (s *Scheduler) poller() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ids, err := s.client.ZRangeByScore(ctx, DueSetKey, &redis.ZRangeBy{
				Min:   "-inf",
				Max:   strconv.FormatInt(time.Now().Unix(), 10),
				Count: 10,
			}).Result()
			if err != nil {
				log.Errorf("[RetryQueue] Poller ZRangeByScore error: %v", err)
				continue
			}

			for _, id := range ids {
				removed, err := s.client.ZRem(ctx, DueSetKey, id).Result()
				if err != nil {
					log.Errorf("[RetryQueue] Poller ZRem error for %s: %v", id, err)
					continue
				}
				if removed == 0 {
					// Another poller claimed it.
					continue
				}

				env, err := s.loadEnvelope(ctx, id)
				if err != nil {
					log.Errorf("[RetryQueue] Poller failed to load envelope %s: %v", id, err)
					continue
				}

				select {
				case s.deliveries <- env:
				case <-s.stopCh:
					// Put the claim back so the envelope survives shutdown.
					due := time.Now()
					_ = s.client.ZAdd(ctx, DueSetKey, redis.Z{Score: float64(due.Unix()), Member: id}).Err()
					return
				}
			}
		}
	}
}

func (s *Scheduler) loadEnvelope(ctx context.Context, id string) (*Envelope, error) {
	data, err := s.client.Get(ctx, EnvelopeKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	return unmarshalEnvelope([]byte(data))
}

// worker redelivers due envelopes into the engine. A failed redelivery is
// requeued with an incremented attempt so transient store or ledger failures
// consume retry budget instead of looping forever.
func (s *Scheduler) worker(id int, target Redeliverer) {
	defer s.wg.Done()
	log.Infof("[RetryQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-s.stopCh:
			log.Infof("[RetryQueue] Worker %d stopping", id)
			return
		case env := <-s.deliveries:
			log.Infof("[RetryQueue] Worker %d redelivering envelope %s (order=%s, attempt=%d)",
				id, env.ID, env.OrderRef, env.Attempt)

			err := target.Redeliver(ctx, env.Payment, env.Attempt)
			if err != nil {
				log.Errorf("[RetryQueue] Redelivery of %s failed: %v", env.ID, err)
				requeue := &Envelope{
					ID:         env.ID,
					OrderRef:   env.OrderRef,
					Payment:    env.Payment,
					Attempt:    env.Attempt + 1,
					EnqueuedAt: env.EnqueuedAt,
				}
				if _, rerr := s.Schedule(ctx, requeue); rerr != nil {
					log.Errorf("[RetryQueue] Requeue of %s failed: %v", env.ID, rerr)
				}
				continue
			}

			pipe := s.client.Pipeline()
			pipe.Del(ctx, EnvelopeKeyPrefix+env.ID)
			pipe.HIncrBy(ctx, StatsKey, StatDelivered, 1)
			if _, derr := pipe.Exec(ctx); derr != nil {
				log.Errorf("[RetryQueue] Cleanup of %s failed: %v", env.ID, derr)
			}
		}
	}
}

// orphanSweeper requeues envelopes whose key still exists but which no
// longer appear in the due set, e.g. after a crash between claim and
// redelivery.
func (s *Scheduler) orphanSweeper(maxAge, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			iter := s.client.Scan(ctx, 0, EnvelopeKeyPrefix+"*", 0).Iterator()
			for iter.Next(ctx) {
				key := iter.Val()
				id := key[len(EnvelopeKeyPrefix):]

				_, err := s.client.ZScore(ctx, DueSetKey, id).Result()
				if err == nil {
					continue // still queued
				}
				if err != redis.Nil {
					log.Errorf("[RetryQueue] Sweeper ZScore error for %s: %v", id, err)
					continue
				}

				env, lerr := s.loadEnvelope(ctx, id)
				if lerr != nil {
					continue
				}
				if time.Since(env.EnqueuedAt) < maxAge {
					continue
				}

				log.Warnf("[RetryQueue] Recovering orphaned envelope %s (order=%s, attempt=%d)",
					env.ID, env.OrderRef, env.Attempt)
				if err := s.client.ZAdd(ctx, DueSetKey, redis.Z{
					Score:  float64(time.Now().Unix()),
					Member: id,
				}).Err(); err != nil {
					log.Errorf("[RetryQueue] Sweeper requeue of %s failed: %v", id, err)
				}
			}
			if err := iter.Err(); err != nil {
				log.Errorf("[RetryQueue] Sweeper scan error: %v", err)
			}
		}
	}
}

// QueueSize returns the number of envelopes waiting for their delay.
func (s *Scheduler) QueueSize(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, DueSetKey).Result()
}

// DeadLetterSize returns the number of envelopes escalated to manual review.
func (s *Scheduler) DeadLetterSize(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, DeadLetterKey).Result()
}

// Stats returns the scheduled/delivered/dead-letter counters.
func (s *Scheduler) Stats(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
