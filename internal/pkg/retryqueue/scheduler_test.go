package retryqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessels/paybridge/internal/pkg/webhook"
)

type recordingNotifier struct {
	mu          sync.Mutex
	deadLetters []int
}

func (n *recordingNotifier) ManualReview(_ context.Context, _ webhook.PaymentEvent, _ string) error {
	return nil
}

func (n *recordingNotifier) DeadLetter(_ context.Context, _ webhook.PaymentEvent, attempt int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deadLetters = append(n.deadLetters, attempt)
	return nil
}

func (n *recordingNotifier) deadLetterCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deadLetters)
}

type stubRedeliverer struct {
	mu        sync.Mutex
	attempts  []int
	failTimes int
	done      chan struct{}
	err       error
}

func newStubRedeliverer(failTimes int) *stubRedeliverer {
	return &stubRedeliverer{
		failTimes: failTimes,
		done:      make(chan struct{}, 16),
		err:       assert.AnError,
	}
}

func (r *stubRedeliverer) Redeliver(_ context.Context, _ webhook.PaymentEvent, attempt int) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, attempt)
	fail := r.failTimes > 0
	if fail {
		r.failTimes--
	}
	r.mu.Unlock()

	if fail {
		return r.err
	}
	r.done <- struct{}{}
	return nil
}

func (r *stubRedeliverer) seenAttempts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.attempts))
	copy(out, r.attempts)
	return out
}

func testEvent(orderRef string) webhook.PaymentEvent {
	return webhook.PaymentEvent{
		PaymentID:  "ch_test",
		CustomerID: "cus_test",
		Currency:   "eur",
		OrderRef:   orderRef,
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(nil, nil, 0, 0, 0)

	assert.Equal(t, DefaultMaxAttempts, s.maxAttempts)
	assert.Equal(t, DefaultWorkers, s.workers)
	assert.Equal(t, 5*time.Minute, s.baseDelay)
}

func TestDelayForScalesWithAttempt(t *testing.T) {
	s := NewScheduler(nil, nil, time.Minute, 8, 1)

	assert.Equal(t, time.Minute, s.delayFor(0))
	assert.Equal(t, time.Minute, s.delayFor(1))
	assert.Equal(t, 3*time.Minute, s.delayFor(3))
	assert.Equal(t, 8*time.Minute, s.delayFor(8))
}

func TestEnvelopeCodec(t *testing.T) {
	env := &Envelope{
		ID:         "env-1",
		OrderRef:   "42",
		Payment:    testEvent("42"),
		Attempt:    2,
		EnqueuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := marshalEnvelope(env)
	require.NoError(t, err)

	got, err := unmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestScheduleQueuesEnvelope(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedRetryQueueTestRedisDB)
	ctx := context.Background()

	s := NewScheduler(client, &recordingNotifier{}, time.Minute, 8, 1)

	result, err := s.Schedule(ctx, &Envelope{OrderRef: "7", Payment: testEvent("7")})
	require.NoError(t, err)
	assert.Equal(t, ResultScheduled, result)

	size, err := s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[StatScheduled])

	keys, err := client.Keys(ctx, EnvelopeKeyPrefix+"*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestScheduleDeadLettersPastCeiling(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedRetryQueueTestRedisDB)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	s := NewScheduler(client, notifier, time.Minute, 2, 1)

	result, err := s.Schedule(ctx, &Envelope{OrderRef: "9", Payment: testEvent("9"), Attempt: 3})
	require.NoError(t, err)
	assert.Equal(t, ResultDeadLettered, result)

	size, err := s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	dead, err := s.DeadLetterSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	require.Equal(t, 1, notifier.deadLetterCount())
	assert.Equal(t, 2, notifier.deadLetters[0])
}

func TestStartRedeliversDueEnvelope(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedRetryQueueTestRedisDB)
	ctx := context.Background()

	target := newStubRedeliverer(0)
	s := NewScheduler(client, &recordingNotifier{}, time.Millisecond, 8, 1)

	_, err := s.Schedule(ctx, &Envelope{OrderRef: "11", Payment: testEvent("11")})
	require.NoError(t, err)

	s.Start(target)
	defer s.Stop()

	select {
	case <-target.done:
	case <-time.After(10 * time.Second):
		t.Fatal("envelope was not redelivered in time")
	}

	attempts := target.seenAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0])

	require.Eventually(t, func() bool {
		keys, kerr := client.Keys(ctx, EnvelopeKeyPrefix+"*").Result()
		return kerr == nil && len(keys) == 0
	}, 5*time.Second, 100*time.Millisecond, "delivered envelope should be cleaned up")

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[StatDelivered])
}

func TestStartRequeuesFailedRedelivery(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedRetryQueueTestRedisDB)
	ctx := context.Background()

	target := newStubRedeliverer(1)
	s := NewScheduler(client, &recordingNotifier{}, time.Millisecond, 8, 1)

	_, err := s.Schedule(ctx, &Envelope{OrderRef: "13", Payment: testEvent("13")})
	require.NoError(t, err)

	s.Start(target)
	defer s.Stop()

	select {
	case <-target.done:
	case <-time.After(15 * time.Second):
		t.Fatal("requeued envelope was not redelivered in time")
	}

	attempts := target.seenAttempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, []int{1, 2}, attempts)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[StatScheduled])
	assert.Equal(t, int64(1), stats[StatDelivered])
}
