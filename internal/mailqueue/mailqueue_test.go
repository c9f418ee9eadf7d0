package mailqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLists struct {
	mu    sync.Mutex
	lists map[string][]string
}

func newFakeLists() *fakeLists {
	return &fakeLists{lists: map[string][]string{}}
}

func (f *fakeLists) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		switch b := v.(type) {
		case []byte:
			f.lists[key] = append(f.lists[key], string(b))
		case string:
			f.lists[key] = append(f.lists[key], b)
		}
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeLists) BLPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		if len(f.lists[k]) > 0 {
			head := f.lists[k][0]
			f.lists[k] = f.lists[k][1:]
			return redis.NewStringSliceResult([]string{k, head}, nil)
		}
	}
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func (f *fakeLists) LLen(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeLists) len(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists[key])
}

type stubSender struct {
	calls []string
	err   error
}

func (s *stubSender) SendOTP(_ context.Context, toEmail, _ string, code string) error {
	s.calls = append(s.calls, "otp:"+toEmail+":"+code)
	return s.err
}

func (s *stubSender) SendWelcome(_ context.Context, toEmail, _ string) error {
	s.calls = append(s.calls, "welcome:"+toEmail)
	return s.err
}

func (s *stubSender) SendPasswordReset(_ context.Context, toEmail, _ string, code string) error {
	s.calls = append(s.calls, "reset:"+toEmail+":"+code)
	return s.err
}

func TestQueue_EnqueueAndDequeue(t *testing.T) {
	lists := newFakeLists()
	q := New(lists, nil)
	ctx := context.Background()

	require.NoError(t, q.SendOTP(ctx, "alice@example.com", "Alice", "123456"))
	require.NoError(t, q.SendWelcome(ctx, "bob@example.com", "Bob"))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending)

	job, err := q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, KindOTP, job.Kind)
	assert.Equal(t, "123456", job.Payload.Code)
	assert.NotEmpty(t, job.ID)

	job, err = q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, KindWelcome, job.Kind)

	job, err = q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_RetryMovesToDLQAfterMaxRetries(t *testing.T) {
	lists := newFakeLists()
	q := New(lists, nil)
	ctx := context.Background()

	job := &Job{ID: "j1", Kind: KindOTP}
	for i := 0; i < MaxRetries-1; i++ {
		require.NoError(t, q.Retry(ctx, job))
	}
	assert.Equal(t, MaxRetries-1, lists.len(QueueEmails))
	assert.Equal(t, 0, lists.len(QueueDLQ))

	require.NoError(t, q.Retry(ctx, job))
	assert.Equal(t, 1, lists.len(QueueDLQ))
}

func TestWorker_DeliversEachKind(t *testing.T) {
	lists := newFakeLists()
	q := New(lists, nil)
	sender := &stubSender{}
	w := NewWorker(q, sender, nil)
	ctx := context.Background()

	require.NoError(t, q.SendOTP(ctx, "a@example.com", "A", "111111"))
	require.NoError(t, q.SendWelcome(ctx, "b@example.com", "B"))
	require.NoError(t, q.SendPasswordReset(ctx, "c@example.com", "C", "222222"))

	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx, time.Millisecond)
		require.NoError(t, err)
		w.process(ctx, job)
	}

	assert.Equal(t, []string{
		"otp:a@example.com:111111",
		"welcome:b@example.com",
		"reset:c@example.com:222222",
	}, sender.calls)
	assert.Equal(t, 0, lists.len(QueueEmails))
}

func TestWorker_FailedDeliveryIsRequeued(t *testing.T) {
	lists := newFakeLists()
	q := New(lists, nil)
	w := NewWorker(q, &stubSender{err: errors.New("listmonk down")}, nil)
	ctx := context.Background()

	require.NoError(t, q.SendWelcome(ctx, "a@example.com", "A"))
	job, err := q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)

	w.process(ctx, job)

	assert.Equal(t, 1, lists.len(QueueEmails))
	requeued, err := q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued.Attempt)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := New(newFakeLists(), nil)
	w := NewWorker(q, &stubSender{}, nil)
	w.pollTimeout = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
