package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type nopJob struct{}

func (nopJob) Name() string                                  { return "nop" }
func (nopJob) Type() string                                  { return "nop" }
func (nopJob) Handle(context.Context, json.RawMessage) error { return nil }

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoff(5*time.Second, 0))
	assert.Equal(t, 5*time.Second, backoff(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, backoff(5*time.Second, 2))
	assert.Equal(t, 40*time.Second, backoff(5*time.Second, 4))
	assert.Equal(t, time.Hour, backoff(5*time.Second, 30))
}

func TestRedisQueue_EnqueueRequiresRunningQueue(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(nil, &QueueConfig{Workers: 0}, client, WithKeyPrefix("test:queue"))
	q.RegisterJob(nopJob{})
	q.RegisterJob(nopJob{}) // duplicate is ignored

	err := q.Enqueue(context.Background(), "nop", map[string]string{"a": "b"})
	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, "test:queue:messages", q.queueKey())
	assert.Equal(t, "test:queue:retry", q.retryKey())
	assert.Equal(t, "test:queue:dlq", q.deadLetterKey())
	assert.Equal(t, 1, q.config.Workers)
}
