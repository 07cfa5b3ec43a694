package workerpool

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPoolDeliversEveryResult(t *testing.T) {
	const tasks = 8

	cfg := Config{
		Workers:                 3,
		QueueSize:               tasks,
		MaxRetries:              0,
		RetryDelay:              time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
	pool, err := New(cfg, func(_ context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true, Data: task.Payload}
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()

	for i := 0; i < tasks; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("t-%d", i), Payload: i}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := 0
	for result := range pool.Results() {
		if !result.Success {
			t.Errorf("task %s failed: %v", result.TaskID, result.Error)
		}
		got++
	}
	if got != tasks {
		t.Errorf("results = %d, want %d", got, tasks)
	}
}

func TestPoolRetriesThenFails(t *testing.T) {
	attempts := make(chan struct{}, 16)
	cfg := Config{
		Workers:                 1,
		QueueSize:               1,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
	pool, err := New(cfg, func(_ context.Context, task *Task) *Result {
		attempts <- struct{}{}
		return &Result{TaskID: task.ID, Success: false, Error: errors.New("boom")}
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()

	if err := pool.Submit(&Task{ID: "t-1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var results []*Result
	for r := range pool.Results() {
		results = append(results, r)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Success {
		t.Error("expected failure after retries")
	}
	if n := len(attempts); n != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", n)
	}
	if stats := pool.Stats(); stats.TasksRetried != 2 {
		t.Errorf("retried = %d, want 2", stats.TasksRetried)
	}
}
