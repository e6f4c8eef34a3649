package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("request queue closed")

type queuedCall struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Queue serializes opted-in calls in FIFO order with a fixed gap between them.
// Calls reach it already admitted by the limiter.
type Queue struct {
	calls   chan queuedCall
	spacing time.Duration
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewQueue starts a queue holding at most depth pending calls.
func NewQueue(spacing time.Duration, depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	q := &Queue{
		calls:   make(chan queuedCall, depth),
		spacing: spacing,
		stop:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Do enqueues fn and waits for its result. It blocks while the queue is full.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}
	call := queuedCall{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-q.stop:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.calls <- call:
	}
	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		// the worker still drains the call; its result is dropped
		return ctx.Err()
	}
}

// Close stops the worker; pending calls fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.stop) })
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			q.drain()
			return
		case call := <-q.calls:
			if err := call.ctx.Err(); err != nil {
				call.done <- err
				continue
			}
			call.done <- call.fn(call.ctx)
			if q.spacing > 0 {
				t := time.NewTimer(q.spacing)
				select {
				case <-q.stop:
					t.Stop()
					q.drain()
					return
				case <-t.C:
				}
			}
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case call := <-q.calls:
			call.done <- ErrQueueClosed
		default:
			return
		}
	}
}
