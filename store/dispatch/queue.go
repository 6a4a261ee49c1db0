// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"

	"github.com/cascade-kv/cascade/observer"
)

// ErrDropped is returned by Dispatch when an event is discarded under the
// Drop or BoundedWait backpressure policies.
var ErrDropped = errors.New("dispatch: event dropped under backpressure")

// queueKey identifies one per-(subgroup, shard) FIFO queue, matching
// spec.md §4.6's ordering domain: events for the same subgroup and shard
// are delivered to observers in commit order, whatever their key; queues
// of different (subgroup, shard) pairs may drain concurrently.
type queueKey struct {
	Subgroup int32
	Shard    int32
}

// queue is one subgroup/shard's FIFO buffer plus the draining flag that
// lets the dispatcher avoid scheduling more than one drain goroutine per
// queue at a time.
type queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    deque.Deque
	draining bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends event to the queue, applying cfg's backpressure policy
// (as overridden by mode) if the queue is at capacity.
func (q *queue) enqueue(ctx context.Context, event observer.Event, cfg Config, mode BackpressureMode) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cfg.QueueCapacity <= 0 {
		q.items.PushBack(event)
		q.cond.Broadcast()
		return nil
	}

	switch mode {
	case Drop:
		if q.items.Len() >= cfg.QueueCapacity {
			return ErrDropped
		}
	case BoundedWait:
		deadline := time.Now().Add(cfg.BoundedWaitTimeout)
		for q.items.Len() >= cfg.QueueCapacity {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrDropped
			}
			if !q.waitWithTimeout(ctx, remaining) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrDropped
			}
		}
	default: // Block
		for q.items.Len() >= cfg.QueueCapacity {
			if !q.waitWithTimeout(ctx, -1) {
				return ctx.Err()
			}
		}
	}

	q.items.PushBack(event)
	q.cond.Broadcast()
	return nil
}

// waitWithTimeout waits on q.cond (q.mu must be held) until woken, ctx is
// cancelled, or d elapses (d < 0 disables the timeout). It returns false if
// the wake-up was caused by cancellation or timeout rather than a genuine
// state change.
func (q *queue) waitWithTimeout(ctx context.Context, d time.Duration) bool {
	var timedOut, cancelled int32

	stop := make(chan struct{})
	defer close(stop)

	var timerC <-chan time.Time
	if d >= 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timerC = timer.C
	}

	go func() {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&cancelled, 1)
		case <-timerC:
			atomic.StoreInt32(&timedOut, 1)
		case <-stop:
			return
		}
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	q.cond.Wait()
	return atomic.LoadInt32(&cancelled) == 0 && atomic.LoadInt32(&timedOut) == 0
}

// popFront removes and returns the head event, or ok=false if empty.
func (q *queue) popFront() (event observer.Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return observer.Event{}, false
	}
	event = q.items.PopFront().(observer.Event)
	q.cond.Broadcast()
	return event, true
}
