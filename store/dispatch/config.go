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

// Package dispatch implements the Observer Dispatcher of spec.md §4.6: a
// bounded fan-out from accepted mutations to registered, user-supplied
// observer.Observer handlers, preserving per-(subgroup, shard) FIFO order
// while letting the queues of different (subgroup, shard) pairs drain in
// parallel. Grounded on the
// teacher's use of github.com/gammazero/workerpool for bounded concurrency
// in indexer/writer.go and github.com/gammazero/deque for the FIFO queue
// discipline in models/dps/safe_deque.go.
package dispatch

import "time"

// BackpressureMode selects what happens when a per-queue buffer is full.
type BackpressureMode int

const (
	// Block makes Dispatch wait until the queue has room, applying
	// backpressure all the way to the caller. The default for put and
	// remove (spec.md §9).
	Block BackpressureMode = iota
	// Drop makes Dispatch discard the event immediately rather than wait.
	// Forced for put_and_forget notifications regardless of Config.Mode
	// (spec.md §9).
	Drop
	// BoundedWait makes Dispatch wait up to Config.BoundedWaitTimeout for
	// room before falling back to Drop's behaviour.
	BoundedWait
)

// Config tunes the dispatcher's queueing and concurrency behaviour.
type Config struct {
	// Mode is the backpressure policy applied to put/remove notifications.
	Mode BackpressureMode
	// QueueCapacity bounds each per-(subgroup, shard) queue. Zero means
	// unbounded.
	QueueCapacity int
	// BoundedWaitTimeout is how long BoundedWait blocks before dropping.
	BoundedWaitTimeout time.Duration
	// Workers bounds the number of queues that may drain concurrently.
	Workers int
}

// DefaultConfig returns sensible defaults: blocking backpressure, an
// unbounded queue, and four concurrent drain workers.
func DefaultConfig() Config {
	return Config{
		Mode:               Block,
		QueueCapacity:       0,
		BoundedWaitTimeout: time.Second,
		Workers:            4,
	}
}
