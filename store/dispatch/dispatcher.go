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
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/cascade-kv/cascade/observer"
)

// Dispatcher fans accepted mutations out to every registered observer,
// draining at most Config.Workers queues concurrently while preserving
// per-(subgroup, shard) order.
type Dispatcher struct {
	cfg      Config
	registry *Registry
	pool     *workerpool.WorkerPool
	log      zerolog.Logger

	mu     sync.Mutex
	queues map[queueKey]*queue
}

// New builds a Dispatcher backed by registry, draining with cfg.Workers
// concurrent workers.
func New(cfg Config, registry *Registry, log zerolog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		pool:     workerpool.New(workers),
		log:      log.With().Str("component", "dispatch").Logger(),
		queues:   make(map[queueKey]*queue),
	}
}

// Dispatch enqueues event for delivery to every registered observer. It
// applies the dispatcher's backpressure policy, except for trigger events
// (put_and_forget notifications), which always use Drop regardless of
// Config.Mode (spec.md §9).
func (d *Dispatcher) Dispatch(ctx context.Context, event observer.Event) error {
	key := queueKey{Subgroup: event.SubgroupIndex, Shard: event.ShardNumber}
	q := d.queueFor(key)

	mode := d.cfg.Mode
	if event.IsTrigger {
		mode = Drop
	}

	if err := q.enqueue(ctx, event, d.cfg, mode); err != nil {
		if err == ErrDropped {
			d.log.Warn().
				Int32("subgroup", key.Subgroup).
				Int32("shard", key.Shard).
				Msg("dropped observer notification under backpressure")
		}
		return err
	}

	d.ensureDraining(key, q)
	return nil
}

func (d *Dispatcher) queueFor(key queueKey) *queue {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[key]
	if !ok {
		q = newQueue()
		d.queues[key] = q
	}
	return q
}

func (d *Dispatcher) ensureDraining(key queueKey, q *queue) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	d.pool.Submit(func() { d.drain(key, q) })
}

func (d *Dispatcher) drain(key queueKey, q *queue) {
	for {
		event, ok := q.popFront()
		if !ok {
			q.mu.Lock()
			q.draining = false
			// An event may have been enqueued between popFront observing
			// an empty queue and draining being cleared; re-check once
			// more before giving up the slot.
			stillEmpty := q.items.Len() == 0
			q.mu.Unlock()
			if stillEmpty {
				return
			}
			continue
		}

		for _, obs := range d.registry.Snapshot() {
			if err := obs.Observe(context.Background(), event); err != nil {
				d.log.Error().
					Err(err).
					Int32("subgroup", key.Subgroup).
					Int32("shard", key.Shard).
					Msg("observer returned an error")
			}
		}
	}
}

// Stop waits for every in-flight drain to finish and releases the worker
// pool.
func (d *Dispatcher) Stop() {
	d.pool.StopWait()
}
