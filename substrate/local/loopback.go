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

// Package local provides a single-replica substrate.Broadcaster with no
// real ordering or group-membership machinery behind it: every Send is its
// own "total order" of one, assigned a version immediately and delivered
// to the same replica through a buffered channel. It exists so cmd/cascade-shard can run
// a standalone replica without a real atomic-broadcast collaborator wired
// in (spec.md §6 leaves that collaborator out of scope); multi-replica
// deployments plug in a real substrate.Broadcaster implementation instead.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/cascade-kv/cascade/substrate"
)

// Loopback implements substrate.Broadcaster for a lone replica. It never
// blocks on peer persistence or stability, since there are no peers.
type Loopback struct {
	mu              sync.Mutex
	next            int64
	deliver         chan substrate.Delivery
	closed          bool
	lastTimestampUS int64
}

// NewLoopback builds a Loopback ready for a single Deliver subscriber.
func NewLoopback() *Loopback {
	return &Loopback{deliver: make(chan substrate.Delivery, 64)}
}

// Deliver returns the single delivery channel this Loopback feeds.
func (l *Loopback) Deliver(context.Context) (<-chan substrate.Delivery, error) {
	return l.deliver, nil
}

// CurrentVersion reports the version about to be assigned next.
func (l *Loopback) CurrentVersion() (int64, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next, l.lastTimestampUS
}

// WaitForGlobalPersistenceFrontier always returns true immediately: a lone
// replica is trivially its own entire persistence frontier.
func (l *Loopback) WaitForGlobalPersistenceFrontier(context.Context, int64) bool {
	return true
}

// GlobalStabilityFrontierNS reports the timestamp of the most recent
// delivery, since nothing can arrive with an earlier one.
func (l *Loopback) GlobalStabilityFrontierNS() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTimestampUS * 1000
}

// Send assigns message the next version and queues it on the delivery
// channel, blocking only while that channel's 64-slot buffer is full; it
// returns before the engine has picked the delivery up or applied it.
func (l *Loopback) Send(ctx context.Context, message []byte) (int64, int64, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, 0, context.Canceled
	}
	version := l.next
	l.next++
	timestampUS := time.Now().UnixMicro()
	l.lastTimestampUS = timestampUS
	l.mu.Unlock()

	select {
	case l.deliver <- substrate.Delivery{Version: version, TimestampUS: timestampUS, Message: message}:
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	return version, timestampUS, nil
}

// Close tears down the delivery channel, unblocking Engine.Run.
func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.deliver)
}
