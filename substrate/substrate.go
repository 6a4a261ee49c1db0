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

// Package substrate declares the interfaces Cascade expects from the
// atomic-broadcast / group-membership collaborator (spec.md §6). Nothing in
// this package implements consensus or membership; it only specifies the
// shape of the dependency the Store Engine and Frontier Tracker are wired
// against.
package substrate

import "context"

// Delivery is a single ordered message handed to the replica by the
// broadcast substrate, already carrying the version and timestamp assigned
// by the total order.
type Delivery struct {
	Version     int64
	TimestampUS int64
	Message     []byte
}

// Broadcaster is the substrate-facing contract the Store Engine is built
// against: it delivers ordered messages, can be asked for the version about
// to be assigned, and exposes the two frontiers the Frontier Tracker needs.
type Broadcaster interface {
	// Deliver returns a channel of ordered deliveries for this shard. The
	// channel is closed when the substrate tears down the replica's
	// membership.
	Deliver(ctx context.Context) (<-chan Delivery, error)

	// CurrentVersion reports the version and timestamp about to be
	// assigned to the message currently being delivered.
	CurrentVersion() (version int64, timestampUS int64)

	// WaitForGlobalPersistenceFrontier blocks until every replica in the
	// shard has persisted version v, or returns false if ctx is done
	// first.
	WaitForGlobalPersistenceFrontier(ctx context.Context, v int64) bool

	// GlobalStabilityFrontierNS returns the greatest delivery timestamp,
	// in nanoseconds, that every replica in the shard has seen.
	GlobalStabilityFrontierNS() int64

	// Send submits a client-originated message for ordered delivery and
	// returns the version and timestamp it was assigned. It does not wait
	// for the delivery to be applied; the Store Engine waits for the
	// outcome of that version itself.
	Send(ctx context.Context, message []byte) (version int64, timestampUS int64, err error)
}

// PeerSource lets a replica fetch a consistent log tail from another
// replica in the same shard, used to rehydrate after LogCorruption (spec.md
// §7).
type PeerSource interface {
	// FetchFrom streams raw log bytes starting at offset from a healthy
	// peer.
	FetchFrom(ctx context.Context, offset int64) ([]byte, error)
}
