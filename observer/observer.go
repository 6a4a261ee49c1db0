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

// Package observer declares the plugin ABI at the boundary between the
// Observer Dispatcher (store/dispatch, in scope) and user-supplied handlers
// (out of scope, spec.md §1/§6).
package observer

import "context"

// Handle is a tagged context handle passed to observers, replacing the
// dynamic_cast of a context pointer in the original source (spec.md §9)
// with an explicit capability set: observers read whatever fields the
// deployer's handle type exposes without runtime down-casting.
type Handle interface {
	// CallerID identifies the client that originated the mutation, if any.
	CallerID() int64
}

// Event is the payload handed to an Observer for every accepted mutation,
// matching the "observer notification payload" of spec.md §4.3.
type Event struct {
	SubgroupIndex int32
	ShardNumber   int32
	CallerID      int64
	Key           []byte
	Value         []byte
	Context       Handle
	// IsTrigger indicates the observer should forward the event through a
	// non-storing ("trigger") transport rather than a put that would be
	// persisted downstream.
	IsTrigger bool
}

// Observer is the user-supplied handler invoked for every accepted
// mutation. Implementations may issue further put/trigger-put requests to
// downstream shards; serializing those downstream puts is the observer's
// concern, not the dispatcher's (spec.md §4.6).
type Observer interface {
	Observe(ctx context.Context, event Event) error
}

// Func adapts a plain function to the Observer interface, the same
// convenience pattern as http.HandlerFunc.
type Func func(ctx context.Context, event Event) error

// Observe calls f.
func (f Func) Observe(ctx context.Context, event Event) error {
	return f(ctx, event)
}
