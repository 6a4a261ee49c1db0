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
	"sync"

	"github.com/cascade-kv/cascade/observer"
)

// Registry holds the set of observers currently subscribed to a shard's
// mutation stream. Registration and unregistration may race with drains in
// progress; Snapshot gives each drain a consistent view to iterate without
// holding the registry lock for the duration of the notification.
type Registry struct {
	mu        sync.RWMutex
	observers map[string]observer.Observer
}

// NewRegistry builds an empty observer registry.
func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[string]observer.Observer),
	}
}

// Register adds or replaces the observer under id.
func (r *Registry) Register(id string, o observer.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[id] = o
}

// Unregister removes the observer under id, if any.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
}

// Snapshot returns the currently registered observers in no particular
// order.
func (r *Registry) Snapshot() []observer.Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]observer.Observer, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, o)
	}
	return out
}

// Len reports how many observers are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}
