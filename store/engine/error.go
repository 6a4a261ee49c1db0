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

package engine

import "fmt"

// Kind classifies the ways a Store Engine operation can fail, matching the
// error taxonomy of spec.md §4.3/§7.
type Kind uint8

const (
	// OptimisticRejected means the mutation's previous_version /
	// previous_version_by_key precondition did not hold once the
	// substrate delivered it in order.
	OptimisticRejected Kind = iota
	// KeyAbsent means the requested key has no value at the resolved
	// version.
	KeyAbsent
	// FutureVersion means the caller asked for a version that has not
	// been assigned yet.
	FutureVersion
	// FutureTime means the caller asked for get_by_time/list_keys_by_time
	// at a timestamp with no committed version at or before it.
	FutureTime
	// StableWaitTimeout means a stable-mode read's wait on the Frontier
	// Tracker was cut short by the caller's context.
	StableWaitTimeout
	// LogCorruption means a local Version Log append failed in a way
	// recover() cannot resolve on its own; the replica needs to rehydrate
	// from a healthy peer (spec.md §7).
	LogCorruption
	// ObserverBackpressure means a put_and_forget or put/remove
	// notification was dropped because the Observer Dispatcher's queue
	// was full.
	ObserverBackpressure
)

// String renders the error kind for logging.
func (k Kind) String() string {
	switch k {
	case OptimisticRejected:
		return "optimistic_rejected"
	case KeyAbsent:
		return "key_absent"
	case FutureVersion:
		return "future_version"
	case FutureTime:
		return "future_time"
	case StableWaitTimeout:
		return "stable_wait_timeout"
	case LogCorruption:
		return "log_corruption"
	case ObserverBackpressure:
		return "observer_backpressure"
	default:
		return "unknown"
	}
}

// Error is the typed error Store Engine operations return for the kinds
// above; encoding, substrate and context failures are returned as plain
// (wrapped) errors instead.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}
