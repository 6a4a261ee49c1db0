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

// Package engine implements the Store Engine of spec.md §4.3: the
// commit procedure that turns a client's put/put_and_forget/remove request
// into an ordered, durable, observed mutation, and the read API that
// fronts the Query Planner. Grounded on the teacher's
// cmd/flow-dps-indexer/main.go wiring pattern (one component owns the
// ordered ingestion loop that every other component is built around) and
// api/dps/server.go's request/response error-mapping discipline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/observer"
	"github.com/cascade-kv/cascade/store/delta"
	"github.com/cascade-kv/cascade/store/dispatch"
	"github.com/cascade-kv/cascade/store/frontier"
	"github.com/cascade-kv/cascade/store/query"
	"github.com/cascade-kv/cascade/store/versionlog"
	"github.com/cascade-kv/cascade/substrate"
)

// request is the envelope Engine ships over the broadcast substrate. It
// carries everything apply() needs to reconstruct the mutation and the
// observer notification once the substrate has assigned it a version.
type request struct {
	Kind          delta.Kind
	Value         []byte
	SubgroupIndex int32
	ShardNumber   int32
	CallerID      int64
	IsTrigger     bool
}

type callerHandle int64

func (c callerHandle) CallerID() int64 { return int64(c) }

// Engine wires the Delta Core, Version Log, Frontier Tracker, Observer
// Dispatcher and a substrate.Broadcaster into the full Cascade commit and
// read pipeline for one shard replica.
type Engine[K keyvalue.Key, V keyvalue.Value[K]] struct {
	core        *delta.Core[K, V]
	vlog        *versionlog.Log[K, V]
	tracker     *frontier.Tracker
	dispatcher  *dispatch.Dispatcher
	broadcaster substrate.Broadcaster
	planner     *query.Planner[K, V]
	newValue    func() V

	subgroupIndex int32
	shardNumber   int32

	logger zerolog.Logger

	resultsMu   sync.Mutex
	resultsCond *sync.Cond
	results     map[int64]bool
}

// New builds an Engine. subgroupIndex and shardNumber identify this
// replica's position for observer notifications (spec.md §4.6).
func New[K keyvalue.Key, V keyvalue.Value[K]](
	core *delta.Core[K, V],
	vlog *versionlog.Log[K, V],
	tracker *frontier.Tracker,
	dispatcher *dispatch.Dispatcher,
	broadcaster substrate.Broadcaster,
	newValue func() V,
	subgroupIndex, shardNumber int32,
	logger zerolog.Logger,
) *Engine[K, V] {
	e := &Engine[K, V]{
		core:          core,
		vlog:          vlog,
		tracker:       tracker,
		dispatcher:    dispatcher,
		broadcaster:   broadcaster,
		planner:       query.New(core, vlog, tracker),
		newValue:      newValue,
		subgroupIndex: subgroupIndex,
		shardNumber:   shardNumber,
		logger:        logger.With().Str("component", "engine").Logger(),
		results:       make(map[int64]bool),
	}
	e.resultsCond = sync.NewCond(&e.resultsMu)
	return e
}

// Run consumes the substrate's delivery stream and applies every delivered
// mutation in order until ctx is done or the substrate closes its channel.
func (e *Engine[K, V]) Run(ctx context.Context) error {
	deliveries, err := e.broadcaster.Deliver(ctx)
	if err != nil {
		return fmt.Errorf("could not subscribe to substrate deliveries: %w", err)
	}

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			e.apply(ctx, d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply decodes one delivered message, applies it to the Delta Core,
// durably appends the resulting delta, advances the local frontier, and
// fans the mutation out to observers, recording the accept/reject outcome
// for any client blocked in submit() waiting on this version.
func (e *Engine[K, V]) apply(ctx context.Context, d substrate.Delivery) {
	var req request
	if err := keyvalue.Unmarshal(d.Message, &req); err != nil {
		e.logger.Error().Err(err).Int64("version", d.Version).Msg("could not decode delivered request")
		e.recordResult(d.Version, false)
		return
	}

	value := e.newValue()
	if err := keyvalue.Unmarshal(req.Value, value); err != nil {
		e.logger.Error().Err(err).Int64("version", d.Version).Msg("could not decode delivered value")
		e.recordResult(d.Version, false)
		return
	}

	header := value.GetHeader()
	header.Stamp(d.Version, d.TimestampUS)
	value.SetHeader(header)

	var accepted bool
	switch req.Kind {
	case delta.KindPut:
		accepted = e.core.OrderedPut(value, e.tracker.LocalLatest())
	case delta.KindRemove:
		accepted = e.core.OrderedRemove(value, e.tracker.LocalLatest())
	}

	if accepted {
		if err := e.vlog.Append(e.core.Flush()); err != nil {
			e.logger.Error().Err(err).Int64("version", d.Version).Msg("version log append failed, discarding buffered delta")
			e.core.Discard()
			accepted = false
		} else {
			e.tracker.AdvanceLocalLatest(d.Version)
			e.notify(ctx, req, value)
		}
	}

	e.recordResult(d.Version, accepted)
}

func (e *Engine[K, V]) notify(ctx context.Context, req request, value V) {
	header := value.GetHeader()
	event := observer.Event{
		SubgroupIndex: req.SubgroupIndex,
		ShardNumber:   req.ShardNumber,
		CallerID:      req.CallerID,
		Key:           []byte(header.Key.String()),
		Value:         value.Payload(),
		Context:       callerHandle(req.CallerID),
		IsTrigger:     req.IsTrigger,
	}
	if err := e.dispatcher.Dispatch(ctx, event); err != nil {
		e.logger.Warn().Err(err).Int64("version", header.Version).Msg("observer notification not delivered")
	}
}

func (e *Engine[K, V]) recordResult(version int64, accepted bool) {
	e.resultsMu.Lock()
	e.results[version] = accepted
	e.resultsCond.Broadcast()
	e.resultsMu.Unlock()
}

// waitResult blocks until apply() has recorded an outcome for version, ctx
// is cancelled, or the engine is stopped.
func (e *Engine[K, V]) waitResult(ctx context.Context, version int64) (bool, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			e.resultsMu.Lock()
			e.resultsCond.Broadcast()
			e.resultsMu.Unlock()
		case <-stop:
		}
	}()

	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()
	for {
		if accepted, ok := e.results[version]; ok {
			delete(e.results, version)
			return accepted, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.resultsCond.Wait()
	}
}

// Put submits a put request and blocks until it has been durably committed
// or rejected.
func (e *Engine[K, V]) Put(ctx context.Context, value V, callerID int64) (int64, error) {
	return e.submit(ctx, delta.KindPut, value, callerID, false)
}

// PutAndForget submits a put request whose observer notification is
// dropped under any queue pressure rather than applying backpressure
// (spec.md §9).
func (e *Engine[K, V]) PutAndForget(ctx context.Context, value V, callerID int64) (int64, error) {
	return e.submit(ctx, delta.KindPut, value, callerID, true)
}

// Remove submits a remove request.
func (e *Engine[K, V]) Remove(ctx context.Context, tombstone V, callerID int64) (int64, error) {
	return e.submit(ctx, delta.KindRemove, tombstone, callerID, false)
}

func (e *Engine[K, V]) submit(ctx context.Context, kind delta.Kind, value V, callerID int64, isTrigger bool) (int64, error) {
	payload, err := keyvalue.Marshal(value)
	if err != nil {
		return keyvalue.InvalidVersion, fmt.Errorf("could not encode value: %w", err)
	}

	req := request{
		Kind:          kind,
		Value:         payload,
		SubgroupIndex: e.subgroupIndex,
		ShardNumber:   e.shardNumber,
		CallerID:      callerID,
		IsTrigger:     isTrigger,
	}
	message, err := keyvalue.Marshal(req)
	if err != nil {
		return keyvalue.InvalidVersion, fmt.Errorf("could not encode request: %w", err)
	}

	version, _, err := e.broadcaster.Send(ctx, message)
	if err != nil {
		return keyvalue.InvalidVersion, fmt.Errorf("substrate rejected submission: %w", err)
	}

	accepted, err := e.waitResult(ctx, version)
	if err != nil {
		return keyvalue.InvalidVersion, err
	}
	if !accepted {
		return keyvalue.InvalidVersion, &Error{Kind: OptimisticRejected}
	}
	return version, nil
}

// Get resolves a get(key, version, stable, exact) request.
func (e *Engine[K, V]) Get(ctx context.Context, key K, version int64, stable bool, exact bool) (V, error) {
	value, err := e.planner.Get(ctx, key, version, stable, exact)
	return value, wrapQueryErr(err)
}

// GetSize resolves a get_size(key, version, stable, exact) request.
func (e *Engine[K, V]) GetSize(ctx context.Context, key K, version int64, stable bool, exact bool) (int, error) {
	size, err := e.planner.GetSize(ctx, key, version, stable, exact)
	return size, wrapQueryErr(err)
}

// ListKeys resolves a list_keys(prefix, version) request.
func (e *Engine[K, V]) ListKeys(ctx context.Context, prefix string, version int64, stable bool) ([]K, error) {
	keys, err := e.planner.ListKeys(ctx, prefix, version, stable)
	return keys, wrapQueryErr(err)
}

// GetByTime resolves a get_by_time(key, ts_us) request.
func (e *Engine[K, V]) GetByTime(ctx context.Context, key K, timestampUS int64, stable bool) (V, error) {
	value, err := e.planner.GetByTime(ctx, key, timestampUS, stable)
	return value, wrapQueryErr(err)
}

// ListKeysByTime resolves a list_keys_by_time(prefix, ts_us) request.
func (e *Engine[K, V]) ListKeysByTime(ctx context.Context, prefix string, timestampUS int64, stable bool) ([]K, error) {
	keys, err := e.planner.ListKeysByTime(ctx, prefix, timestampUS, stable)
	return keys, wrapQueryErr(err)
}

func wrapQueryErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, query.ErrKeyAbsent):
		return &Error{Kind: KeyAbsent, Err: err}
	case errors.Is(err, query.ErrStableWaitTimeout):
		return &Error{Kind: StableWaitTimeout, Err: err}
	default:
		return err
	}
}
