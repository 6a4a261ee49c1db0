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

// Package cascadeconfig collects the configuration shared by every Cascade
// binary: the shard replica's own settings, plus how those settings are
// populated from command-line flags. It follows the teacher's
// service/mapper.Config pattern (a plain struct, a package-level
// DefaultConfig, and a WithX functional option per field) rather than
// inventing a parsing layer of its own.
package cascadeconfig

import (
	"time"

	"github.com/cascade-kv/cascade/store/dispatch"
)

// DefaultConfig has the default values of the config set.
var DefaultConfig = Config{
	SubgroupIndex:      0,
	ShardNumber:        0,
	IndexDir:           "",
	BackpressureMode:   dispatch.Block,
	QueueCapacity:      0,
	BoundedWaitTimeout: time.Second,
	DispatchWorkers:    4,
	ShutdownTimeout:    30 * time.Second,
}

// Config holds every setting a shard replica needs beyond the raw log and
// substrate it is handed at startup.
type Config struct {
	// SubgroupIndex and ShardNumber identify this replica's position
	// within the keyspace partitioning (spec.md §2).
	SubgroupIndex int32
	ShardNumber   int32
	// IndexDir is the directory backing the Version Log's Badger
	// secondary index; empty opens an in-memory index rebuilt from the
	// raw log on every start.
	IndexDir string
	// BackpressureMode, QueueCapacity, BoundedWaitTimeout and
	// DispatchWorkers configure the Observer Dispatcher (spec.md §4.6).
	BackpressureMode   dispatch.BackpressureMode
	QueueCapacity      int
	BoundedWaitTimeout time.Duration
	DispatchWorkers    int
	// ShutdownTimeout bounds how long a binary waits for in-flight work
	// to finish draining before forcing an exit.
	ShutdownTimeout time.Duration
}

// WithSubgroupIndex sets the replica's subgroup index.
func WithSubgroupIndex(i int32) func(*Config) {
	return func(cfg *Config) { cfg.SubgroupIndex = i }
}

// WithShardNumber sets the replica's shard number.
func WithShardNumber(n int32) func(*Config) {
	return func(cfg *Config) { cfg.ShardNumber = n }
}

// WithIndexDir sets the Version Log's secondary index directory.
func WithIndexDir(dir string) func(*Config) {
	return func(cfg *Config) { cfg.IndexDir = dir }
}

// WithBackpressureMode sets the Observer Dispatcher's backpressure policy.
func WithBackpressureMode(mode dispatch.BackpressureMode) func(*Config) {
	return func(cfg *Config) { cfg.BackpressureMode = mode }
}

// WithQueueCapacity bounds each per-(subgroup, shard) dispatch queue; zero
// or negative leaves it unbounded.
func WithQueueCapacity(n int) func(*Config) {
	return func(cfg *Config) { cfg.QueueCapacity = n }
}

// WithBoundedWaitTimeout sets how long the BoundedWait backpressure mode
// waits for room in a full queue before dropping.
func WithBoundedWaitTimeout(d time.Duration) func(*Config) {
	return func(cfg *Config) { cfg.BoundedWaitTimeout = d }
}

// WithDispatchWorkers sets the Observer Dispatcher's worker pool size.
func WithDispatchWorkers(n int) func(*Config) {
	return func(cfg *Config) { cfg.DispatchWorkers = n }
}

// WithShutdownTimeout sets how long a binary waits for graceful shutdown.
func WithShutdownTimeout(d time.Duration) func(*Config) {
	return func(cfg *Config) { cfg.ShutdownTimeout = d }
}

// New builds a Config starting from DefaultConfig and applying opts in
// order.
func New(opts ...func(*Config)) Config {
	cfg := DefaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DispatchConfig projects the dispatch-related fields into a
// store/dispatch.Config.
func (c Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Mode:               c.BackpressureMode,
		QueueCapacity:      c.QueueCapacity,
		BoundedWaitTimeout: c.BoundedWaitTimeout,
		Workers:            c.DispatchWorkers,
	}
}
