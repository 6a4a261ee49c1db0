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

package cascadeconfig

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/cascade-kv/cascade/store/dispatch"
)

// Flags binds every Config field to a pflag.FlagSet, the same
// StringVarP/IntVarP style the teacher's cmd/flow-dps-indexer/main.go uses
// directly in main rather than through a dedicated binder. Splitting it out
// here lets every cascade-* binary share one flag surface.
type Flags struct {
	ShardDir           string
	IndexDir           string
	SubgroupIndex      int32
	ShardNumber        int32
	LogLevel           string
	Backpressure       string
	QueueCapacity      int
	BoundedWaitSeconds float64
	DispatchWorkers    int
	ShutdownSeconds    float64
}

// Register adds every Cascade flag to set with the teacher's defaults where
// one exists in DefaultConfig.
func Register(set *pflag.FlagSet) *Flags {
	f := &Flags{}
	set.StringVarP(&f.ShardDir, "data", "d", "", "file holding this shard's raw log; empty keeps the log in memory")
	set.StringVarP(&f.IndexDir, "index", "i", DefaultConfig.IndexDir, "directory for the version log's secondary index")
	set.Int32Var(&f.SubgroupIndex, "subgroup", DefaultConfig.SubgroupIndex, "subgroup index this replica serves")
	set.Int32Var(&f.ShardNumber, "shard", DefaultConfig.ShardNumber, "shard number this replica serves")
	set.StringVarP(&f.LogLevel, "log", "l", "info", "log output level")
	set.StringVar(&f.Backpressure, "backpressure", "block", "observer backpressure mode: block, drop or bounded-wait")
	set.IntVar(&f.QueueCapacity, "queue-capacity", DefaultConfig.QueueCapacity, "per-queue dispatch capacity, 0 for unbounded")
	set.Float64Var(&f.BoundedWaitSeconds, "bounded-wait", DefaultConfig.BoundedWaitTimeout.Seconds(), "bounded-wait backpressure timeout, in seconds")
	set.IntVar(&f.DispatchWorkers, "dispatch-workers", DefaultConfig.DispatchWorkers, "observer dispatcher worker pool size")
	set.Float64Var(&f.ShutdownSeconds, "shutdown-timeout", DefaultConfig.ShutdownTimeout.Seconds(), "graceful shutdown timeout, in seconds")
	return f
}

// Config resolves the parsed flags into a Config.
func (f *Flags) Config() (Config, error) {
	mode, err := parseBackpressureMode(f.Backpressure)
	if err != nil {
		return Config{}, err
	}

	return New(
		WithSubgroupIndex(f.SubgroupIndex),
		WithShardNumber(f.ShardNumber),
		WithIndexDir(f.IndexDir),
		WithBackpressureMode(mode),
		WithQueueCapacity(f.QueueCapacity),
		WithBoundedWaitTimeout(secondsToDuration(f.BoundedWaitSeconds)),
		WithDispatchWorkers(f.DispatchWorkers),
		WithShutdownTimeout(secondsToDuration(f.ShutdownSeconds)),
	), nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func parseBackpressureMode(s string) (dispatch.BackpressureMode, error) {
	switch s {
	case "block":
		return dispatch.Block, nil
	case "drop":
		return dispatch.Drop, nil
	case "bounded-wait":
		return dispatch.BoundedWait, nil
	default:
		return 0, fmt.Errorf("unknown backpressure mode %q", s)
	}
}

