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

package frontier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/store/frontier"
)

func TestTrackerAdvanceIsMonotonic(t *testing.T) {
	tr := frontier.New()
	tr.AdvanceLocalLatest(5)
	tr.AdvanceLocalLatest(2)
	assert.Equal(t, int64(5), tr.LocalLatest())
}

func TestTrackerWaitForGlobalPersistentUnblocksOnAdvance(t *testing.T) {
	tr := frontier.New()

	done := make(chan bool, 1)
	go func() {
		done <- tr.WaitForGlobalPersistent(context.Background(), 3)
	}()

	time.Sleep(10 * time.Millisecond)
	tr.AdvanceGlobalPersistent(3)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock after frontier advanced")
	}
}

func TestTrackerWaitForGlobalPersistentRespectsInvalidSentinel(t *testing.T) {
	tr := frontier.New()
	ok := tr.WaitForGlobalPersistent(context.Background(), keyvalue.InvalidVersion)
	assert.True(t, ok)
}

func TestTrackerWaitForGlobalPersistentCtxCancel(t *testing.T) {
	tr := frontier.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok := tr.WaitForGlobalPersistent(ctx, 10)
	assert.False(t, ok)
}

func TestTrackerCloseUnblocksWaiters(t *testing.T) {
	tr := frontier.New()

	done := make(chan bool, 1)
	go func() {
		done <- tr.WaitForGlobalPersistent(context.Background(), 10)
	}()

	time.Sleep(10 * time.Millisecond)
	tr.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock waiters")
	}
}

func TestTrackerGlobalStableTimestamp(t *testing.T) {
	tr := frontier.New()
	tr.AdvanceGlobalStableTimestampNS(1_000)
	tr.AdvanceGlobalStableTimestampNS(500)
	require.Equal(t, int64(1_000), tr.GlobalStableTimestampNS())
}
