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

// Command cascade-bench is a put/get latency benchmark driven against an
// in-process shard replica, the Cascade counterpart to the teacher's
// testing/benchmark tool, which drives concurrent script executions
// against a live access API and reports latency through a Prometheus
// histogram. Since spec.md leaves the RPC transport and the performance
// harness itself out of scope (§1), this binary exercises the Store
// Engine directly rather than a wire client — there is no transport to
// drive one through yet.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cascade-kv/cascade/cascadelog"
	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/rawlog"
	"github.com/cascade-kv/cascade/store/shard"
	"github.com/cascade-kv/cascade/substrate/local"
)

const (
	defaultMaxConcurrent = 50
	defaultLoopCount     = 10000
	defaultKeyCount      = 1000
)

var (
	maxConcurrent  int
	loopCount      int
	keyCount       int
	metricsAddress string
)

var latencyHist = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "cascade_bench_request_latency_ms",
	Help:    "Latency of a put followed by a get against the same key.",
	Buckets: prometheus.ExponentialBucketsRange(0.01, 1000, 30),
})

func main() {
	flag.IntVar(&maxConcurrent, "max-concurrent", defaultMaxConcurrent, "max concurrent request chains")
	flag.IntVar(&loopCount, "loop-count", defaultLoopCount, "number of put+get chains to run")
	flag.IntVar(&keyCount, "key-count", defaultKeyCount, "number of distinct keys to spread load over")
	flag.StringVar(&metricsAddress, "metrics-address", "localhost:0", "host:port of the metrics server")
	flag.Parse()

	log, err := cascadelog.New("info")
	if err != nil {
		log.Fatal().Err(err).Msg("could not build logger")
	}

	replica, err := shard.Open[keyvalue.Uint64Key, *keyvalue.BlobValue[keyvalue.Uint64Key]](
		rawlog.NewMemLog(),
		func() *keyvalue.BlobValue[keyvalue.Uint64Key] { return &keyvalue.BlobValue[keyvalue.Uint64Key]{} },
		local.NewLoopback(),
		shard.Config{},
		zerolog.Nop(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open benchmark replica")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = replica.Run(ctx) }()

	go func() {
		metricsListener, err := net.Listen("tcp", metricsAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to listen for metrics")
		}
		log.Info().Str("address", metricsListener.Addr().String()).Msg("metrics server listening")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.Serve(metricsListener, mux)
	}()

	var totalTimeNS int64
	var totalCount int64

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrent)

	for loop := 0; loop < loopCount; loop++ {
		eg.Go(func() error {
			key := keyvalue.Uint64Key(rand.Intn(keyCount))

			start := time.Now()
			value := &keyvalue.BlobValue[keyvalue.Uint64Key]{
				Header: keyvalue.NewHeader[keyvalue.Uint64Key](key, keyvalue.InvalidVersion, keyvalue.InvalidVersion),
				Bytes:  []byte("benchmark-payload"),
			}
			_, err := replica.Engine.Put(ctx, value, 0)
			if err != nil {
				log.Error().Err(err).Msg("put failed")
				return nil
			}
			_, err = replica.Engine.Get(ctx, key, keyvalue.CurrentVersion, false, false)
			if err != nil {
				log.Error().Err(err).Msg("get failed")
				return nil
			}
			latency := time.Since(start)
			latencyHist.Observe(float64(latency.Microseconds()) / 1000)

			atomic.AddInt64(&totalCount, 1)
			atomic.AddInt64(&totalTimeNS, latency.Nanoseconds())

			return nil
		})
	}
	_ = eg.Wait()

	count := atomic.LoadInt64(&totalCount)
	if count == 0 {
		fmt.Println("no requests completed")
		os.Exit(1)
	}
	avg := time.Duration(atomic.LoadInt64(&totalTimeNS) / count)
	fmt.Printf("completed %d put+get chains, average latency %s\n", count, avg)

	if err := replica.Close(); err != nil {
		log.Error().Err(err).Msg("could not close benchmark replica")
	}
}
