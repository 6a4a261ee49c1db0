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

package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/cascade-kv/cascade/cascadeconfig"
	"github.com/cascade-kv/cascade/cascadelog"
	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/rawlog"
	"github.com/cascade-kv/cascade/store/shard"
	"github.com/cascade-kv/cascade/substrate/local"
)

func main() {

	// Signal catching for clean shutdown.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	flags := cascadeconfig.Register(pflag.CommandLine)
	pflag.Parse()

	log, err := cascadelog.New(flags.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("could not parse log level")
	}

	cfg, err := flags.Config()
	if err != nil {
		log.Fatal().Err(err).Msg("could not resolve configuration")
	}

	var raw rawlog.RawLog
	if flags.ShardDir == "" {
		raw = rawlog.NewMemLog()
	} else {
		raw, err = rawlog.OpenFileLog(flags.ShardDir)
		if err != nil {
			log.Fatal().Err(err).Msg("could not open raw log")
		}
	}

	broadcaster := local.NewLoopback()

	replica, err := shard.Open[keyvalue.PathKey, *keyvalue.BlobValue[keyvalue.PathKey]](
		raw,
		func() *keyvalue.BlobValue[keyvalue.PathKey] { return &keyvalue.BlobValue[keyvalue.PathKey]{} },
		broadcaster,
		shard.Config{
			SubgroupIndex: cfg.SubgroupIndex,
			ShardNumber:   cfg.ShardNumber,
			IndexDir:      cfg.IndexDir,
			Dispatch:      cfg.DispatchConfig(),
		},
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open shard replica")
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		start := time.Now()
		log.Info().Time("start", start).Msg("cascade shard replica starting")
		done <- replica.Run(ctx)
	}()

	select {
	case <-sig:
		log.Info().Msg("cascade shard replica stopping")
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("replica commit loop stopped with an error")
		}
	}
	go func() {
		<-sig
		log.Warn().Msg("forcing exit")
		os.Exit(1)
	}()

	cancel()
	broadcaster.Close()

	closed := make(chan error, 1)
	go func() { closed <- replica.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			log.Error().Err(err).Msg("could not close replica cleanly")
		}
	case <-time.After(cfg.ShutdownTimeout):
		log.Error().Dur("timeout", cfg.ShutdownTimeout).Msg("replica did not close before shutdown timeout")
	}

	os.Exit(0)
}
