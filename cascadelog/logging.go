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

// Package cascadelog centralizes the zerolog setup every cascade-* binary
// repeats: UTC timestamps, a level parsed from a flag, and output to
// stderr. Grounded on the identical stanza repeated at the top of every
// teacher cmd/*/main.go (e.g. cmd/flow-dps-indexer/main.go).
package cascadelog

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// New builds the root logger for a binary, parsing level (e.g. "info",
// "debug") the same way every teacher main.go does via
// zerolog.ParseLevel.
func New(level string) (zerolog.Logger, error) {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return log, fmt.Errorf("could not parse log level %q: %w", level, err)
	}
	return log.Level(parsed), nil
}

// Component returns a child logger scoped to name, matching the
// log.With().Str("component", name).Logger() convention used throughout
// the store/* packages.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
