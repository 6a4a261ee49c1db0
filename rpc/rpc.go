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

// Package rpc declares the wire-level request/response shapes for every
// Cascade client operation (spec.md §4.3) and the Client interface a
// transport binds against. The transport itself — framing these over a
// network, load-balancing across shard replicas — is out of scope
// (spec.md §1); this package only fixes the vocabulary a transport and the
// Store Engine agree on, the same role the teacher's api/dps package plays
// for its own (in-scope, gRPC-based) request/response types.
package rpc

import (
	"context"

	"github.com/cascade-kv/cascade/keyvalue"
)

// CurrentVersion and InvalidVersion re-export the sentinels every request
// that carries a version field uses.
const (
	CurrentVersion = keyvalue.CurrentVersion
	InvalidVersion = keyvalue.InvalidVersion
)

// PutRequest carries a put or put_and_forget submission.
type PutRequest struct {
	Key                  []byte
	Value                []byte
	PreviousVersion      int64
	PreviousVersionByKey int64
	CallerID             int64
}

// PutResponse reports the version assigned to an accepted put.
type PutResponse struct {
	Version int64
}

// RemoveRequest carries a remove submission.
type RemoveRequest struct {
	Key                  []byte
	PreviousVersion      int64
	PreviousVersionByKey int64
	CallerID             int64
}

// RemoveResponse reports the version assigned to an accepted remove.
type RemoveResponse struct {
	Version int64
}

// GetRequest carries a get or get_by_time (via TimestampUS) request. Exact
// restricts a versioned read to the delta committed at exactly Version,
// never falling back to the reconstructed value at that version (spec.md
// §4.3/§4.4); it is ignored when ByTime is set, since get_by_time always
// resolves to the delta committed at or before TimestampUS.
type GetRequest struct {
	Key         []byte
	Version     int64
	TimestampUS int64
	ByTime      bool
	Stable      bool
	Exact       bool
}

// GetResponse carries the resolved value, or Found=false if the key was
// absent at the resolved version.
type GetResponse struct {
	Value       []byte
	Version     int64
	TimestampUS int64
	Found       bool
}

// GetSizeRequest carries a get_size request. Exact has the same meaning
// as GetRequest.Exact.
type GetSizeRequest struct {
	Key     []byte
	Version int64
	Stable  bool
	Exact   bool
}

// GetSizeResponse reports the serialized size of the resolved value.
type GetSizeResponse struct {
	Size int
}

// ListKeysRequest carries a list_keys or list_keys_by_time (via
// TimestampUS) request.
type ListKeysRequest struct {
	Prefix      string
	Version     int64
	TimestampUS int64
	ByTime      bool
	Stable      bool
}

// ListKeysResponse carries the resolved key set.
type ListKeysResponse struct {
	Keys [][]byte
}

// Client is the request/response surface a transport implementation (not
// provided by this module) binds to the Store Engine on the other end.
type Client interface {
	Put(ctx context.Context, req PutRequest) (PutResponse, error)
	PutAndForget(ctx context.Context, req PutRequest) (PutResponse, error)
	Remove(ctx context.Context, req RemoveRequest) (RemoveResponse, error)
	Get(ctx context.Context, req GetRequest) (GetResponse, error)
	GetSize(ctx context.Context, req GetSizeRequest) (GetSizeResponse, error)
	ListKeys(ctx context.Context, req ListKeysRequest) (ListKeysResponse, error)
}
