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

package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/store/engine"
)

// KeyCodec converts between the wire-level []byte key and a shard's
// concrete key type, letting one Client adapter serve any Key
// instantiation without the transport layer knowing about generics.
type KeyCodec[K keyvalue.Key] struct {
	Encode func(K) []byte
	Decode func([]byte) (K, error)
}

// ValueCodec builds and reads back a shard's concrete value type.
type ValueCodec[K keyvalue.Key, V keyvalue.Value[K]] struct {
	New func(key K, payload []byte, previousVersion, previousVersionByKey int64) V
}

// EngineClient adapts a store/engine.Engine to the Client interface,
// translating wire DTOs to and from the engine's generic Key/Value types.
// Grounded on the teacher's api/dps/server.go, which performs exactly this
// translation between protobuf request messages and the indexer's
// internal model types.
type EngineClient[K keyvalue.Key, V keyvalue.Value[K]] struct {
	engine *engine.Engine[K, V]
	keys   KeyCodec[K]
	values ValueCodec[K, V]
}

// NewEngineClient builds a Client backed by eng.
func NewEngineClient[K keyvalue.Key, V keyvalue.Value[K]](eng *engine.Engine[K, V], keys KeyCodec[K], values ValueCodec[K, V]) *EngineClient[K, V] {
	return &EngineClient[K, V]{engine: eng, keys: keys, values: values}
}

func (c *EngineClient[K, V]) Put(ctx context.Context, req PutRequest) (PutResponse, error) {
	key, err := c.keys.Decode(req.Key)
	if err != nil {
		return PutResponse{}, fmt.Errorf("could not decode key: %w", err)
	}
	value := c.values.New(key, req.Value, req.PreviousVersion, req.PreviousVersionByKey)
	version, err := c.engine.Put(ctx, value, req.CallerID)
	if err != nil {
		return PutResponse{}, err
	}
	return PutResponse{Version: version}, nil
}

func (c *EngineClient[K, V]) PutAndForget(ctx context.Context, req PutRequest) (PutResponse, error) {
	key, err := c.keys.Decode(req.Key)
	if err != nil {
		return PutResponse{}, fmt.Errorf("could not decode key: %w", err)
	}
	value := c.values.New(key, req.Value, req.PreviousVersion, req.PreviousVersionByKey)
	version, err := c.engine.PutAndForget(ctx, value, req.CallerID)
	if err != nil {
		return PutResponse{}, err
	}
	return PutResponse{Version: version}, nil
}

func (c *EngineClient[K, V]) Remove(ctx context.Context, req RemoveRequest) (RemoveResponse, error) {
	key, err := c.keys.Decode(req.Key)
	if err != nil {
		return RemoveResponse{}, fmt.Errorf("could not decode key: %w", err)
	}
	tombstone := c.values.New(key, nil, req.PreviousVersion, req.PreviousVersionByKey)
	version, err := c.engine.Remove(ctx, tombstone, req.CallerID)
	if err != nil {
		return RemoveResponse{}, err
	}
	return RemoveResponse{Version: version}, nil
}

func (c *EngineClient[K, V]) Get(ctx context.Context, req GetRequest) (GetResponse, error) {
	key, err := c.keys.Decode(req.Key)
	if err != nil {
		return GetResponse{}, fmt.Errorf("could not decode key: %w", err)
	}

	var value V
	if req.ByTime {
		value, err = c.engine.GetByTime(ctx, key, req.TimestampUS, req.Stable)
	} else {
		value, err = c.engine.Get(ctx, key, req.Version, req.Stable, req.Exact)
	}
	if err != nil {
		var engErr *engine.Error
		if errors.As(err, &engErr) && engErr.Kind == engine.KeyAbsent {
			return GetResponse{Found: false}, nil
		}
		return GetResponse{}, err
	}

	header := value.GetHeader()
	return GetResponse{
		Value:       value.Payload(),
		Version:     header.Version,
		TimestampUS: header.TimestampUS,
		Found:       !value.IsNull(),
	}, nil
}

func (c *EngineClient[K, V]) GetSize(ctx context.Context, req GetSizeRequest) (GetSizeResponse, error) {
	key, err := c.keys.Decode(req.Key)
	if err != nil {
		return GetSizeResponse{}, fmt.Errorf("could not decode key: %w", err)
	}
	size, err := c.engine.GetSize(ctx, key, req.Version, req.Stable, req.Exact)
	if err != nil {
		return GetSizeResponse{}, err
	}
	return GetSizeResponse{Size: size}, nil
}

func (c *EngineClient[K, V]) ListKeys(ctx context.Context, req ListKeysRequest) (ListKeysResponse, error) {
	var keys []K
	var err error
	if req.ByTime {
		keys, err = c.engine.ListKeysByTime(ctx, req.Prefix, req.TimestampUS, req.Stable)
	} else {
		keys, err = c.engine.ListKeys(ctx, req.Prefix, req.Version, req.Stable)
	}
	if err != nil {
		return ListKeysResponse{}, err
	}

	encoded := make([][]byte, len(keys))
	for i, k := range keys {
		encoded[i] = c.keys.Encode(k)
	}
	return ListKeysResponse{Keys: encoded}, nil
}
