// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package leadership

import (
	"encoding/json"
	"fmt"
)

// Codec serializes leadership events for the cluster-wide ordered topic.
//
// The only requirement is round-trip equality of type, subject topic,
// subject leader ID, epoch, and timestamp. Deployments pick a codec; all
// peers on one topic must agree on it.
type Codec interface {
	Encode(event LeadershipEvent) ([]byte, error)
	Decode(data []byte) (LeadershipEvent, error)
}

// JSONCodec is the default codec. It encodes events as compact JSON.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(event LeadershipEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode leadership event: %w", err)
	}
	return data, nil
}

// Decode implements Codec. Payloads with an unknown event type or an empty
// topic are rejected so that corrupt broadcast messages are dropped at the
// boundary.
func (JSONCodec) Decode(data []byte) (LeadershipEvent, error) {
	var event LeadershipEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return LeadershipEvent{}, fmt.Errorf("failed to decode leadership event: %w", err)
	}
	if !event.Type.Valid() {
		return LeadershipEvent{}, fmt.Errorf("unknown leadership event type %q", event.Type)
	}
	if event.Subject.Topic == "" {
		return LeadershipEvent{}, fmt.Errorf("leadership event has empty topic")
	}
	return event, nil
}
