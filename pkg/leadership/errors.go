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

import "errors"

var (
	// ErrEmptyTopic is returned by facade entry points called with an empty
	// topic name.
	ErrEmptyTopic = errors.New("leadership: topic name must not be empty")

	// ErrLeaderBoardUnsupported is returned by GetLeaderBoard. A cluster-wide
	// leadership view is out of scope for this service.
	ErrLeaderBoardUnsupported = errors.New("leadership: cluster-wide leader board is not supported")

	// ErrNotActivated is returned by RunForLeadership when it is called
	// before Activate or after Deactivate.
	ErrNotActivated = errors.New("leadership: service is not activated")
)
