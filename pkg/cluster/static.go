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

package cluster

// staticClusterService serves a fixed local node identity. Used with
// substrates (like the Kubernetes one) that do not track membership
// themselves.
type staticClusterService struct {
	node ControllerNode
}

// NewStaticClusterService returns a ClusterService that always reports node
// as the local instance.
func NewStaticClusterService(node ControllerNode) ClusterService {
	return staticClusterService{node: node}
}

func (s staticClusterService) LocalNode() ControllerNode { return s.node }
