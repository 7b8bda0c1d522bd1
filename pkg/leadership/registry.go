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
	"log/slog"
	"sync"
)

// ListenerRegistry maintains the ordered set of local leadership listeners
// and fans events out to them.
//
// Add and Remove are idempotent. Dispatch invokes every current listener
// sequentially in registration order; a panicking listener is logged and
// does not prevent the remaining listeners from being invoked.
type ListenerRegistry struct {
	mu        sync.Mutex
	listeners []EventListener
	logger    *slog.Logger
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry(logger *slog.Logger) *ListenerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListenerRegistry{logger: logger}
}

// Add registers a listener. Adding a listener that is already registered is
// a no-op.
func (r *ListenerRegistry) Add(listener EventListener) {
	if listener == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners {
		if l == listener {
			return
		}
	}
	r.listeners = append(r.listeners, listener)
}

// Remove unregisters a listener. Removing an unknown listener is a no-op.
func (r *ListenerRegistry) Remove(listener EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.listeners {
		if l == listener {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (r *ListenerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Dispatch delivers event to every registered listener.
//
// Delivery happens on the caller's goroutine; listeners must be
// non-blocking or the caller accepts the delay.
func (r *ListenerRegistry) Dispatch(event LeadershipEvent) {
	r.mu.Lock()
	listeners := make([]EventListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, l := range listeners {
		r.invoke(l, event)
	}
}

func (r *ListenerRegistry) invoke(l EventListener, event LeadershipEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Leadership listener panicked",
				"event_type", event.Type,
				"topic", event.Subject.Topic,
				"panic", rec)
		}
	}()
	l.OnLeadershipEvent(event)
}
