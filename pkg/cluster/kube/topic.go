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

package kube

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"controller-leadership/pkg/cluster"
)

const (
	// sequenceKey holds the monotonically increasing message counter in the
	// topic ConfigMap.
	sequenceKey = "sequence"

	// payloadKey holds the latest message payload in the topic ConfigMap.
	payloadKey = "payload"

	// rewatchBackoff is the pause before re-establishing a broken watch.
	rewatchBackoff = 2 * time.Second
)

// configMapTopic implements cluster.OrderedTopic on a single ConfigMap.
//
// Every publish bumps the sequence number and replaces the payload in one
// optimistic-concurrency update. Subscribers watch the object and invoke
// their handler once per new sequence number, in sequence order. Messages
// published while a subscriber's watch is down are lost - the topic is best
// effort, matching the substrate contract.
type configMapTopic struct {
	client    kubernetes.Interface
	namespace string
	name      string
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[cluster.SubscriptionID]context.CancelFunc
	id   int
}

func newConfigMapTopic(client kubernetes.Interface, namespace, name string, logger *slog.Logger) *configMapTopic {
	return &configMapTopic{
		client:    client,
		namespace: namespace,
		name:      name,
		logger:    logger.With("topic_configmap", name),
		subs:      make(map[cluster.SubscriptionID]context.CancelFunc),
	}
}

// Publish implements cluster.OrderedTopic.
func (t *configMapTopic) Publish(ctx context.Context, payload []byte) error {
	configMaps := t.client.CoreV1().ConfigMaps(t.namespace)

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		cm, err := configMaps.Get(ctx, t.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			cm = &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{Name: t.name, Namespace: t.namespace},
				Data:       map[string]string{sequenceKey: "1"},
				BinaryData: map[string][]byte{payloadKey: payload},
			}
			_, createErr := configMaps.Create(ctx, cm, metav1.CreateOptions{})
			if apierrors.IsAlreadyExists(createErr) {
				// Lost the creation race - retry as an update.
				return apierrors.NewConflict(corev1.Resource("configmaps"), t.name, createErr)
			}
			return createErr
		}
		if err != nil {
			return err
		}

		seq := parseSequence(cm) + 1
		if cm.Data == nil {
			cm.Data = make(map[string]string)
		}
		cm.Data[sequenceKey] = strconv.FormatUint(seq, 10)
		if cm.BinaryData == nil {
			cm.BinaryData = make(map[string][]byte)
		}
		cm.BinaryData[payloadKey] = payload

		_, err = configMaps.Update(ctx, cm, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to topic %q: %w", t.name, err)
	}
	return nil
}

// Subscribe implements cluster.OrderedTopic. The handler runs serially on a
// subscription-private goroutine.
func (t *configMapTopic) Subscribe(handler func(payload []byte)) (cluster.SubscriptionID, error) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.id++
	id := cluster.SubscriptionID(fmt.Sprintf("%s-%d", t.name, t.id))
	t.subs[id] = cancel
	t.mu.Unlock()

	go t.watchLoop(ctx, handler)
	return id, nil
}

// Unsubscribe implements cluster.OrderedTopic.
func (t *configMapTopic) Unsubscribe(id cluster.SubscriptionID) {
	t.mu.Lock()
	cancel, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
	}
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

// watchLoop watches the topic ConfigMap and delivers each new sequence
// number exactly once, re-establishing the watch on failure.
func (t *configMapTopic) watchLoop(ctx context.Context, handler func(payload []byte)) {
	var lastSeq uint64

	for ctx.Err() == nil {
		watcher, err := t.client.CoreV1().ConfigMaps(t.namespace).Watch(ctx, metav1.ListOptions{
			FieldSelector: "metadata.name=" + t.name,
		})
		if err != nil {
			t.logger.Warn("Failed to establish topic watch, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(rewatchBackoff):
			}
			continue
		}

		for event := range watcher.ResultChan() {
			cm, ok := event.Object.(*corev1.ConfigMap)
			if !ok || cm.Name != t.name {
				continue
			}
			seq := parseSequence(cm)
			if seq == 0 || seq <= lastSeq {
				continue
			}
			lastSeq = seq

			payload := cm.BinaryData[payloadKey]
			msg := make([]byte, len(payload))
			copy(msg, payload)
			handler(msg)
		}
		watcher.Stop()

		select {
		case <-ctx.Done():
			return
		case <-time.After(rewatchBackoff):
		}
	}
}

func parseSequence(cm *corev1.ConfigMap) uint64 {
	raw, ok := cm.Data[sequenceKey]
	if !ok {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
