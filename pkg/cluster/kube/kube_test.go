package kube

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestSanitizeResourceName(t *testing.T) {
	t.Parallel()

	name := sanitizeResourceName("LeadershipService/sdn/lock")
	assert.True(t, strings.HasPrefix(name, "leadershipservice-sdn-lock-"), "got %q", name)
	assert.LessOrEqual(t, len(name), maxResourceNameLength)

	// Distinct inputs must never collide, even when truncation applies.
	long1 := sanitizeResourceName("LeadershipService/" + strings.Repeat("a", 100) + "/1/topic")
	long2 := sanitizeResourceName("LeadershipService/" + strings.Repeat("a", 100) + "/2/topic")
	assert.NotEqual(t, long1, long2)
	assert.LessOrEqual(t, len(long1), maxResourceNameLength)
}

func TestLeaseLock_AcquireFreeAndRelease(t *testing.T) {
	t.Parallel()
	clientset := fake.NewSimpleClientset()
	substrate := NewFromClientset(clientset, Config{Namespace: "default", Identity: "node-a"})

	lock := substrate.Lock("LeadershipService/sdn/lock")
	require.NoError(t, lock.Lock(context.Background()))

	leases, err := clientset.CoordinationV1().Leases("default").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, leases.Items, 1)
	require.NotNil(t, leases.Items[0].Spec.HolderIdentity)
	assert.Equal(t, "node-a", *leases.Items[0].Spec.HolderIdentity)

	lock.Unlock()

	lease, err := clientset.CoordinationV1().Leases("default").Get(context.Background(), leases.Items[0].Name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Nil(t, lease.Spec.HolderIdentity)
}

func TestLeaseLock_HeldByLiveHolderIsNotTakenOver(t *testing.T) {
	t.Parallel()
	clientset := fake.NewSimpleClientset()
	logger := slog.Default()

	holder := newLeaseLock(clientset, "default", "sdn-lock", "node-a", logger)
	acquired, err := holder.tryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, acquired)

	contender := newLeaseLock(clientset, "default", "sdn-lock", "node-b", logger)
	acquired, err = contender.tryAcquire(context.Background())
	require.NoError(t, err)
	assert.False(t, acquired, "live lease must not be taken over")
}

func TestLeaseLock_ExpiredLeaseIsTakenOver(t *testing.T) {
	t.Parallel()
	clientset := fake.NewSimpleClientset()
	logger := slog.Default()

	// Seed a lease whose renew time is far in the past.
	identity := "node-a"
	durationSeconds := int32(leaseDuration / time.Second)
	stale := metav1.NewMicroTime(time.Now().Add(-2 * leaseDuration))
	_, err := clientset.CoordinationV1().Leases("default").Create(context.Background(), &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: "sdn-lock", Namespace: "default"},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &identity,
			LeaseDurationSeconds: &durationSeconds,
			RenewTime:            &stale,
		},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	contender := newLeaseLock(clientset, "default", "sdn-lock", "node-b", logger)
	acquired, err := contender.tryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, acquired, "expired lease must be taken over")

	lease, err := clientset.CoordinationV1().Leases("default").Get(context.Background(), "sdn-lock", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "node-b", *lease.Spec.HolderIdentity)
	require.NotNil(t, lease.Spec.LeaseTransitions)
	assert.Equal(t, int32(1), *lease.Spec.LeaseTransitions)
}

func TestConfigMapTopic_PublishIncrementsSequence(t *testing.T) {
	t.Parallel()
	clientset := fake.NewSimpleClientset()
	topic := newConfigMapTopic(clientset, "default", "sdn-topic", slog.Default())

	require.NoError(t, topic.Publish(context.Background(), []byte("one")))
	require.NoError(t, topic.Publish(context.Background(), []byte("two")))

	cm, err := clientset.CoreV1().ConfigMaps("default").Get(context.Background(), "sdn-topic", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2", cm.Data[sequenceKey])
	assert.Equal(t, []byte("two"), cm.BinaryData[payloadKey])
}

func TestConfigMapTopic_SubscriberReceivesPublishes(t *testing.T) {
	t.Parallel()
	clientset := fake.NewSimpleClientset()
	topic := newConfigMapTopic(clientset, "default", "sdn-topic", slog.Default())

	received := make(chan string, 10)
	id, err := topic.Subscribe(func(payload []byte) { received <- string(payload) })
	require.NoError(t, err)
	defer topic.Unsubscribe(id)

	// Give the watch a moment to establish before publishing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, topic.Publish(context.Background(), []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive the published message")
	}
}
