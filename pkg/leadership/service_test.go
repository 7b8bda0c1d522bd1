package leadership

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controller-leadership/pkg/cluster"
	"controller-leadership/pkg/cluster/memory"
	"controller-leadership/pkg/events"
)

func newTestService(t *testing.T, m *memory.Member) *Service {
	t.Helper()
	bus := events.NewEventBus(16)
	bus.Start()

	svc, err := NewService(Config{
		Cluster:    m,
		Substrate:  m,
		Dispatcher: bus,
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	return svc
}

// hasEvent reports whether the listener observed an event with the given
// type and leader.
func hasEvent(l *recordingListener, eventType EventType, leader cluster.NodeID) func() bool {
	return func() bool {
		for _, event := range l.Events() {
			if event.Type == eventType && event.Subject.Leader.ID == leader {
				return true
			}
		}
		return false
	}
}

func TestNewService_Validation(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	m := clus.Join(testNode("node-a"))
	bus := events.NewEventBus(16)

	_, err := NewService(Config{Substrate: m, Dispatcher: bus})
	assert.Error(t, err, "missing cluster service")

	_, err = NewService(Config{Cluster: m, Dispatcher: bus})
	assert.Error(t, err, "missing substrate")

	_, err = NewService(Config{Cluster: m, Substrate: m})
	assert.Error(t, err, "missing dispatcher")

	// The heartbeat/timeout ratio must tolerate at least one missed
	// heartbeat.
	_, err = NewService(Config{
		Cluster:           m,
		Substrate:         m,
		Dispatcher:        bus,
		HeartbeatInterval: 10 * time.Second,
		RemoteTimeout:     15 * time.Second,
	})
	assert.Error(t, err, "remote timeout below twice the heartbeat interval")
}

func TestService_RequiresActivation(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))

	assert.ErrorIs(t, svc.RunForLeadership("sdn"), ErrNotActivated)
}

func TestService_EmptyTopicIsRejected(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))
	svc.Activate()
	defer svc.Deactivate()

	assert.ErrorIs(t, svc.RunForLeadership(""), ErrEmptyTopic)
	assert.ErrorIs(t, svc.Withdraw(""), ErrEmptyTopic)
}

func TestService_GetLeaderUnknownTopic(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))
	svc.Activate()
	defer svc.Deactivate()

	assert.Nil(t, svc.GetLeader("unknown"))
}

func TestService_WithdrawUnknownTopicIsNoop(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))
	svc.Activate()
	defer svc.Deactivate()

	assert.NoError(t, svc.Withdraw("unknown"))
}

func TestService_LeaderBoardIsUnsupported(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))
	svc.Activate()
	defer svc.Deactivate()

	require.NoError(t, svc.RunForLeadership("sdn"))
	before := len(svc.Topics())

	board, err := svc.GetLeaderBoard()
	assert.ErrorIs(t, err, ErrLeaderBoardUnsupported)
	assert.Nil(t, board)
	assert.Equal(t, before, len(svc.Topics()), "failed call must not mutate state")
}

func TestService_SoloElection(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))

	listener := &recordingListener{}
	svc.AddListener(listener)
	svc.Activate()
	defer svc.Deactivate()

	require.NoError(t, svc.RunForLeadership("sdn"))

	require.Eventually(t, hasEvent(listener, LeaderElected, "node-a"),
		waitTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		leader := svc.GetLeader("sdn")
		return leader != nil && leader.ID == "node-a"
	}, waitTimeout, 10*time.Millisecond)
}

func TestService_RunForLeadershipIsIdempotent(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))

	listener := &recordingListener{}
	svc.AddListener(listener)
	svc.Activate()
	defer svc.Deactivate()

	require.NoError(t, svc.RunForLeadership("sdn"))
	require.NoError(t, svc.RunForLeadership("sdn"))
	require.NoError(t, svc.RunForLeadership("sdn"))

	require.Eventually(t, hasEvent(listener, LeaderElected, "node-a"),
		waitTimeout, 10*time.Millisecond)
	assert.Len(t, svc.Topics(), 1)

	// A second call created no second engine, so exactly one election
	// happened.
	time.Sleep(100 * time.Millisecond)
	elected := 0
	for _, event := range listener.Events() {
		if event.Type == LeaderElected {
			elected++
		}
	}
	assert.Equal(t, 1, elected)
}

func TestService_WithdrawIsIdempotent(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))
	svc.Activate()
	defer svc.Deactivate()

	require.NoError(t, svc.RunForLeadership("sdn"))
	require.NoError(t, svc.Withdraw("sdn"))
	require.NoError(t, svc.Withdraw("sdn"))
	assert.Empty(t, svc.Topics())
}

func TestService_PeerTakesOverAfterWithdraw(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()

	svcA := newTestService(t, clus.Join(testNode("node-a")))
	listenerA := &recordingListener{}
	svcA.AddListener(listenerA)
	svcA.Activate()
	defer svcA.Deactivate()

	svcB := newTestService(t, clus.Join(testNode("node-b")))
	listenerB := &recordingListener{}
	svcB.AddListener(listenerB)
	svcB.Activate()
	defer svcB.Deactivate()

	// a runs first and wins; b contends and waits on the lock.
	require.NoError(t, svcA.RunForLeadership("sdn"))
	require.Eventually(t, hasEvent(listenerA, LeaderElected, "node-a"),
		waitTimeout, 10*time.Millisecond)

	require.NoError(t, svcB.RunForLeadership("sdn"))

	// b subscribed after a's election broadcast, which the topic does not
	// replay, so b learns of a's leadership from a's next heartbeat.
	clockA := svcA.clock.(*clockwork.FakeClock)
	clockA.BlockUntil(1)
	clockA.Advance(PeriodicInterval)
	require.Eventually(t, hasEvent(listenerB, LeaderReelected, "node-a"),
		waitTimeout, 10*time.Millisecond)

	// a withdraws: its listener observes the boot, then b succeeds it.
	require.NoError(t, svcA.Withdraw("sdn"))

	require.Eventually(t, hasEvent(listenerA, LeaderBooted, "node-a"),
		waitTimeout, 10*time.Millisecond)
	require.Eventually(t, hasEvent(listenerB, LeaderElected, "node-b"),
		waitTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		leader := svcB.GetLeader("sdn")
		return leader != nil && leader.ID == "node-b"
	}, waitTimeout, 10*time.Millisecond)
}

func TestService_DeactivateStopsEverything(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))

	listener := &recordingListener{}
	svc.AddListener(listener)
	svc.Activate()

	require.NoError(t, svc.RunForLeadership("sdn"))
	require.NoError(t, svc.RunForLeadership("routing"))
	require.Eventually(t, hasEvent(listener, LeaderElected, "node-a"),
		waitTimeout, 10*time.Millisecond)

	svc.Deactivate()

	assert.Empty(t, svc.Topics())
	assert.ErrorIs(t, svc.RunForLeadership("sdn"), ErrNotActivated)

	// Deactivate is idempotent.
	svc.Deactivate()
}

func TestService_ListenerAddRemove(t *testing.T) {
	t.Parallel()
	clus := memory.NewCluster()
	svc := newTestService(t, clus.Join(testNode("node-a")))
	svc.Activate()
	defer svc.Deactivate()

	listener := &recordingListener{}
	svc.AddListener(listener)
	svc.AddListener(listener)
	svc.RemoveListener(listener)
	svc.RemoveListener(listener)

	require.NoError(t, svc.RunForLeadership("sdn"))
	require.Eventually(t, func() bool {
		leader := svc.GetLeader("sdn")
		return leader != nil
	}, waitTimeout, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, listener.Events(), "removed listener must not be invoked")
}
