//go:build integration

package integration

import (
	"testing"

	"github.com/rekby/fixenv"
	"github.com/stretchr/testify/require"

	"controller-leadership/pkg/leadership"
)

// TestMain sets up package-scoped fixtures and runs tests
func TestMain(m *testing.M) {
	fixenv.RunTests(m)
}

// leaders returns the harnesses that currently believe they lead topic.
func leaders(topic string, nodes ...*ControllerHarness) []*ControllerHarness {
	var out []*ControllerHarness
	for _, node := range nodes {
		if node.IsLeader(topic) {
			out = append(out, node)
		}
	}
	return out
}

func TestCluster_ElectsExactlyOneLeader(t *testing.T) {
	env := fixenv.New(t)
	const topic = "election-basic"

	a := Controller(env, "node-a")
	b := Controller(env, "node-b")
	c := Controller(env, "node-c")

	for _, node := range []*ControllerHarness{a, b, c} {
		require.NoError(t, node.Service.RunForLeadership(topic))
	}

	// Exactly one instance wins, and every instance converges onto it.
	require.Eventually(t, func() bool {
		current := leaders(topic, a, b, c)
		if len(current) != 1 {
			return false
		}
		winner := current[0].Node.ID
		for _, node := range []*ControllerHarness{a, b, c} {
			leader := node.Service.GetLeader(topic)
			if leader == nil || leader.ID != winner {
				return false
			}
		}
		return true
	}, waitTimeout, pollTick)
}

func TestCluster_FollowersObserveHeartbeats(t *testing.T) {
	env := fixenv.New(t)
	const topic = "election-heartbeat"

	a := Controller(env, "node-a")
	b := Controller(env, "node-b")

	require.NoError(t, a.Service.RunForLeadership(topic))
	require.Eventually(t, func() bool { return a.IsLeader(topic) }, waitTimeout, pollTick)

	require.NoError(t, b.Service.RunForLeadership(topic))

	// The follower learns the leader from its broadcasts and keeps seeing
	// heartbeats.
	require.Eventually(t, func() bool {
		leader := b.Service.GetLeader(topic)
		return leader != nil && leader.ID == a.Node.ID
	}, waitTimeout, pollTick)
	require.Eventually(t, func() bool {
		return b.Recorder.Saw(leadership.LeaderReelected, a.Node.ID)
	}, waitTimeout, pollTick)
}

func TestCluster_LeaderHandoffOnWithdraw(t *testing.T) {
	env := fixenv.New(t)
	const topic = "election-handoff"

	a := Controller(env, "node-a")
	b := Controller(env, "node-b")

	require.NoError(t, a.Service.RunForLeadership(topic))
	require.Eventually(t, func() bool { return a.IsLeader(topic) }, waitTimeout, pollTick)

	require.NoError(t, b.Service.RunForLeadership(topic))

	// The incumbent withdraws: it announces the boot and the peer takes
	// over.
	require.NoError(t, a.Service.Withdraw(topic))

	require.Eventually(t, func() bool {
		return a.Recorder.Saw(leadership.LeaderBooted, a.Node.ID)
	}, waitTimeout, pollTick)
	require.Eventually(t, func() bool { return b.IsLeader(topic) }, waitTimeout, pollTick)
	require.Eventually(t, func() bool {
		return b.Recorder.Saw(leadership.LeaderElected, b.Node.ID)
	}, waitTimeout, pollTick)
}
