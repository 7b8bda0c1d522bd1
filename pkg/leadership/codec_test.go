package leadership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controller-leadership/pkg/cluster"
)

func TestJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	codec := JSONCodec{}

	events := []LeadershipEvent{
		{
			Type: LeaderElected,
			Subject: Leadership{
				Topic:  "sdn",
				Leader: cluster.ControllerNode{ID: "node-a", IP: "10.0.0.1", TCPPort: 9876},
				Epoch:  0,
			},
			TimeMillis: 1722550000000,
		},
		{
			Type:       LeaderReelected,
			Subject:    Leadership{Topic: "routing/bgp", Leader: cluster.ControllerNode{ID: "node-b"}},
			TimeMillis: 1,
		},
		{
			Type:       LeaderBooted,
			Subject:    Leadership{Topic: "sdn", Leader: cluster.ControllerNode{ID: "node-a"}},
			TimeMillis: 0,
		},
	}

	for _, event := range events {
		data, err := codec.Encode(event)
		require.NoError(t, err)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, event, decoded)
	}
}

func TestJSONCodec_DecodeGarbage(t *testing.T) {
	t.Parallel()
	codec := JSONCodec{}

	_, err := codec.Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestJSONCodec_DecodeUnknownType(t *testing.T) {
	t.Parallel()
	codec := JSONCodec{}

	_, err := codec.Decode([]byte(`{"type":"LEADER_CROWNED","subject":{"topic":"sdn","leader":{"id":"a"},"epoch":0},"timestamp":1}`))
	assert.Error(t, err)
}

func TestJSONCodec_DecodeEmptyTopic(t *testing.T) {
	t.Parallel()
	codec := JSONCodec{}

	_, err := codec.Decode([]byte(`{"type":"LEADER_ELECTED","subject":{"topic":"","leader":{"id":"a"},"epoch":0},"timestamp":1}`))
	assert.Error(t, err)
}
