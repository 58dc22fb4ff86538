package rediscluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomStrategyFallsBackToPrimaryWithoutReplicas(t *testing.T) {
	topo := newTestTopology()
	lonely := NodeKey{Host: "127.0.0.1", Port: 9999}
	topo.clients[lonely] = newFakeClient(lonely, nil)

	s := &randomStrategy{}
	got, err := s.Select(topo, lonely)
	require.NoError(t, err)
	assert.Equal(t, lonely, got)
}

func TestRandomStrategyPicksAmongReplicas(t *testing.T) {
	topo := newTestTopology()
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	replica := NodeKey{Host: "127.0.0.1", Port: 7003}

	s := &randomStrategy{}
	got, err := s.Select(topo, primary)
	require.NoError(t, err)
	assert.Equal(t, replica, got)
}

func TestRandomWithPrimaryStrategyIncludesPrimary(t *testing.T) {
	topo := newTestTopology()
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	replica := NodeKey{Host: "127.0.0.1", Port: 7003}

	s := &randomWithPrimaryStrategy{}
	seenPrimary, seenReplica := false, false
	for i := 0; i < 50; i++ {
		got, err := s.Select(topo, primary)
		require.NoError(t, err)
		switch got {
		case primary:
			seenPrimary = true
		case replica:
			seenReplica = true
		default:
			t.Fatalf("unexpected candidate %v", got)
		}
	}
	assert.True(t, seenPrimary, "primary should be selected at least once across 50 draws")
	assert.True(t, seenReplica, "replica should be selected at least once across 50 draws")
}

func TestLatencyStrategyFallsBackToRandomWithoutSamples(t *testing.T) {
	topo := newTestTopology()
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	replica := NodeKey{Host: "127.0.0.1", Port: 7003}

	s := newLatencyStrategy(nil)
	got, err := s.Select(topo, primary)
	require.NoError(t, err)
	assert.Equal(t, replica, got, "with no samples and one replica, should pick it")
}

func TestLatencyStrategyPrefersLowerMedian(t *testing.T) {
	topo := newTestTopology()
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	fast := NodeKey{Host: "127.0.0.1", Port: 7003}
	slow := NodeKey{Host: "127.0.0.1", Port: 7004}
	topo.clients[slow] = newFakeClient(slow, nil)
	topo.replicaMap[primary] = []NodeKey{fast, slow}

	s := newLatencyStrategy(nil)
	for i := 0; i < 3; i++ {
		s.record(fast, 1)
		s.record(slow, 100)
	}

	got, err := s.Select(topo, primary)
	require.NoError(t, err)
	assert.Equal(t, fast, got)
}

func TestLatencyStrategyCloseStopsBackgroundLoop(t *testing.T) {
	s := newLatencyStrategy(nil)
	s.attach(newTestTopology(), nil)
	s.Close()
	assert.NotPanics(t, s.Close, "second Close must be idempotent")
	select {
	case <-s.doneCh:
	case <-time.After(time.Second):
		t.Fatal("probe loop did not exit after Close")
	}
}
