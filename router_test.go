package rediscluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

// newFullTestTopology assigns a single primary (with one replica) every
// slot, so any key routes deterministically without needing a key crafted
// to hash to a specific slot.
func newFullTestTopology(primaryHandler, replicaHandler func(cmd string, args []interface{}) (interface{}, error)) (*Topology, *fakeClient, *fakeClient) {
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	replica := NodeKey{Host: "127.0.0.1", Port: 7003}

	pc := newFakeClient(primary, primaryHandler)
	rc := newFakeClient(replica, replicaHandler)

	topo := &Topology{
		clients:    map[NodeKey]SingleNodeClient{primary: pc, replica: rc},
		replicaMap: ReplicaMap{primary: {replica}},
		logger:     noopLogger{},
		closed:     make(map[NodeKey]bool),
		strategy:   &randomStrategy{},
	}
	for i := range topo.slotMap {
		topo.slotMap[i] = primary
	}
	topo.primaryOrder = []NodeKey{primary}
	return topo, pc, rc
}

func newTestRouter(topo *Topology) *Router {
	cfg, _ := NewClusterConfig([]string{"redis://127.0.0.1:7000"}, WithMaxFanoutWorkers(4))
	return &Router{
		cfg:       cfg,
		factory:   DefaultClientFactory,
		logger:    noopLogger{},
		topo:      topo,
		fanoutSem: semaphore.NewWeighted(4),
		closed:    make(chan struct{}),
	}
}

func TestRouterCallRejected(t *testing.T) {
	topo, _, _ := newFullTestTopology(nil, nil)
	r := newTestRouter(topo)
	_, err := r.Call(context.Background(), "SHUTDOWN")
	_, ok := err.(*OrchestrationCommandNotSupportedError)
	assert.True(t, ok, "got %T (%v), want *OrchestrationCommandNotSupportedError", err, err)
}

func TestRouterCallAmbiguous(t *testing.T) {
	topo, _, _ := newFullTestTopology(nil, nil)
	r := newTestRouter(topo)
	_, err := r.Call(context.Background(), "MULTI")
	_, ok := err.(*AmbiguousNodeError)
	assert.True(t, ok, "got %T (%v), want *AmbiguousNodeError", err, err)
}

func TestRouterCallSingleRoutesToPrimary(t *testing.T) {
	topo, pc, rc := newFullTestTopology(
		func(cmd string, args []interface{}) (interface{}, error) { return "OK", nil },
		func(cmd string, args []interface{}) (interface{}, error) { return "OK", nil },
	)
	r := newTestRouter(topo)
	reply, err := r.Call(context.Background(), "SET", "k", "v")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
	assert.Equal(t, 1, pc.callCount())
	assert.Equal(t, 0, rc.callCount(), "SET must go to primary")
}

func TestRouterCallReadRoutesToReplicaWhenEnabled(t *testing.T) {
	topo, pc, rc := newFullTestTopology(
		func(cmd string, args []interface{}) (interface{}, error) { return []byte("v"), nil },
		func(cmd string, args []interface{}) (interface{}, error) { return []byte("v"), nil },
	)
	r := newTestRouter(topo)
	r.cfg.ReplicaEnabled = true

	_, err := r.Call(context.Background(), "GET", "k")
	require.NoError(t, err)
	assert.Equal(t, 1, rc.callCount())
	assert.Equal(t, 0, pc.callCount())
}

func TestRouterCallFollowsMovedToKnownNode(t *testing.T) {
	moved := false
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	other := NodeKey{Host: "127.0.0.1", Port: 7005}

	topo, pc, _ := newFullTestTopology(
		func(cmd string, args []interface{}) (interface{}, error) {
			if !moved {
				moved = true
				return nil, redisMovedError(200, other)
			}
			return "OK", nil
		},
		nil,
	)
	otherClient := newFakeClient(other, func(cmd string, args []interface{}) (interface{}, error) {
		return "OK-FROM-OTHER", nil
	})
	topo.clients[other] = otherClient

	r := newTestRouter(topo)
	reply, err := r.Call(context.Background(), "SET", "k", "v")
	require.NoError(t, err)
	assert.Equal(t, "OK-FROM-OTHER", reply, "should have followed MOVED")
	assert.Equal(t, other, topo.slotMap[200])
	assert.Equal(t, 1, pc.callCount(), "only the first attempt should reach the old primary")
}

func TestRouterCallAllPrimariesFansOut(t *testing.T) {
	p1 := NodeKey{Host: "127.0.0.1", Port: 7000}
	p2 := NodeKey{Host: "127.0.0.1", Port: 7001}
	c1 := newFakeClient(p1, func(cmd string, args []interface{}) (interface{}, error) { return "OK", nil })
	c2 := newFakeClient(p2, func(cmd string, args []interface{}) (interface{}, error) { return "OK", nil })

	topo := &Topology{
		clients:    map[NodeKey]SingleNodeClient{p1: c1, p2: c2},
		replicaMap: make(ReplicaMap),
		logger:     noopLogger{},
		closed:     make(map[NodeKey]bool),
		strategy:   &randomStrategy{},
	}
	half := NumSlots / 2
	for i := 0; i < half; i++ {
		topo.slotMap[i] = p1
	}
	for i := half; i < NumSlots; i++ {
		topo.slotMap[i] = p2
	}

	r := newTestRouter(topo)
	reply, err := r.Call(context.Background(), "FLUSHALL")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
	assert.Equal(t, 1, c1.callCount())
	assert.Equal(t, 1, c2.callCount())
}

func TestRouterCloseIsIdempotent(t *testing.T) {
	topo, _, _ := newFullTestTopology(nil, nil)
	r := newTestRouter(topo)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err := r.Call(context.Background(), "GET", "k")
	assert.Equal(t, ErrClosed, err)
}
