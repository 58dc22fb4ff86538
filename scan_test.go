package rediscluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestCursorCodecRoundTrip(t *testing.T) {
	cases := []struct {
		idx    uint8
		cursor uint64
	}{
		{0, 0}, {1, 0}, {3, 12345}, {255, 1 << 40},
	}
	for _, c := range cases {
		encoded := EncodeCursor(c.idx, c.cursor)
		gotIdx, gotCursor := DecodeCursor(encoded)
		assert.Equal(t, c.idx, gotIdx, "round trip of (%d, %d)", c.idx, c.cursor)
		assert.Equal(t, c.cursor, gotCursor, "round trip of (%d, %d)", c.idx, c.cursor)
	}
}

func newScanTestRouter(shards ...*fakeClient) *Router {
	topo := &Topology{
		clients:    make(map[NodeKey]SingleNodeClient),
		replicaMap: make(ReplicaMap),
		logger:     noopLogger{},
		closed:     make(map[NodeKey]bool),
		strategy:   &randomStrategy{},
	}
	for _, s := range shards {
		topo.clients[s.key] = s
		topo.primaryOrder = append(topo.primaryOrder, s.key)
	}
	cfg, _ := NewClusterConfig([]string{"redis://127.0.0.1:7000"})
	return &Router{
		cfg:       cfg,
		factory:   DefaultClientFactory,
		logger:    noopLogger{},
		topo:      topo,
		fanoutSem: semaphore.NewWeighted(4),
		closed:    make(chan struct{}),
	}
}

func TestScanAdvancesWithinOneShard(t *testing.T) {
	shard := newFakeClient(NodeKey{Host: "127.0.0.1", Port: 7000}, func(cmd string, args []interface{}) (interface{}, error) {
		return []interface{}{[]byte("42"), []interface{}{[]byte("key1"), []byte("key2")}}, nil
	})
	r := newScanTestRouter(shard)

	step, err := r.Scan(context.Background(), 0, "", 0)
	require.NoError(t, err)
	idx, raw := DecodeCursor(step.Cursor)
	assert.EqualValues(t, 0, idx)
	assert.EqualValues(t, 42, raw)
	assert.Len(t, step.Keys, 2)
}

func TestScanAdvancesAcrossShards(t *testing.T) {
	shard0 := newFakeClient(NodeKey{Host: "127.0.0.1", Port: 7000}, func(cmd string, args []interface{}) (interface{}, error) {
		return []interface{}{[]byte("0"), []interface{}{[]byte("from-shard-0")}}, nil
	})
	shard1 := newFakeClient(NodeKey{Host: "127.0.0.1", Port: 7001}, func(cmd string, args []interface{}) (interface{}, error) {
		return []interface{}{[]byte("0"), []interface{}{[]byte("from-shard-1")}}, nil
	})
	r := newScanTestRouter(shard0, shard1)

	step, err := r.Scan(context.Background(), 0, "", 0)
	require.NoError(t, err)
	require.Len(t, step.Keys, 1)
	assert.Equal(t, "from-shard-0", step.Keys[0])
	idx, raw := DecodeCursor(step.Cursor)
	assert.EqualValues(t, 1, idx, "cursor should advance to shard 1")
	assert.EqualValues(t, 0, raw)

	step2, err := r.Scan(context.Background(), step.Cursor, "", 0)
	require.NoError(t, err)
	require.Len(t, step2.Keys, 1)
	assert.Equal(t, "from-shard-1", step2.Keys[0])
	assert.Zero(t, step2.Cursor, "scan should be complete after the last shard")
}

func TestScanIteratorStopsAtCompletion(t *testing.T) {
	shard := newFakeClient(NodeKey{Host: "127.0.0.1", Port: 7000}, func(cmd string, args []interface{}) (interface{}, error) {
		return []interface{}{[]byte("0"), []interface{}{[]byte("onlykey")}}, nil
	})
	r := newScanTestRouter(shard)
	it := r.NewScanIterator("", 0)

	keys, more := it.Next(context.Background())
	require.True(t, more, "expected more=true on the first page")
	require.Len(t, keys, 1)
	assert.Equal(t, "onlykey", keys[0])

	_, more = it.Next(context.Background())
	assert.False(t, more, "expected more=false once the scan is complete")
	assert.NoError(t, it.Err())
}

func TestScanNoShards(t *testing.T) {
	r := newScanTestRouter()
	_, err := r.Scan(context.Background(), 0, "", 0)
	assert.Equal(t, ErrNoScanningClients, err)
}
