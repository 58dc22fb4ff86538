package rediscluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleClusterNodes = `
07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected
67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922
292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003@31003 master - 0 1426238318243 3 connected 10923-16383
6ec23923021cf3ffec133f2a3f3ed9f6e1b0c6ee 127.0.0.1:30005@31005 slave 67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 0 1426238316232 5 connected
e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001@31001 myself,master - 0 0 1 connected 0-5460
`

func TestParseClusterNodes(t *testing.T) {
	nodes, err := parseClusterNodes(sampleClusterNodes)
	require.NoError(t, err)
	require.Len(t, nodes, 5)

	byAddr := make(map[string]*NodeInfo, len(nodes))
	for _, n := range nodes {
		byAddr[n.NodeKey.String()] = n
	}

	primary1 := byAddr["127.0.0.1:30001"]
	require.NotNil(t, primary1)
	assert.True(t, primary1.IsPrimary())
	require.Len(t, primary1.Slots, 1)
	assert.Equal(t, [2]int{0, 5460}, primary1.Slots[0])

	replica := byAddr["127.0.0.1:30004"]
	require.NotNil(t, replica)
	assert.False(t, replica.IsPrimary())
	assert.Equal(t, "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca", replica.PrimaryID)
}

func TestParseClusterNodesStripsBusPort(t *testing.T) {
	nodes, err := parseClusterNodes(sampleClusterNodes)
	require.NoError(t, err)
	for _, n := range nodes {
		assert.NotEmpty(t, n.NodeKey.Host, "%+v", n.NodeKey)
		assert.NotZero(t, n.NodeKey.Port, "%+v", n.NodeKey)
	}
}

func TestParseClusterNodesRejectsMalformedLine(t *testing.T) {
	_, err := parseClusterNodes("not enough fields")
	assert.Error(t, err)
}

func newTestTopology() *Topology {
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	replica := NodeKey{Host: "127.0.0.1", Port: 7003}

	topo := &Topology{
		clients:    make(map[NodeKey]SingleNodeClient),
		replicaMap: make(ReplicaMap),
		logger:     noopLogger{},
		closed:     make(map[NodeKey]bool),
		strategy:   &randomStrategy{},
	}
	topo.clients[primary] = newFakeClient(primary, nil)
	topo.clients[replica] = newFakeClient(replica, nil)
	topo.slotMap[100] = primary
	topo.replicaMap[primary] = []NodeKey{replica}
	topo.primaryOrder = []NodeKey{primary}
	return topo
}

func TestTopologyUpdateSlotKnownNode(t *testing.T) {
	topo := newTestTopology()
	replica := NodeKey{Host: "127.0.0.1", Port: 7003}
	require.NoError(t, topo.UpdateSlot(100, replica))
	assert.Equal(t, replica, topo.slotMap[100])
}

func TestTopologyUpdateSlotUnknownNodeNeedsReload(t *testing.T) {
	topo := newTestTopology()
	unknown := NodeKey{Host: "10.0.0.9", Port: 7999}
	err := topo.UpdateSlot(100, unknown)
	assert.Equal(t, errReloadNeeded, err)
}

func TestTopologyFindByUnknown(t *testing.T) {
	topo := newTestTopology()
	_, err := topo.FindBy(NodeKey{Host: "nope", Port: 1})
	assert.Equal(t, errReloadNeeded, err)
}

func TestTopologyCloseIsIdempotent(t *testing.T) {
	topo := newTestTopology()
	require.NoError(t, topo.Close())
	require.NoError(t, topo.Close())
	for key, c := range topo.clients {
		fc := c.(*fakeClient)
		assert.Equal(t, 1, fc.closeErrs, "client %v closed more than once", key)
	}
}

func TestTopologyClientForSlotNeedsPrimary(t *testing.T) {
	topo := newTestTopology()
	primary := NodeKey{Host: "127.0.0.1", Port: 7000}
	client, err := topo.ClientForSlot(100, true)
	require.NoError(t, err)
	assert.Equal(t, primary, client.NodeKey())
}

func TestTopologyClientForSlotUnassigned(t *testing.T) {
	topo := newTestTopology()
	_, err := topo.ClientForSlot(1, true)
	assert.Equal(t, errReloadNeeded, err)
}
