package rediscluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Role is whether a NodeInfo describes a primary or a replica.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

// NodeInfo is one line of CLUSTER NODES output, parsed.
type NodeInfo struct {
	NodeKey       NodeKey
	ID            string
	Role          Role
	PrimaryID     string // empty for primaries
	Slots         [][2]int
	ReplicationID string
}

// IsPrimary reports whether this node is a primary: it has no PrimaryID and
// no "slave"/"replica" flag.
func (n *NodeInfo) IsPrimary() bool { return n.Role == RolePrimary }

// parseClusterNodes parses CLUSTER NODES text output into NodeInfos. Each
// line looks like:
//
//	<id> <ip:port@cport> <flags> <master> <ping-sent> <pong-recv> <config-epoch> <link-state> <slot> <slot> ...
//
// Grounded on boomballa-df2redis's internal/cluster/parser.go, adapted to
// build NodeInfo (role/primary-id/replication-id) instead of that repo's
// flatter struct.
func parseClusterNodes(output string) ([]*NodeInfo, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	nodes := make([]*NodeInfo, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, fmt.Errorf("rediscluster: invalid CLUSTER NODES line: %s", line)
		}

		key, err := ParseNodeKey(normalizeClusterNodesAddr(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("rediscluster: invalid CLUSTER NODES address in line %q: %w", line, err)
		}

		flags := strings.Split(fields[2], ",")
		node := &NodeInfo{
			NodeKey:       key,
			ID:            fields[0],
			Role:          RolePrimary,
			ReplicationID: fields[6],
		}
		for _, f := range flags {
			if f == "slave" || f == "replica" {
				node.Role = RoleReplica
			}
		}
		if fields[3] != "-" {
			node.PrimaryID = fields[3]
			node.Role = RoleReplica
		}

		for i := 8; i < len(fields); i++ {
			slotField := fields[i]
			if strings.HasPrefix(slotField, "[") {
				continue // importing/migrating marker, not a stable assignment
			}
			slotRange, err := parseSlotRange(slotField)
			if err != nil {
				return nil, fmt.Errorf("rediscluster: bad slot range %q: %w", slotField, err)
			}
			node.Slots = append(node.Slots, slotRange)
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// normalizeClusterNodesAddr strips the "@busport" suffix CLUSTER NODES
// appends to the client-facing address.
func normalizeClusterNodesAddr(addr string) string {
	if idx := strings.Index(addr, "@"); idx != -1 {
		addr = addr[:idx]
	}
	return addr
}

func parseSlotRange(s string) ([2]int, error) {
	parts := strings.SplitN(s, "-", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return [2]int{}, err
	}
	if len(parts) == 1 {
		return [2]int{start, start}, nil
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return [2]int{}, err
	}
	return [2]int{start, end}, nil
}

// SlotMap maps every owned slot to its primary's NodeKey.
type SlotMap [NumSlots]NodeKey

// ReplicaMap maps a primary's NodeKey to its known replicas.
type ReplicaMap map[NodeKey][]NodeKey

// Topology is the live, read-mostly view of the cluster: one client per
// discovered endpoint, the slot map, the replica map, and the selected
// ReplicaSelectionStrategy.
type Topology struct {
	mu         sync.RWMutex
	clients    map[NodeKey]SingleNodeClient
	slotMap    SlotMap
	replicaMap ReplicaMap
	strategy   ReplicaSelectionStrategy
	logger     Logger

	// primaryOrder is a stable, sorted-by-key ordering of primary NodeKeys,
	// fixed at Load time. SCAN cursors encode an index into this ordering,
	// so it must not be re-sorted or rebuilt for the lifetime of a Topology
	// instance.
	primaryOrder []NodeKey

	closeOnce sync.Once
	closeMu   sync.Mutex
	closed    map[NodeKey]bool
}

// Load discovers a cluster's topology from cfg's seed list:
//
//  1. try CLUSTER NODES against each seed, under cfg.slowCommandTimeout(),
//     stopping at the first that answers;
//  2. parse the NodeInfos, derive the SlotMap (primaries only) and the
//     ReplicaMap;
//  3. apply cfg.FixedHostname if set;
//  4. build one SingleNodeClient per discovered NodeKey via factory;
//  5. instantiate the configured ReplicaSelectionStrategy.
func Load(ctx context.Context, cfg *ClusterConfig, factory ClientFactory, logger Logger) (*Topology, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if factory == nil {
		factory = DefaultClientFactory
	}

	seeds := cfg.seeds()
	if len(seeds) == 0 {
		return nil, newInvalidConfigError("`nodes` option is empty")
	}

	var nodeInfos []*NodeInfo
	causes := make(map[string]error, len(seeds))
	for _, seed := range seeds {
		key := seed.nodeKey()
		seedClient, err := factory(ctx, key, seed, cfg)
		if err != nil {
			causes[key.String()] = err
			continue
		}
		tctx, cancel := context.WithTimeout(ctx, cfg.slowCommandTimeout())
		reply, err := seedClient.Do(tctx, "CLUSTER", "NODES")
		cancel()
		seedClient.Close()
		if err != nil {
			causes[key.String()] = err
			continue
		}
		text, err := toString(reply)
		if err != nil {
			causes[key.String()] = err
			continue
		}
		parsed, err := parseClusterNodes(text)
		if err != nil {
			causes[key.String()] = err
			continue
		}
		nodeInfos = parsed
		break
	}
	if nodeInfos == nil {
		return nil, &InitialSetupError{Causes: causes}
	}

	fixedHost := cfg.FixedHostname
	if fixedHost != "" {
		for _, n := range nodeInfos {
			n.NodeKey.Host = fixedHost
		}
	}

	t := &Topology{
		clients:    make(map[NodeKey]SingleNodeClient, len(nodeInfos)),
		replicaMap: make(ReplicaMap),
		logger:     logger,
		closed:     make(map[NodeKey]bool, len(nodeInfos)),
	}

	byID := make(map[string]NodeKey, len(nodeInfos))
	for _, n := range nodeInfos {
		byID[n.ID] = n.NodeKey
	}

	learned := make([]Endpoint, 0, len(nodeInfos))
	for _, n := range nodeInfos {
		ep := Endpoint{Host: n.NodeKey.Host, Port: n.NodeKey.Port}
		learned = append(learned, ep)
		client, err := factory(ctx, n.NodeKey, ep, cfg)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("rediscluster: cannot connect to discovered node %s: %w", n.NodeKey, err)
		}
		t.clients[n.NodeKey] = client

		if n.IsPrimary() {
			for _, rng := range n.Slots {
				for s := rng[0]; s <= rng[1] && s < NumSlots; s++ {
					t.slotMap[s] = n.NodeKey
				}
			}
		}
	}
	for _, n := range nodeInfos {
		if !n.IsPrimary() {
			if primaryKey, ok := byID[n.PrimaryID]; ok {
				t.replicaMap[primaryKey] = append(t.replicaMap[primaryKey], n.NodeKey)
			}
		}
	}
	cfg.UpdateNode(learned)

	seenPrimary := make(map[NodeKey]bool)
	for _, key := range t.slotMap {
		if key.IsZero() || seenPrimary[key] {
			continue
		}
		seenPrimary[key] = true
		t.primaryOrder = append(t.primaryOrder, key)
	}
	sort.Slice(t.primaryOrder, func(i, j int) bool {
		return t.primaryOrder[i].String() < t.primaryOrder[j].String()
	})

	strategy, err := newReplicaSelectionStrategy(cfg.ReplicaAffinity, cfg)
	if err != nil {
		t.Close()
		return nil, err
	}
	t.strategy = strategy
	if ls, ok := strategy.(*latencyStrategy); ok {
		ls.attach(t, factory)
	}

	return t, nil
}

func toString(reply interface{}) (string, error) {
	switch v := reply.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("rediscluster: unexpected CLUSTER NODES reply type %T", reply)
	}
}

// ClientForSlot returns the client that should serve slot. If needPrimary,
// it's always the slot's primary; otherwise the configured
// ReplicaSelectionStrategy decides.
func (t *Topology) ClientForSlot(slot Slot, needPrimary bool) (SingleNodeClient, error) {
	t.mu.RLock()
	primary := t.slotMap[slot]
	t.mu.RUnlock()
	if primary.IsZero() {
		return nil, errReloadNeeded
	}
	if needPrimary {
		return t.FindBy(primary)
	}
	target, err := t.strategy.Select(t, primary)
	if err != nil {
		return nil, err
	}
	return t.FindBy(target)
}

// FindBy returns the client for key, or errReloadNeeded if key is unknown to
// this Topology.
func (t *Topology) FindBy(key NodeKey) (SingleNodeClient, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[key]
	if !ok {
		return nil, errReloadNeeded
	}
	return c, nil
}

// Primaries returns one client per primary.
func (t *Topology) Primaries() []SingleNodeClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[NodeKey]bool)
	var out []SingleNodeClient
	for _, key := range t.slotMap {
		if key.IsZero() || seen[key] {
			continue
		}
		seen[key] = true
		if c, ok := t.clients[key]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Replicas returns one client per known replica.
func (t *Topology) Replicas() []SingleNodeClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []SingleNodeClient
	for _, replicas := range t.replicaMap {
		for _, key := range replicas {
			if c, ok := t.clients[key]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// All returns one client per discovered node, primary or replica.
func (t *Topology) All() []SingleNodeClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SingleNodeClient, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

// ClientsForScanning returns one client per shard in the stable order SCAN
// cursors index into. The order is fixed at Load time and does not change
// for the life of this Topology.
func (t *Topology) ClientsForScanning() []SingleNodeClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SingleNodeClient, 0, len(t.primaryOrder))
	for _, key := range t.primaryOrder {
		if c, ok := t.clients[key]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ReadServingSet returns replicas when any exist, falling back to the
// primary of any shard lacking a replica.
func (t *Topology) ReadServingSet() []SingleNodeClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[NodeKey]bool)
	var out []SingleNodeClient
	for _, primary := range t.slotMap {
		if primary.IsZero() || seen[primary] {
			continue
		}
		seen[primary] = true
		replicas := t.replicaMap[primary]
		if len(replicas) == 0 {
			if c, ok := t.clients[primary]; ok {
				out = append(out, c)
			}
			continue
		}
		for _, key := range replicas {
			if c, ok := t.clients[key]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// UpdateSlot sets the slot map entry for slot to key (MOVED handling). If
// key is unknown to this Topology, it returns errReloadNeeded so the Router
// can perform a full refresh before retrying.
func (t *Topology) UpdateSlot(slot Slot, key NodeKey) error {
	t.mu.Lock()
	_, known := t.clients[key]
	if known {
		t.slotMap[slot] = key
	}
	t.mu.Unlock()
	if !known {
		return errReloadNeeded
	}
	return nil
}

// Sample returns an arbitrary primary client, used when no key can be
// derived for a command.
func (t *Topology) Sample() (SingleNodeClient, error) {
	primaries := t.Primaries()
	if len(primaries) == 0 {
		return nil, errReloadNeeded
	}
	return primaries[0], nil
}

// replicasOf exposes the replica set of a primary to the
// ReplicaSelectionStrategy implementations.
func (t *Topology) replicasOf(primary NodeKey) []NodeKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]NodeKey(nil), t.replicaMap[primary]...)
}

// Close closes every underlying client exactly once, idempotently.
func (t *Topology) Close() error {
	if t.strategy != nil {
		t.strategy.Close()
	}
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	var firstErr error
	for key, c := range t.clients {
		if t.closed[key] {
			continue
		}
		t.closed[key] = true
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ID concatenates the sorted string form of every node's identity, used by
// Router.ID.
func (t *Topology) ID() string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.clients))
	for k := range t.clients {
		keys = append(keys, k.String())
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
