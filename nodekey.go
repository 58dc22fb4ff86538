package rediscluster

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKey identifies a single cluster endpoint by host and port. It is the
// identity used throughout the Topology: slot maps, replica maps and the
// per-node client registry are all keyed on NodeKey.
type NodeKey struct {
	Host string
	Port uint16
}

// String renders the NodeKey in the canonical "host:port" form.
func (k NodeKey) String() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

// IsZero reports whether k is the zero value, used as the "unassigned slot"
// marker inside SlotMap.
func (k NodeKey) IsZero() bool {
	return k.Host == "" && k.Port == 0
}

// ParseNodeKey parses a "host:port" string, as found in CLUSTER NODES output
// and in MOVED/ASK redirection replies.
func ParseNodeKey(s string) (NodeKey, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return NodeKey{}, fmt.Errorf("rediscluster: invalid node address %q", s)
	}
	host := s[:idx]
	port, err := strconv.ParseUint(s[idx+1:], 10, 16)
	if err != nil {
		return NodeKey{}, fmt.Errorf("rediscluster: invalid node address %q: %w", s, err)
	}
	return NodeKey{Host: host, Port: uint16(port)}, nil
}
