// Package rediscluster is a routing-only Redis Cluster client core: given a
// set of seed endpoints, it discovers the cluster's slot layout via CLUSTER
// NODES, routes each command to the node owning its key's hash slot, and
// follows MOVED/ASK redirection and server-initiated resharding without
// requiring the caller to track topology itself.
//
// It deliberately leaves RESP connection handling to
// github.com/gomodule/redigo (via the SingleNodeClient interface) and does
// not implement pipelining, transactions, pub/sub, or cross-slot multi-key
// commands; see SPEC_FULL.md for the full scope.
package rediscluster
