package rediscluster

import (
	"errors"
	"fmt"
)

// InvalidClientConfigError reports malformed configuration: an empty seed
// list, an unsupported endpoint scheme, or a non-integer db/port.
type InvalidClientConfigError struct {
	Msg string
}

func (e *InvalidClientConfigError) Error() string {
	return "rediscluster: invalid client config: " + e.Msg
}

func newInvalidConfigError(format string, args ...interface{}) error {
	return &InvalidClientConfigError{Msg: fmt.Sprintf(format, args...)}
}

// InitialSetupError is raised when no seed endpoint could be reached (or all
// of them returned a parse error) during initial topology discovery. Causes
// carries one error per seed that was tried.
type InitialSetupError struct {
	Causes map[string]error
}

func (e *InitialSetupError) Error() string {
	msg := "rediscluster: initial setup failed, no seed reachable:"
	for addr, cause := range e.Causes {
		msg += fmt.Sprintf(" [%s: %s]", addr, cause)
	}
	return msg
}

func (e *InitialSetupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Causes))
	for _, cause := range e.Causes {
		errs = append(errs, cause)
	}
	return errs
}

// OrchestrationCommandNotSupportedError is returned for cluster orchestration
// commands (reshard, failover, addslots, ...) and other rejected verbs; the
// core routes commands, it does not implement cluster administration.
type OrchestrationCommandNotSupportedError struct {
	Command string
}

func (e *OrchestrationCommandNotSupportedError) Error() string {
	return fmt.Sprintf("rediscluster: command %q is not supported by the cluster router (orchestration command)", e.Command)
}

// AmbiguousNodeError is returned for transaction verbs (MULTI/EXEC/DISCARD/
// UNWATCH) used outside of a transactional wrapper this core does not
// provide: there is no single node these commands can be unambiguously
// routed to.
type AmbiguousNodeError struct {
	Command string
}

func (e *AmbiguousNodeError) Error() string {
	return fmt.Sprintf("rediscluster: command %q cannot be routed unambiguously to a single node", e.Command)
}

// errReloadNeeded is an internal sentinel: it signals that a Topology
// operation referenced a NodeKey the Topology doesn't have a client for, and
// that the caller (the Router) must perform a full refresh before retrying.
var errReloadNeeded = errors.New("rediscluster: node unknown to current topology, reload needed")

// ErrNoScanningClients is returned by Router.Scan when the current topology
// has no shard to scan, and by Router.Scan and the collection scans when a
// reply is not a two-element [cursor, keys] array. A cursor whose client
// index is past the last shard is not an error: Scan treats it as a
// finished iteration and returns cursor 0.
var ErrNoScanningClients = errors.New("rediscluster: no scanning clients available")

// ErrTooManyScanningClients is returned when a cluster has more shards than
// the cursor's client-index field can address.
var ErrTooManyScanningClients = errors.New("rediscluster: more than 256 scanning clients, widen the cursor client-index field")

// ErrClosed is returned by Router operations performed after Close.
var ErrClosed = errors.New("rediscluster: router is closed")
