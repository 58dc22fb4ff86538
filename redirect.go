package rediscluster

import (
	"context"
	"strconv"
	"strings"

	"github.com/gomodule/redigo/redis"
)

// RedirKind is whether a redis.Error carries a MOVED or ASK redirection.
type RedirKind int

const (
	RedirNone RedirKind = iota
	RedirMoved
	RedirAsk
)

// RedirInfo is a parsed MOVED/ASK reply.
type RedirInfo struct {
	Kind RedirKind
	Slot Slot
	Addr string
	Raw  string
}

// ParseRedirInfo inspects err for a MOVED/ASK application error and returns
// the parsed redirection, or nil if err isn't one. Adapted from the
// teacher's redirconn.go, which did the same string-prefix parse against
// redigo's redis.Error.
func ParseRedirInfo(err error) *RedirInfo {
	if err == nil {
		return nil
	}
	redisErr, ok := err.(redis.Error)
	if !ok {
		return nil
	}
	msg := string(redisErr)

	fields := strings.Fields(msg)
	if len(fields) != 3 {
		return nil
	}

	var kind RedirKind
	switch fields[0] {
	case "MOVED":
		kind = RedirMoved
	case "ASK":
		kind = RedirAsk
	default:
		return nil
	}

	slotNum, parseErr := strconv.Atoi(fields[1])
	if parseErr != nil {
		return nil
	}

	return &RedirInfo{Kind: kind, Slot: Slot(slotNum), Addr: fields[2], Raw: msg}
}

// maxRedirectRetries bounds the MOVED/ASK retry loop in trySend: three hops
// covers a reslot in progress without looping forever against a misbehaving
// or flapping cluster.
const maxRedirectRetries = 3

// trySend issues one command against the slot/primary-vs-replica target
// Router.Call has already picked, following MOVED/ASK redirection up to
// maxRedirectRetries times:
//
//   - MOVED: the slot moved permanently. UpdateSlot records the new owner
//     and the command is resent there. If the owner is unknown to this
//     Topology, trySend requests a full refresh via the refresh callback
//     and returns the MOVED error without retrying.
//   - ASK: the slot is mid-migration; ASKING is sent once on the target
//     node before resending, without mutating the slot map. If the target
//     is unknown, trySend requests a refresh and returns the ASK error
//     without retrying.
//   - any other error: if it looks like a connection failure, trySend asks
//     for a refresh and returns the original error without further retries
//     (the caller may retry at a higher level); a well-formed application
//     error (including a non-redirect CommandError) is returned verbatim.
//
// If the retry budget is exhausted while the cluster keeps redirecting,
// trySend returns the last MOVED/ASK error unchanged rather than
// synthesizing a new one.
func trySend(
	ctx context.Context,
	topo *Topology,
	client SingleNodeClient,
	requestRefresh func(hint *NodeKey),
	cmd string,
	args []interface{},
) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRedirectRetries; attempt++ {
		reply, err := client.Do(ctx, cmd, args...)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if redir := ParseRedirInfo(err); redir != nil {
			targetKey, parseErr := ParseNodeKey(redir.Addr)
			if parseErr != nil {
				return nil, err
			}

			switch redir.Kind {
			case RedirMoved:
				if updateErr := topo.UpdateSlot(redir.Slot, targetKey); updateErr != nil {
					requestRefresh(&targetKey)
					return nil, err
				}
				next, findErr := topo.FindBy(targetKey)
				if findErr != nil {
					requestRefresh(&targetKey)
					return nil, err
				}
				client = next
				continue

			case RedirAsk:
				next, findErr := topo.FindBy(targetKey)
				if findErr != nil {
					requestRefresh(&targetKey)
					return nil, err
				}
				if _, askErr := next.Do(ctx, "ASKING"); askErr != nil {
					return nil, askErr
				}
				client = next
				continue
			}
		}

		if isConnectionError(err) {
			requestRefresh(nil)
			return nil, err
		}

		return nil, err
	}

	return nil, lastErr
}
