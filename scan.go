package rediscluster

import (
	"context"

	"github.com/gomodule/redigo/redis"
)

// clientIndexBits is the width of the cursor's client-index field: 8 bits
// addresses up to 256 shards, matching ErrTooManyScanningClients.
const clientIndexBits = 8

// EncodeCursor packs a shard's own cursor value and its index into the
// stable scanning order into one cursor the caller can round-trip opaquely.
func EncodeCursor(clientIndex uint8, rawCursor uint64) uint64 {
	return (rawCursor << clientIndexBits) | uint64(clientIndex)
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor uint64) (clientIndex uint8, rawCursor uint64) {
	return uint8(cursor & 0xff), cursor >> clientIndexBits
}

// ScanStep is one page of a cluster-wide SCAN: Keys from the current shard,
// and the Cursor to pass to the next call (0 once every shard is exhausted).
type ScanStep struct {
	Cursor uint64
	Keys   []string
}

// Scan advances a cluster-wide keyspace scan by one page. A caller
// starts with cursor 0 and keeps calling Scan with the returned Cursor until
// it comes back 0. Internally, the cursor addresses one shard at a time in
// Topology.ClientsForScanning's stable order: when a shard's own SCAN
// cursor returns to 0, Scan advances to the next shard rather than
// reporting completion, so the caller sees one continuous iteration instead
// of one per shard.
func (r *Router) Scan(ctx context.Context, cursor uint64, match string, count int) (ScanStep, error) {
	select {
	case <-r.closed:
		return ScanStep{}, ErrClosed
	default:
	}

	clients := r.currentTopology().ClientsForScanning()
	if len(clients) == 0 {
		return ScanStep{}, ErrNoScanningClients
	}
	if len(clients) > 1<<clientIndexBits {
		return ScanStep{}, ErrTooManyScanningClients
	}

	clientIndex, rawCursor := DecodeCursor(cursor)

	for int(clientIndex) < len(clients) {
		args := []interface{}{rawCursor}
		if match != "" {
			args = append(args, "MATCH", match)
		}
		if count > 0 {
			args = append(args, "COUNT", count)
		}

		reply, err := clients[clientIndex].Do(ctx, "SCAN", args...)
		if err != nil {
			return ScanStep{}, err
		}

		values, err := redis.Values(reply, nil)
		if err != nil || len(values) != 2 {
			return ScanStep{}, ErrNoScanningClients
		}
		nextRaw, err := redis.Uint64(values[0], nil)
		if err != nil {
			return ScanStep{}, err
		}
		keys, err := redis.Strings(values[1], nil)
		if err != nil {
			return ScanStep{}, err
		}

		if nextRaw != 0 {
			return ScanStep{Cursor: EncodeCursor(clientIndex, nextRaw), Keys: keys}, nil
		}

		// This shard is exhausted; advance to the next one. If it produced
		// no keys on its last page, keep going rather than handing the
		// caller an empty page with a nonzero cursor.
		clientIndex++
		rawCursor = 0
		if len(keys) > 0 {
			if int(clientIndex) >= len(clients) {
				return ScanStep{Cursor: 0, Keys: keys}, nil
			}
			return ScanStep{Cursor: EncodeCursor(clientIndex, 0), Keys: keys}, nil
		}
	}

	return ScanStep{Cursor: 0}, nil
}

// ScanIterator walks a cluster-wide SCAN to completion, one page at a time,
// so callers don't have to thread the cursor by hand.
type ScanIterator struct {
	r       *Router
	match   string
	count   int
	cursor  uint64
	started bool
	err     error
}

// NewScanIterator returns a ScanIterator over the full keyspace.
func (r *Router) NewScanIterator(match string, count int) *ScanIterator {
	return &ScanIterator{r: r, match: match, count: count}
}

// Next returns the next page of keys. The second return value is false once
// the scan is complete (mirroring bufio.Scanner's done signal); any error
// encountered along the way is available via Err.
func (it *ScanIterator) Next(ctx context.Context) ([]string, bool) {
	if it.started && it.cursor == 0 {
		return nil, false
	}
	it.started = true
	step, err := it.r.Scan(ctx, it.cursor, it.match, it.count)
	if err != nil {
		it.err = err
		return nil, false
	}
	it.cursor = step.Cursor
	return step.Keys, true
}

// Err returns the error, if any, that stopped iteration.
func (it *ScanIterator) Err() error { return it.err }

// SScan, HScan, and ZScan are per-key collection scans (SSCAN/HSCAN/ZSCAN):
// unlike SCAN they target the single shard owning key, so they need no
// cursor bit-packing and route the same way as any other single-key command.

func (r *Router) SScan(ctx context.Context, key string, cursor uint64, match string, count int) (ScanStep, error) {
	return r.collectionScan(ctx, "SSCAN", key, cursor, match, count)
}

func (r *Router) HScan(ctx context.Context, key string, cursor uint64, match string, count int) (ScanStep, error) {
	return r.collectionScan(ctx, "HSCAN", key, cursor, match, count)
}

func (r *Router) ZScan(ctx context.Context, key string, cursor uint64, match string, count int) (ScanStep, error) {
	return r.collectionScan(ctx, "ZSCAN", key, cursor, match, count)
}

func (r *Router) collectionScan(ctx context.Context, cmd, key string, cursor uint64, match string, count int) (ScanStep, error) {
	args := []interface{}{key, cursor}
	if match != "" {
		args = append(args, "MATCH", match)
	}
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	reply, err := r.Call(ctx, cmd, args...)
	if err != nil {
		return ScanStep{}, err
	}
	values, err := redis.Values(reply, nil)
	if err != nil || len(values) != 2 {
		return ScanStep{}, ErrNoScanningClients
	}
	next, err := redis.Uint64(values[0], nil)
	if err != nil {
		return ScanStep{}, err
	}
	keys, err := redis.Strings(values[1], nil)
	if err != nil {
		return ScanStep{}, err
	}
	return ScanStep{Cursor: next, Keys: keys}, nil
}
