package rediscluster

import (
	"fmt"
	"sort"

	"github.com/gomodule/redigo/redis"
)

// aggregate merges the per-node replies of a fanned-out command according
// to agg. Every branch tolerates replies of the concrete types redigo
// returns (int64, []byte, string, []interface{}).
func aggregate(agg Aggregator, replies []interface{}) (interface{}, error) {
	switch agg {
	case AggFirst, AggNone:
		if len(replies) == 0 {
			return nil, nil
		}
		return replies[0], nil

	case AggSum:
		return aggregateSum(replies)

	case AggSortedList:
		return aggregateSortedList(replies)

	case AggListPerNode:
		return replies, nil

	case AggConcatSorted:
		return aggregateFlatten(replies, true, false)

	case AggFlatten:
		return aggregateFlatten(replies, false, false)

	case AggFlattenUniqueSorted:
		return aggregateFlatten(replies, true, true)

	case AggMergeMapsSum:
		return aggregateMergeMapsSum(replies)

	default:
		return nil, fmt.Errorf("rediscluster: unknown aggregator %d", agg)
	}
}

func aggregateSum(replies []interface{}) (interface{}, error) {
	var total int64
	for _, r := range replies {
		n, err := redis.Int64(r, nil)
		if err != nil {
			return nil, fmt.Errorf("rediscluster: cannot sum reply %v: %w", r, err)
		}
		total += n
	}
	return total, nil
}

// aggregateSortedList orders scalar replies (one per node) ascending by
// their string representation's natural numeric value where possible,
// falling back to lexical ordering (e.g. LASTSAVE's per-node unix times).
func aggregateSortedList(replies []interface{}) (interface{}, error) {
	out := make([]interface{}, len(replies))
	copy(out, replies)
	sort.Slice(out, func(i, j int) bool {
		a, errA := redis.Int64(out[i], nil)
		b, errB := redis.Int64(out[j], nil)
		if errA == nil && errB == nil {
			return a < b
		}
		return fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
	})
	return out, nil
}

// aggregateFlatten flattens each node's list-shaped reply into one list,
// optionally deduplicating and sorting the flattened string values.
func aggregateFlatten(replies []interface{}, doSort, dedupe bool) (interface{}, error) {
	var flat []interface{}
	for _, r := range replies {
		items, err := redis.Values(r, nil)
		if err != nil {
			// Not a multi-bulk reply (e.g. a single KEYS glob on a one-shard
			// cluster already returns a list, but some servers may answer
			// with a scalar for an empty case); treat it as one item.
			flat = append(flat, r)
			continue
		}
		flat = append(flat, items...)
	}

	if dedupe {
		seen := make(map[string]bool, len(flat))
		deduped := flat[:0]
		for _, v := range flat {
			key := fmt.Sprintf("%v", v)
			if seen[key] {
				continue
			}
			seen[key] = true
			deduped = append(deduped, v)
		}
		flat = deduped
	}

	if doSort {
		sort.Slice(flat, func(i, j int) bool {
			return fmt.Sprintf("%v", flat[i]) < fmt.Sprintf("%v", flat[j])
		})
	}

	return flat, nil
}

// aggregateMergeMapsSum merges PUBSUB NUMSUB-shaped replies: each node reply
// is a flat [channel, count, channel, count, ...] list, and same-named
// channels are summed across nodes.
func aggregateMergeMapsSum(replies []interface{}) (interface{}, error) {
	totals := make(map[string]int64)
	order := make([]string, 0)

	for _, r := range replies {
		items, err := redis.Values(r, nil)
		if err != nil {
			return nil, fmt.Errorf("rediscluster: cannot merge reply %v: %w", r, err)
		}
		for i := 0; i+1 < len(items); i += 2 {
			name, err := redis.String(items[i], nil)
			if err != nil {
				return nil, fmt.Errorf("rediscluster: non-string channel name in reply: %w", err)
			}
			count, err := redis.Int64(items[i+1], nil)
			if err != nil {
				return nil, fmt.Errorf("rediscluster: non-integer count in reply: %w", err)
			}
			if _, seen := totals[name]; !seen {
				order = append(order, name)
			}
			totals[name] += count
		}
	}

	out := make([]interface{}, 0, len(order)*2)
	for _, name := range order {
		out = append(out, name, totals[name])
	}
	return out, nil
}
