package rediscluster

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ReplicaSelectionStrategy picks which of a primary's replicas (or the
// primary itself) serves a read when replica use is enabled.
type ReplicaSelectionStrategy interface {
	// Select returns the NodeKey that should serve a read for the shard
	// whose primary is primary.
	Select(t *Topology, primary NodeKey) (NodeKey, error)
	// Close releases any background resources (the latency strategy's probe
	// loop); a no-op for the stateless strategies.
	Close()
}

// newReplicaSelectionStrategy builds the ReplicaSelectionStrategy named by
// affinity, defaulting to AffinityRandom for an empty/unknown value.
func newReplicaSelectionStrategy(affinity ReplicaAffinity, cfg *ClusterConfig) (ReplicaSelectionStrategy, error) {
	switch affinity {
	case "", AffinityRandom:
		return &randomStrategy{}, nil
	case AffinityRandomWithPrimary:
		return &randomWithPrimaryStrategy{}, nil
	case AffinityLatency:
		return newLatencyStrategy(cfg), nil
	default:
		return nil, newInvalidConfigError("unknown replica affinity %q", affinity)
	}
}

// randomStrategy picks uniformly among a primary's replicas, falling back
// to the primary itself when it has none.
type randomStrategy struct{}

func (s *randomStrategy) Select(t *Topology, primary NodeKey) (NodeKey, error) {
	replicas := t.replicasOf(primary)
	if len(replicas) == 0 {
		return primary, nil
	}
	return replicas[rand.Intn(len(replicas))], nil
}

func (s *randomStrategy) Close() {}

// randomWithPrimaryStrategy picks uniformly among a primary's replicas AND
// the primary itself, so the primary still absorbs a share of read traffic.
type randomWithPrimaryStrategy struct{}

func (s *randomWithPrimaryStrategy) Select(t *Topology, primary NodeKey) (NodeKey, error) {
	replicas := t.replicasOf(primary)
	candidates := make([]NodeKey, 0, len(replicas)+1)
	candidates = append(candidates, primary)
	candidates = append(candidates, replicas...)
	return candidates[rand.Intn(len(candidates))], nil
}

func (s *randomWithPrimaryStrategy) Close() {}

// latencySampleWindow is how many recent RTT samples a latencyStrategy keeps
// per replica before taking the rolling median.
const latencySampleWindow = 5

// latencyProbeInterval is how often the background sweep re-probes every
// known replica.
const latencyProbeInterval = 30 * time.Second

// latencyStrategy picks, among the replicas it has sampled, the one with the
// lowest rolling-median RTT, maintained by a background probe sweep
// rate-limited with golang.org/x/time/rate (the same package the corpus uses
// for client-side throttling). Unsampled replicas are not considered while
// any replica of the shard has samples; when none has, it falls back to
// randomStrategy.
type latencyStrategy struct {
	cfg     *ClusterConfig
	limiter *rate.Limiter

	mu      sync.Mutex
	samples map[NodeKey][]time.Duration

	fallback *randomStrategy

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newLatencyStrategy(cfg *ClusterConfig) *latencyStrategy {
	s := &latencyStrategy{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(latencyProbeInterval/10), 1),
		samples:  make(map[NodeKey][]time.Duration),
		fallback: &randomStrategy{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	return s
}

// attach starts the background probe sweep against t's replica set. Called
// once by the Topology that owns this strategy, after the Topology is fully
// populated (so replicasOf has something to iterate).
func (s *latencyStrategy) attach(t *Topology, factory ClientFactory) {
	go s.probeLoop(t, factory)
}

func (s *latencyStrategy) probeLoop(t *Topology, factory ClientFactory) {
	defer close(s.doneCh)
	ticker := time.NewTicker(latencyProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(t)
		}
	}
}

func (s *latencyStrategy) sweep(t *Topology) {
	for _, client := range t.Replicas() {
		if err := s.limiter.Wait(context.Background()); err != nil {
			return
		}
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.probeTimeout())
		_, err := client.Do(ctx, "PING")
		cancel()
		if err != nil {
			continue
		}
		s.record(client.NodeKey(), time.Since(start))
	}
}

func (s *latencyStrategy) probeTimeout() time.Duration {
	if s.cfg != nil && s.cfg.ReadTimeout > 0 {
		return s.cfg.ReadTimeout
	}
	return time.Second
}

func (s *latencyStrategy) record(key NodeKey, rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := append(s.samples[key], rtt)
	if len(samples) > latencySampleWindow {
		samples = samples[len(samples)-latencySampleWindow:]
	}
	s.samples[key] = samples
}

func (s *latencyStrategy) median(key NodeKey) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := s.samples[key]
	if len(samples) == 0 {
		return 0, false
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2], true
}

func (s *latencyStrategy) Select(t *Topology, primary NodeKey) (NodeKey, error) {
	replicas := t.replicasOf(primary)
	if len(replicas) == 0 {
		return primary, nil
	}

	best := replicas[0]
	bestRTT, haveBest := s.median(best)
	for _, r := range replicas[1:] {
		rtt, ok := s.median(r)
		if !ok {
			continue
		}
		if !haveBest || rtt < bestRTT {
			best, bestRTT, haveBest = r, rtt, true
		}
	}
	if !haveBest {
		// No replica has been probed yet (fresh topology): fall back to
		// random selection rather than stalling the caller on a probe.
		return s.fallback.Select(t, primary)
	}
	return best, nil
}

func (s *latencyStrategy) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}
