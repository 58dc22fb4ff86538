package rediscluster

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Router is the public entry point: it holds the current Topology, swaps it
// atomically on refresh, and dispatches every call per its routing class.
// Grounded on the teacher's top-level cluster client, generalized from its
// fixed single-purpose dispatch to the full routing-class table.
type Router struct {
	cfg     *ClusterConfig
	factory ClientFactory
	logger  Logger

	topoMu sync.RWMutex
	topo   *Topology

	refreshMu sync.Mutex

	fanoutSem *semaphore.Weighted

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRouter builds a Router and performs the initial topology discovery.
// factory may be nil to use DefaultClientFactory; logger may be nil for
// silence.
func NewRouter(ctx context.Context, cfg *ClusterConfig, factory ClientFactory, logger Logger) (*Router, error) {
	if factory == nil {
		factory = DefaultClientFactory
	}
	if logger == nil {
		logger = noopLogger{}
	}
	topo, err := Load(ctx, cfg, factory, logger)
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       cfg,
		factory:   factory,
		logger:    logger,
		topo:      topo,
		fanoutSem: semaphore.NewWeighted(int64(cfg.MaxFanoutWorkers)),
		closed:    make(chan struct{}),
	}, nil
}

func (r *Router) currentTopology() *Topology {
	r.topoMu.RLock()
	defer r.topoMu.RUnlock()
	return r.topo
}

// Connected reports whether the Router has a live topology and has not been
// closed.
func (r *Router) Connected() bool {
	select {
	case <-r.closed:
		return false
	default:
	}
	return r.currentTopology() != nil
}

// ID returns a stable identifier for the Router's current topology,
// changing whenever a refresh swaps it for a different one.
func (r *Router) ID() string {
	return r.currentTopology().ID()
}

// Call dispatches cmd per its routing class and returns the (aggregated,
// where fanned out) reply.
func (r *Router) Call(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	select {
	case <-r.closed:
		return nil, ErrClosed
	default:
	}

	spec := classifyCommand(cmd)

	if spec.class == ClassSpecialSubcommand {
		if len(args) == 0 {
			return nil, &AmbiguousNodeError{Command: cmd}
		}
		subName, ok := argToString(args[0])
		if !ok {
			return nil, &AmbiguousNodeError{Command: cmd}
		}
		spec = classifySubcommand(cmd, subName)
	}

	switch spec.class {
	case ClassRejected:
		return nil, &OrchestrationCommandNotSupportedError{Command: cmd}

	case ClassAmbiguous:
		return nil, &AmbiguousNodeError{Command: cmd}

	case ClassAllNodes:
		return r.fanout(ctx, spec.aggregator, r.currentTopology().All(), cmd, args)

	case ClassAllPrimaries:
		return r.fanout(ctx, spec.aggregator, r.currentTopology().Primaries(), cmd, args)

	case ClassAllReplicas:
		return r.fanout(ctx, spec.aggregator, r.currentTopology().ReadServingSet(), cmd, args)

	case ClassScan:
		return nil, &InvalidClientConfigError{Msg: "SCAN must be issued via Router.Scan, not Call"}

	default:
		return r.callSingle(ctx, spec, cmd, args)
	}
}

func argToString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

// callSingle handles ClassSingle dispatch: derive the key, compute the
// slot, choose primary vs. replica, and send with redirect handling. spec is
// the already-resolved commandSpec from Call (post special-subcommand
// resolution where applicable), so a command like `CLUSTER INFO` uses the
// keyless spec classifySubcommand picked for it rather than Call
// re-deriving one from the bare "cluster" name.
func (r *Router) callSingle(ctx context.Context, spec commandSpec, cmd string, args []interface{}) (interface{}, error) {
	topo := r.currentTopology()

	key := extractKeyForSpec(spec, args)
	if key == nil {
		client, err := topo.Sample()
		if err != nil {
			if refreshErr := r.refresh(ctx, nil); refreshErr != nil {
				return nil, refreshErr
			}
			client, err = r.currentTopology().Sample()
			if err != nil {
				return nil, err
			}
		}
		return trySend(ctx, r.currentTopology(), client, r.refreshHint(ctx), cmd, args)
	}

	slot := SlotForKey(key)
	needPrimary := shouldSendToPrimaryForSpec(spec, r.cfg.ReplicaEnabled)

	client, err := topo.ClientForSlot(slot, needPrimary)
	if err != nil {
		if refreshErr := r.refresh(ctx, nil); refreshErr != nil {
			return nil, refreshErr
		}
		topo = r.currentTopology()
		client, err = topo.ClientForSlot(slot, needPrimary)
		if err != nil {
			return nil, err
		}
	}

	return trySend(ctx, topo, client, r.refreshHint(ctx), cmd, args)
}

// refreshHint adapts refresh into the callback shape trySend expects.
func (r *Router) refreshHint(ctx context.Context) func(hint *NodeKey) {
	return func(hint *NodeKey) {
		_ = r.refresh(ctx, hint)
	}
}

// CallOnce sends exactly one request: to the node owning the command's
// first key, or to an arbitrary primary when the command has no key. It
// does not apply Call's rejection, fan-out or subcommand handling, and it
// does not follow MOVED/ASK or refresh on connection errors: a redirection
// comes back as the server's redis.Error, which ParseRedirInfo decodes.
// Useful for callers implementing their own retry policy.
func (r *Router) CallOnce(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	select {
	case <-r.closed:
		return nil, ErrClosed
	default:
	}
	topo := r.currentTopology()
	lowerCmd := strings.ToLower(cmd)
	key := extractFirstKey(cmd, args)
	if key == nil {
		client, err := topo.Sample()
		if err != nil {
			return nil, err
		}
		return client.Do(ctx, cmd, args...)
	}
	slot := SlotForKey(key)
	client, err := topo.ClientForSlot(slot, shouldSendToPrimary(lowerCmd, r.cfg.ReplicaEnabled))
	if err != nil {
		return nil, err
	}
	return client.Do(ctx, cmd, args...)
}

// BlockingCall sends one request with a per-call read timeout, for
// blocking commands (BLPOP, XREAD BLOCK, ...) whose caller-supplied timeout
// exceeds the connection's default read timeout. It routes by the command's
// first key (or to an arbitrary primary when there is none), refreshing the
// topology once if no client is found. Unlike Call, it does not apply
// rejection, fan-out or subcommand handling, and a MOVED/ASK reply is
// returned as an error rather than followed.
func (r *Router) BlockingCall(ctx context.Context, timeout time.Duration, cmd string, args ...interface{}) (interface{}, error) {
	select {
	case <-r.closed:
		return nil, ErrClosed
	default:
	}
	topo := r.currentTopology()
	lowerCmd := strings.ToLower(cmd)
	key := extractFirstKey(cmd, args)
	var client SingleNodeClient
	var err error
	if key == nil {
		client, err = topo.Sample()
	} else {
		client, err = topo.ClientForSlot(SlotForKey(key), shouldSendToPrimary(lowerCmd, r.cfg.ReplicaEnabled))
	}
	if err != nil {
		if refreshErr := r.refresh(ctx, nil); refreshErr != nil {
			return nil, refreshErr
		}
		topo = r.currentTopology()
		if key == nil {
			client, err = topo.Sample()
		} else {
			client, err = topo.ClientForSlot(SlotForKey(key), shouldSendToPrimary(lowerCmd, r.cfg.ReplicaEnabled))
		}
		if err != nil {
			return nil, err
		}
	}
	return client.DoWithTimeout(ctx, timeout, cmd, args...)
}

// refresh reloads the cluster topology and swaps it in atomically. It is
// best-effort non-reentrant: if a refresh is already underway,
// subsequent callers return immediately without error, trusting the
// in-flight refresh to pick up any hint they would have supplied (the same
// coalescing pattern as the teacher's reloading-bool guard, generalized via
// TryLock). If hint is non-nil, it is folded into cfg's seed list first so
// discovery has a chance of reaching a node the caller already knows about.
func (r *Router) refresh(ctx context.Context, hint *NodeKey) error {
	if !r.refreshMu.TryLock() {
		return nil
	}
	defer r.refreshMu.Unlock()

	if hint != nil {
		r.cfg.AddNode(Endpoint{Host: hint.Host, Port: hint.Port})
	}

	newTopo, err := Load(ctx, r.cfg, r.factory, r.logger)
	if err != nil {
		r.logger.Warnf("rediscluster: topology refresh failed: %s", err)
		return err
	}

	r.topoMu.Lock()
	oldTopo := r.topo
	r.topo = newTopo
	r.topoMu.Unlock()

	if oldTopo != nil {
		oldTopo.Close()
	}
	return nil
}

// fanout dispatches cmd to every client in targets with bounded concurrency
// (MaxFanoutWorkers via golang.org/x/sync/semaphore), then aggregates the
// per-node replies per agg. Partial failure raises the first error only
// after every target has been given a chance to answer.
func (r *Router) fanout(ctx context.Context, agg Aggregator, targets []SingleNodeClient, cmd string, args []interface{}) (interface{}, error) {
	if len(targets) == 0 {
		return nil, errReloadNeeded
	}

	replies := make([]interface{}, len(targets))
	errs := make([]error, len(targets))
	var wg sync.WaitGroup

	for i, client := range targets {
		if err := r.fanoutSem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, client SingleNodeClient) {
			defer wg.Done()
			defer r.fanoutSem.Release(1)
			reply, err := client.Do(ctx, cmd, args...)
			replies[i] = reply
			errs[i] = err
		}(i, client)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return aggregate(agg, replies)
}

// Close closes the current topology and marks the Router unusable. Safe to
// call more than once.
func (r *Router) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		topo := r.currentTopology()
		if topo != nil {
			err = topo.Close()
		}
	})
	return err
}
