package rediscluster

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ReplicaAffinity selects which ReplicaSelectionStrategy the Topology
// instantiates.
type ReplicaAffinity string

const (
	AffinityRandom             ReplicaAffinity = "random"
	AffinityRandomWithPrimary  ReplicaAffinity = "random_with_primary"
	AffinityLatency            ReplicaAffinity = "latency"
)

// Endpoint is one cluster seed: either parsed from a URL or built directly
// from the object form.
type Endpoint struct {
	Host     string
	Port     uint16
	TLS      bool
	Username string
	Password string
	DB       int
}

func (e Endpoint) nodeKey() NodeKey {
	return NodeKey{Host: e.Host, Port: e.Port}
}

// ParseEndpointURL parses a "scheme://[user[:password]@]host[:port][/db]"
// endpoint. Supported schemes are "redis" (plain) and "rediss" (TLS).
// Missing host defaults to 127.0.0.1, missing port to 6379.
func ParseEndpointURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, newInvalidConfigError("cannot parse endpoint %q: %s", raw, err)
	}

	var useTLS bool
	switch u.Scheme {
	case "redis":
		useTLS = false
	case "rediss":
		useTLS = true
	default:
		return Endpoint{}, newInvalidConfigError("unsupported endpoint scheme %q in %q", u.Scheme, raw)
	}

	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}

	port := uint16(6379)
	if p := u.Port(); p != "" {
		parsed, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Endpoint{}, newInvalidConfigError("non-integer port %q in %q", p, raw)
		}
		port = uint16(parsed)
	}

	ep := Endpoint{Host: host, Port: port, TLS: useTLS}
	if u.User != nil {
		ep.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			ep.Password = pw
		}
	}

	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		db, err := strconv.Atoi(path)
		if err != nil {
			return Endpoint{}, newInvalidConfigError("non-integer db %q in %q", path, raw)
		}
		ep.DB = db
	}

	return ep, nil
}

// EndpointObject is the typed object form of an endpoint, as read from
// YAML; unknown keys are ignored when decoding.
type EndpointObject struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	SSL      bool   `yaml:"ssl"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (o EndpointObject) toEndpoint() (Endpoint, error) {
	host := o.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := o.Port
	if port == 0 {
		port = 6379
	}
	return Endpoint{
		Host:     host,
		Port:     port,
		TLS:      o.SSL,
		Username: o.Username,
		Password: o.Password,
		DB:       o.DB,
	}, nil
}

// ClusterConfig is immutable after construction except for the seed/node
// list, which NewClusterConfig's owner mutates under nodesMu as discovery
// and MOVED-driven learning progress.
type ClusterConfig struct {
	// ReplicaEnabled allows read traffic to be served by replicas.
	ReplicaEnabled bool
	// ReplicaAffinity picks the ReplicaSelectionStrategy.
	ReplicaAffinity ReplicaAffinity
	// FixedHostname, if set, overrides every discovered node's host while
	// preserving its port (SNI/proxy scenarios).
	FixedHostname string
	// SlowCommandTimeout bounds metadata calls (CLUSTER NODES, COMMAND).
	SlowCommandTimeout time.Duration
	// DialTimeout/ReadTimeout/WriteTimeout are per-node connection timeouts
	// forwarded to the SingleNodeClient factory.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PoolSize bounds each node's connection pool.
	PoolSize int
	// MaxFanoutWorkers bounds the concurrency of AllNodes/AllPrimaries/
	// AllReplicas dispatch. The latency strategy's probe sweep does not use
	// it; that sweep probes one replica at a time.
	MaxFanoutWorkers int
	// ReuseOriginalSeeds, when true, makes refresh() always restart from the
	// originally configured seed list rather than the addresses discovered
	// by the last successful topology load.
	ReuseOriginalSeeds bool

	nodesMu       sync.Mutex
	originalNodes []Endpoint
	nodes         []Endpoint
}

// ClusterConfigOption configures a ClusterConfig at construction time.
type ClusterConfigOption func(*ClusterConfig)

func WithReplicaEnabled(enabled bool) ClusterConfigOption {
	return func(c *ClusterConfig) { c.ReplicaEnabled = enabled }
}

func WithReplicaAffinity(affinity ReplicaAffinity) ClusterConfigOption {
	return func(c *ClusterConfig) { c.ReplicaAffinity = affinity }
}

func WithFixedHostname(host string) ClusterConfigOption {
	return func(c *ClusterConfig) { c.FixedHostname = host }
}

func WithSlowCommandTimeout(d time.Duration) ClusterConfigOption {
	return func(c *ClusterConfig) { c.SlowCommandTimeout = d }
}

func WithDialTimeouts(dial, read, write time.Duration) ClusterConfigOption {
	return func(c *ClusterConfig) { c.DialTimeout, c.ReadTimeout, c.WriteTimeout = dial, read, write }
}

func WithPoolSize(n int) ClusterConfigOption {
	return func(c *ClusterConfig) { c.PoolSize = n }
}

func WithMaxFanoutWorkers(n int) ClusterConfigOption {
	return func(c *ClusterConfig) { c.MaxFanoutWorkers = n }
}

func WithReuseOriginalSeeds(reuse bool) ClusterConfigOption {
	return func(c *ClusterConfig) { c.ReuseOriginalSeeds = reuse }
}

// defaultMaxFanoutWorkers is the default worker-pool size, overridable via
// WithMaxFanoutWorkers or REDIS_CLIENT_MAX_THREADS.
const defaultMaxFanoutWorkers = 5

// NewClusterConfig builds a ClusterConfig from a list of seed endpoint URLs.
// An empty seed list is rejected.
func NewClusterConfig(seeds []string, opts ...ClusterConfigOption) (*ClusterConfig, error) {
	if len(seeds) == 0 {
		return nil, newInvalidConfigError("`nodes` option is empty")
	}
	endpoints := make([]Endpoint, 0, len(seeds))
	for _, s := range seeds {
		ep, err := ParseEndpointURL(s)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return newClusterConfig(endpoints, opts...)
}

// NewClusterConfigFromEndpoints builds a ClusterConfig from the object form
// directly, bypassing URL parsing.
func NewClusterConfigFromEndpoints(endpoints []Endpoint, opts ...ClusterConfigOption) (*ClusterConfig, error) {
	if len(endpoints) == 0 {
		return nil, newInvalidConfigError("`nodes` option is empty")
	}
	return newClusterConfig(endpoints, opts...)
}

func newClusterConfig(endpoints []Endpoint, opts ...ClusterConfigOption) (*ClusterConfig, error) {
	cfg := &ClusterConfig{
		ReplicaAffinity:    AffinityRandom,
		SlowCommandTimeout: envSlowCommandTimeout(),
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		PoolSize:           10,
		MaxFanoutWorkers:   envMaxFanoutWorkers(),
		originalNodes:      append([]Endpoint(nil), endpoints...),
		nodes:              append([]Endpoint(nil), endpoints...),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxFanoutWorkers <= 0 {
		cfg.MaxFanoutWorkers = defaultMaxFanoutWorkers
	}
	return cfg, nil
}

func envMaxFanoutWorkers() int {
	v := os.Getenv("REDIS_CLIENT_MAX_THREADS")
	if v == "" {
		return defaultMaxFanoutWorkers
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultMaxFanoutWorkers
	}
	return n
}

// envSlowCommandTimeout implements REDIS_CLIENT_SLOW_COMMAND_TIMEOUT: -1 (or
// unset/unparseable) means "inherit" the dial/read timeout, signaled here by
// returning 0 so callers fall back to DialTimeout.
func envSlowCommandTimeout() time.Duration {
	v := os.Getenv("REDIS_CLIENT_SLOW_COMMAND_TIMEOUT")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *ClusterConfig) slowCommandTimeout() time.Duration {
	if c.SlowCommandTimeout > 0 {
		return c.SlowCommandTimeout
	}
	return c.DialTimeout
}

// seeds returns a snapshot of the current node list (the configured seeds
// plus anything learned via AddNode), used by Topology.Load / refresh.
func (c *ClusterConfig) seeds() []Endpoint {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	if c.ReuseOriginalSeeds {
		return append([]Endpoint(nil), c.originalNodes...)
	}
	return append([]Endpoint(nil), c.nodes...)
}

// AddNode adds an endpoint learned from a MOVED redirection to the seed
// list, best-effort: a collision with an in-flight refresh (unable to
// acquire nodesMu) is dropped rather than retried, because refresh itself
// re-reads the seed list on its next run.
func (c *ClusterConfig) AddNode(ep Endpoint) {
	if !c.nodesMu.TryLock() {
		return
	}
	defer c.nodesMu.Unlock()
	for _, existing := range c.nodes {
		if existing.nodeKey() == ep.nodeKey() {
			return
		}
	}
	c.nodes = append(c.nodes, ep)
}

// UpdateNode replaces the node list wholesale (used after a successful
// refresh to fold discovered topology back into the config), same
// best-effort-under-contention semantics as AddNode.
func (c *ClusterConfig) UpdateNode(endpoints []Endpoint) {
	if !c.nodesMu.TryLock() {
		return
	}
	defer c.nodesMu.Unlock()
	c.nodes = append([]Endpoint(nil), endpoints...)
}

// clusterConfigYAML mirrors ClusterConfig's constructor arguments for
// file-based loading, grounded on boomballa-df2redis's tagged config
// struct style (see SPEC_FULL.md "Configuration").
type clusterConfigYAML struct {
	Nodes              []EndpointObject `yaml:"nodes"`
	ReplicaEnabled     bool             `yaml:"replicaEnabled"`
	ReplicaAffinity    string           `yaml:"replicaAffinity"`
	FixedHostname      string           `yaml:"fixedHostname"`
	SlowCommandTimeout time.Duration    `yaml:"slowCommandTimeout"`
	PoolSize           int              `yaml:"poolSize"`
	MaxFanoutWorkers   int              `yaml:"maxFanoutWorkers"`
}

// NewClusterConfigFromYAML loads a ClusterConfig from a YAML document. This
// is additive sugar over NewClusterConfigFromEndpoints for deployments that
// keep cluster connection settings alongside other service config.
func NewClusterConfigFromYAML(doc []byte) (*ClusterConfig, error) {
	var parsed clusterConfigYAML
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, newInvalidConfigError("cannot parse cluster config YAML: %s", err)
	}
	if len(parsed.Nodes) == 0 {
		return nil, newInvalidConfigError("`nodes` option is empty")
	}
	endpoints := make([]Endpoint, 0, len(parsed.Nodes))
	for _, n := range parsed.Nodes {
		ep, err := n.toEndpoint()
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	opts := []ClusterConfigOption{
		WithReplicaEnabled(parsed.ReplicaEnabled),
		WithFixedHostname(parsed.FixedHostname),
	}
	if parsed.ReplicaAffinity != "" {
		opts = append(opts, WithReplicaAffinity(ReplicaAffinity(parsed.ReplicaAffinity)))
	}
	if parsed.SlowCommandTimeout > 0 {
		opts = append(opts, WithSlowCommandTimeout(parsed.SlowCommandTimeout))
	}
	if parsed.PoolSize > 0 {
		opts = append(opts, WithPoolSize(parsed.PoolSize))
	}
	if parsed.MaxFanoutWorkers > 0 {
		opts = append(opts, WithMaxFanoutWorkers(parsed.MaxFanoutWorkers))
	}
	return NewClusterConfigFromEndpoints(endpoints, opts...)
}
