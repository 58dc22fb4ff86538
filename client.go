package rediscluster

import (
	"context"
	"errors"
	"time"

	"github.com/gomodule/redigo/redis"
)

// SingleNodeClient is the external collaborator the core routes commands
// to: synchronous request/response against one endpoint, optional
// blocking-call with timeout, and connection lifecycle. Its low-level RESP
// implementation is out of scope for this package; this interface is the
// narrow capability set the rest of the package actually consumes. The
// bundled implementation (redigoClient) wraps github.com/gomodule/redigo,
// the same library the teacher used directly.
type SingleNodeClient interface {
	// Do issues cmd and blocks for the reply, honoring ctx cancellation
	// where the underlying connection supports it.
	Do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error)
	// DoWithTimeout is like Do but overrides the connection's default
	// read timeout for this one call.
	DoWithTimeout(ctx context.Context, timeout time.Duration, cmd string, args ...interface{}) (interface{}, error)
	// NodeKey returns the endpoint identity this client was built for.
	NodeKey() NodeKey
	// Close releases the underlying connection(s). Close must be safe to
	// call more than once.
	Close() error
}

// ClientFactory builds a SingleNodeClient for a discovered or configured
// endpoint. Swappable so callers can substitute their own pooling/dialing
// strategy, mirroring the teacher's CreateConnPool hook.
type ClientFactory func(ctx context.Context, key NodeKey, ep Endpoint, cfg *ClusterConfig) (SingleNodeClient, error)

// redigoClient adapts a *redis.Pool to SingleNodeClient.
type redigoClient struct {
	key  NodeKey
	pool *redis.Pool
}

// DefaultClientFactory builds a redigo-backed SingleNodeClient with a
// connection pool sized by cfg.PoolSize, timeouts from cfg, and
// credentials/TLS/db from ep. This mirrors clusterpool_test.go's
// createConnPool example in the teacher.
func DefaultClientFactory(ctx context.Context, key NodeKey, ep Endpoint, cfg *ClusterConfig) (SingleNodeClient, error) {
	dialOpts := []redis.DialOption{
		redis.DialConnectTimeout(cfg.DialTimeout),
		redis.DialReadTimeout(cfg.ReadTimeout),
		redis.DialWriteTimeout(cfg.WriteTimeout),
	}
	if ep.Password != "" {
		dialOpts = append(dialOpts, redis.DialPassword(ep.Password))
	}
	if ep.Username != "" {
		dialOpts = append(dialOpts, redis.DialUsername(ep.Username))
	}
	if ep.DB != 0 {
		dialOpts = append(dialOpts, redis.DialDatabase(ep.DB))
	}
	if ep.TLS {
		dialOpts = append(dialOpts, redis.DialUseTLS(true))
	}

	addr := key.String()
	pool := &redis.Pool{
		MaxIdle:     cfg.PoolSize,
		MaxActive:   cfg.PoolSize,
		IdleTimeout: 10 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, dialOpts...)
		},
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr, dialOpts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) > time.Minute {
				_, err := c.Do("PING")
				return err
			}
			return nil
		},
	}
	return &redigoClient{key: key, pool: pool}, nil
}

func (c *redigoClient) NodeKey() NodeKey { return c.key }

func (c *redigoClient) Do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if cwc, ok := conn.(redis.ConnWithContext); ok {
		return cwc.DoContext(ctx, cmd, args...)
	}
	return conn.Do(cmd, args...)
}

func (c *redigoClient) DoWithTimeout(ctx context.Context, timeout time.Duration, cmd string, args ...interface{}) (interface{}, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if cwt, ok := conn.(redis.ConnWithTimeout); ok {
		if err := cwt.Send(cmd, args...); err != nil {
			return nil, err
		}
		if err := conn.Flush(); err != nil {
			return nil, err
		}
		return cwt.ReceiveWithTimeout(timeout)
	}
	return conn.Do(cmd, args...)
}

func (c *redigoClient) Close() error {
	return c.pool.Close()
}

// isConnectionError reports whether err indicates the connection/transport
// failed, as opposed to a well-formed server reply carrying an application
// error (including MOVED/ASK, which are redis.Error values handled
// separately by ParseRedirInfo).
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return false
	}
	return true
}
