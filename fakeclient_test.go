package rediscluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
)

// fakeClient is a SingleNodeClient double: it answers Do calls from a
// caller-supplied handler and records every invocation, without touching
// the network. Used across router_test.go/topology_test.go/scan_test.go.
type fakeClient struct {
	key     NodeKey
	handler func(cmd string, args []interface{}) (interface{}, error)

	mu        sync.Mutex
	calls     []string
	closed    bool
	closeErrs int
}

func newFakeClient(key NodeKey, handler func(cmd string, args []interface{}) (interface{}, error)) *fakeClient {
	return &fakeClient{key: key, handler: handler}
}

func (f *fakeClient) NodeKey() NodeKey { return f.key }

func (f *fakeClient) Do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.handler == nil {
		return nil, nil
	}
	return f.handler(cmd, args)
}

func (f *fakeClient) DoWithTimeout(ctx context.Context, timeout time.Duration, cmd string, args ...interface{}) (interface{}, error) {
	return f.Do(ctx, cmd, args...)
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeErrs++
	return nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// redisMovedError builds the redis.Error a real MOVED reply would surface,
// for tests exercising trySend's redirect handling.
func redisMovedError(slot int, target NodeKey) redis.Error {
	return redis.Error(fmt.Sprintf("MOVED %d %s", slot, target.String()))
}
