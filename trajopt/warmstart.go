package trajopt

import "sync"

// fingerprint versions cache entries so a result can only warm start a
// structurally identical problem. Vars pins the decision-vector length, which
// also captures the channel parametrization (fixed vs full-mesh, hypermesh
// breakpoint counts) that the dimensions alone do not.
type fingerprint struct {
	Points     int
	NState     int
	NAlgebraic int
	NControl   int
	Vars       int
	Rate       bool
	Closed     bool
}

// WarmStartCache holds the last converged result per key, typically one key
// per vehicle variant. It is owned by the caller and shared across solves;
// access is serialized internally but the stored results themselves must be
// treated as read-only.
type WarmStartCache struct {
	mu      sync.Mutex
	entries map[string]*Result
}

// NewWarmStartCache returns an empty cache.
func NewWarmStartCache() *WarmStartCache {
	return &WarmStartCache{entries: map[string]*Result{}}
}

// Put stores a converged result under the given key, replacing any previous
// entry.
func (c *WarmStartCache) Put(key string, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = res
}

// Get returns the stored result for the key, if any. Compatibility with the
// consuming problem is the formulator's responsibility; results from a
// different mesh or formulation are rejected there, never interpolated.
func (c *WarmStartCache) Get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[key]
	return res, ok
}
