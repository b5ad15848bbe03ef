//go:build resp_noatomic64

package protocol

import "sync"

// WideAtomics reports whether Stats uses 64-bit atomic instructions
const WideAtomics = false

// counter avoids 64-bit atomics for cores such as thumbv6m
type counter struct {
	mu sync.Mutex
	v  uint64
}

func (c *counter) add(n uint64) {
	c.mu.Lock()
	c.v += n
	c.mu.Unlock()
}

func (c *counter) load() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}
