//go:build !resp_noatomic64

package protocol

import "sync/atomic"

// WideAtomics reports whether Stats uses 64-bit atomic instructions
const WideAtomics = true

type counter struct {
	v atomic.Uint64
}

func (c *counter) add(n uint64) {
	c.v.Add(n)
}

func (c *counter) load() uint64 {
	return c.v.Load()
}
