package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out prefix-1, prefix-2, ... in call order.
//
// It satisfies the engine's IDGenerator and its Generate method can be
// passed as the memory server's id source. The same sequence of calls
// always yields the same ids, which keeps golden traces byte-stable.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator for prefix.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Issued returns how many ids have been generated.
func (g *SequentialIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
