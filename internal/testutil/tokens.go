package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator hands out numbered call tokens: prefix-0001,
// prefix-0002, and so on.
//
// Unlike engine.FixedGenerator it never runs out, so a scenario can issue
// any number of remote calls. Two runs with fresh generators issue the same
// tokens, which keeps journals and golden files byte-identical.
//
// Thread-safety: all methods are safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "call".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "call"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next token.
//
// Implements engine.TokenGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Issued returns how many tokens have been handed out.
func (g *SequenceGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset starts the sequence over.
//
// Used for test reuse. After Reset, the next token is prefix-0001 again.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
