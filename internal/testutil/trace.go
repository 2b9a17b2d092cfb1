package testutil

import (
	"fmt"
	"sync"
)

// FixedTraceGenerator returns the same trace id every time.
//
// This enables golden comparison of hook output. Implements
// planner.TraceGenerator.
//
// Thread-safety: FixedTraceGenerator is stateless and safe for concurrent use.
type FixedTraceGenerator struct {
	id string
}

// NewFixedTraceGenerator creates a fixed trace id generator.
// If id is empty, Generate() returns "test-trace-default".
func NewFixedTraceGenerator(id string) *FixedTraceGenerator {
	if id == "" {
		id = "test-trace-default"
	}
	return &FixedTraceGenerator{id: id}
}

// Generate returns the fixed trace id.
func (g *FixedTraceGenerator) Generate() string {
	return g.id
}

// SequenceTraceGenerator returns "trace-1", "trace-2", ... in order.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SequenceTraceGenerator struct {
	mu  sync.Mutex
	seq int64
}

// Generate returns the next trace id.
func (g *SequenceTraceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("trace-%d", g.seq)
}

// Reset restarts the sequence. After Reset(), Generate returns "trace-1".
func (g *SequenceTraceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
