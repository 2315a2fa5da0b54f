package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns the same run ID every time.
// The same plan recorded with it produces byte-identical journals.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator for id.
// If id is empty, Generate returns "test-run-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}

// SequentialIDGenerator returns prefix-0001, prefix-0002, ...
//
// Thread-safety: safe for concurrent use.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDGenerator creates a generator numbering from 1.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
