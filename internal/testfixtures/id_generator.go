package testfixtures

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator yields predictable identifiers such as "id-001".
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter int
}

// NewIDGenerator uses "id" when prefix is empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%03d", g.prefix, g.counter)
}

// NextFunc exposes Next for constructors that take a func() string.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return RandomID
	}
	return g.Next
}

// Replay returns a generator that hands out ids in order and then falls back
// to the counter. Tests use it to force id collisions.
func Replay(ids ...string) func() string {
	var (
		mu   sync.Mutex
		next int
	)
	fallback := NewIDGenerator("replay")
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if next < len(ids) {
			next++
			return ids[next-1]
		}
		return fallback.Next()
	}
}

// RandomID matches the production identifier format.
func RandomID() string {
	return uuid.NewString()
}
