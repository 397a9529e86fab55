// Package names generates human-readable display names for anonymous
// identities. Names carry no uniqueness guarantee — collisions are expected
// and fine; only the public identifier identifies a record.
package names

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var adjectives = []string{
	"cheerful", "quiet", "bright", "gentle", "clever",
	"curious", "merry", "calm", "swift", "bold",
}

var animals = []string{
	"panda", "koala", "penguin", "rabbit", "fox",
	"otter", "heron", "badger", "lynx", "owl",
}

// Generator produces random display names from a private random source.
// Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a generator seeded from the wall clock.
func New() *Generator {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a generator with a fixed seed, for deterministic tests.
func NewSeeded(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Generate returns an adjective+animal+number name, e.g. "merry-fox-417".
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	adj := adjectives[g.rnd.Intn(len(adjectives))]
	animal := animals[g.rnd.Intn(len(animals))]
	n := g.rnd.Intn(1000)
	return fmt.Sprintf("%s-%s-%d", adj, animal, n)
}
