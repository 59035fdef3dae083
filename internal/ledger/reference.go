package ledger

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReferenceGenerator issues lexicographically sortable transaction references.
type ReferenceGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	prefix  string
}

func NewReferenceGenerator(prefix string) *ReferenceGenerator {
	return &ReferenceGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		prefix:  prefix,
	}
}

func (g *ReferenceGenerator) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(now), g.entropy)
	return g.prefix + id.String()
}
