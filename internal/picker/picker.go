// Package picker selects one student uniformly at random for the two
// mini-games. Selection is pure: no roster state is touched.
package picker

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"seatboard/internal/roster"
)

// ErrEmptyPool is returned when no eligible student exists. Callers surface
// a user-facing message and skip any animation.
var ErrEmptyPool = errors.New("no students available to pick")

// Picker draws uniformly from a candidate list using an injected source, so
// tests can seed it and assert determinism. rand.Rand is not goroutine-safe;
// draws are serialized.
type Picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a picker seeded with seed; a non-positive seed uses the clock.
func New(seed int64) *Picker {
	if seed <= 0 {
		seed = time.Now().UnixNano()
	}
	return &Picker{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns one student with probability 1/n over the n eligible
// candidates. Both waiting and seated students are eligible; entries with
// empty names are filtered out first.
func (p *Picker) Pick(students []roster.Student) (roster.Student, error) {
	pool := make([]roster.Student, 0, len(students))
	for _, st := range students {
		if strings.TrimSpace(st.Name) != "" {
			pool = append(pool, st)
		}
	}
	if len(pool) == 0 {
		return roster.Student{}, ErrEmptyPool
	}
	p.mu.Lock()
	idx := p.rng.Intn(len(pool))
	p.mu.Unlock()
	return pool[idx], nil
}
