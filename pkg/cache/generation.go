package cache

import (
	"strconv"
	"sync"
	"time"
)

// Generations counts document changes per owner. Answers are cached under
// the generation that was current when their query started, so an answer
// computed while the owner's documents changed is written under a key no
// later lookup uses.
//
// The epoch keeps generations of different processes apart when the store
// outlives the process.
type Generations struct {
	epoch string

	mu   sync.Mutex
	gens map[string]uint64
}

func NewGenerations() *Generations {
	return &Generations{
		epoch: strconv.FormatInt(time.Now().UnixNano(), 36),
		gens:  make(map[string]uint64),
	}
}

// Current is the owner's generation token. A nil *Generations always
// returns "".
func (g *Generations) Current(ownerID string) string {
	if g == nil {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch + "." + strconv.FormatUint(g.gens[ownerID], 10)
}

// Bump starts a new generation for ownerID.
func (g *Generations) Bump(ownerID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.gens[ownerID]++
	g.mu.Unlock()
}

// KeyAt is Key scoped to a generation token. An empty generation yields Key.
func KeyAt(prefix, ownerID, generation, query string) string {
	if generation == "" {
		return Key(prefix, ownerID, query)
	}
	return OwnerPrefix(prefix, ownerID) + generation + ":" + digest(Normalize(query))
}
