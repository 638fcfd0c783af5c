package models

import (
	"slices"
	"sync"
)

// SequentialIDGenerator hands out ids starting from 1. Released ids are handed
// out again, lowest first, before new ones are created.
type SequentialIDGenerator struct {
	mutex     sync.Mutex
	currentID uint32
	released  []uint32
}

func (g *SequentialIDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.released) != 0 {
		id := g.released[0]
		g.released = g.released[1:]
		return id
	}

	g.currentID++
	return g.currentID
}

// Reuse releases an id so it can be returned by New. Releasing an id twice or
// an id that was never created has no effect.
func (g *SequentialIDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}

	i, found := slices.BinarySearch(g.released, id)
	if found {
		return
	}
	g.released = slices.Insert(g.released, i, id)
}
