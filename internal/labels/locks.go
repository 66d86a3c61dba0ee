package labels

import (
	"hash/maphash"
	"sync"

	"github.com/noahgolmant/label-tiles/internal/tiles"
)

const lockStripes = 64

// addressLocks serializes check-then-insert per tile address. Addresses are
// hashed onto a fixed set of mutexes, so unrelated tiles rarely contend.
type addressLocks struct {
	seed    maphash.Seed
	stripes [lockStripes]sync.Mutex
}

func newAddressLocks() *addressLocks {
	return &addressLocks{seed: maphash.MakeSeed()}
}

// lock acquires the stripe for addr and returns its unlock function
func (l *addressLocks) lock(addr tiles.TileAddress) func() {
	m := &l.stripes[maphash.Comparable(l.seed, addr)%lockStripes]
	m.Lock()
	return m.Unlock
}
