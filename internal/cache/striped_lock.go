package cache

import (
	"hash/fnv"
	"sync"
)

// stripedLock provides per-key mutual exclusion without allocating one
// mutex per distinct key forever: keys hash into a fixed number of
// stripes, so the guarantee is "at most one fetch per stripe" rather than
// "per exact key" — adequate here since fingerprint collisions within a
// stripe merely serialize unrelated keys, never corrupt them.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n <= 0 {
		n = 32
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns a function to release it.
func (s *stripedLock) Lock(key string) func() {
	idx := s.stripeFor(key)
	s.stripes[idx].Lock()
	return s.stripes[idx].Unlock
}

func (s *stripedLock) stripeFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % len(s.stripes)
}
