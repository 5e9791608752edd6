package batches

import (
	"sync"
	"time"
)

// ttlSet remembers keys for a fixed time window with a hard cap on entries.
// The monitor uses it to avoid repeating the same log line on every sweep.
type ttlSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	now     func() time.Time
}

func newTTLSet(ttl time.Duration, max int) *ttlSet {
	if max < 1 {
		max = 128
	}
	return &ttlSet{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether key was recorded within the TTL window. A miss
// records the key. When the set is full the stalest entry is evicted.
func (s *ttlSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, at := range s.entries {
		if now.Sub(at) >= s.ttl {
			delete(s.entries, k)
		}
	}

	if _, ok := s.entries[key]; ok {
		return true
	}

	if len(s.entries) >= s.max {
		var oldestKey string
		var oldestAt time.Time
		first := true
		for k, at := range s.entries {
			if first || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
				first = false
			}
		}
		delete(s.entries, oldestKey)
	}

	s.entries[key] = now
	return false
}
