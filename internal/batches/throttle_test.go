package batches

import (
	"testing"
	"time"
)

func TestTTLSetSeenWithinWindow(t *testing.T) {
	s := newTTLSet(time.Minute, 8)

	if s.Seen("a") {
		t.Fatal("first Seen should be a miss")
	}
	if !s.Seen("a") {
		t.Fatal("second Seen within TTL should be a hit")
	}
}

func TestTTLSetExpiry(t *testing.T) {
	s := newTTLSet(time.Minute, 8)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Seen("a")
	now = now.Add(2 * time.Minute)
	if s.Seen("a") {
		t.Fatal("entry past TTL should be a miss")
	}
}

func TestTTLSetEvictsStalest(t *testing.T) {
	s := newTTLSet(time.Hour, 2)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Seen("a")
	now = now.Add(time.Second)
	s.Seen("b")
	now = now.Add(time.Second)
	s.Seen("c") // evicts "a"

	if s.Seen("a") {
		t.Fatal("evicted entry should be a miss")
	}
	if !s.Seen("c") {
		t.Fatal("newest entry should still be present")
	}
}
