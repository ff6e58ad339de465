package store

import (
	"testing"
	"time"
)

func TestTTLStoreExpiry(t *testing.T) {
	s := NewTTLStore[int, string](0)
	defer s.Close()

	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	s.Set(1, "ended", 10*time.Second)
	if v, ok := s.Get(1); !ok || v != "ended" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}

	now = now.Add(10 * time.Second)
	if _, ok := s.Get(1); ok {
		t.Error("entry visible after expiry")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestTTLStoreSweepCallsEvict(t *testing.T) {
	s := NewTTLStore[int, string](0)
	defer s.Close()

	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	var evicted []int
	s.SetOnEvict(func(k int, _ string) { evicted = append(evicted, k) })

	s.Set(1, "a", time.Second)
	s.Set(2, "b", time.Hour)
	now = now.Add(2 * time.Second)

	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if len(evicted) != 1 || evicted[0] != 1 {
		t.Errorf("evicted = %v, want [1]", evicted)
	}
	if _, ok := s.Get(2); !ok {
		t.Error("unexpired entry swept")
	}
}

func TestTTLStoreDeleteAndClose(t *testing.T) {
	s := NewTTLStore[string, int](time.Millisecond)
	s.Set("x", 1, time.Minute)
	if !s.Delete("x") {
		t.Error("Delete(x) = false")
	}
	if s.Delete("x") {
		t.Error("second Delete(x) = true")
	}
	s.Close()
	s.Close()
}
