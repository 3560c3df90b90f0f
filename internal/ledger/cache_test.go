package ledger

import (
	"testing"
	"time"
)

func TestCache_SetAndGet(t *testing.T) {
	c := newConfirmationCache(time.Minute)
	c.set("sha256:aa", "ref-1")

	ref, ok := c.get("sha256:aa")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if ref != "ref-1" {
		t.Errorf("ref: got %q, want %q", ref, "ref-1")
	}
}

func TestCache_Miss(t *testing.T) {
	c := newConfirmationCache(time.Minute)
	if _, ok := c.get("nonexistent"); ok {
		t.Error("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := newConfirmationCache(10 * time.Millisecond)
	c.set("key", "ref")

	if _, ok := c.get("key"); !ok {
		t.Fatal("expected cache hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.get("key"); ok {
		t.Error("expected cache miss after TTL expiry")
	}
}

func TestCache_Evict(t *testing.T) {
	c := newConfirmationCache(10 * time.Millisecond)
	c.set("a", "")
	c.set("b", "")

	time.Sleep(20 * time.Millisecond)

	if n := c.evict(); n != 2 {
		t.Errorf("evict: got %d, want 2", n)
	}
	if c.len() != 0 {
		t.Errorf("len after evict: got %d, want 0", c.len())
	}
}
