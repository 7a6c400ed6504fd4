package cache

import (
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := New(8, time.Minute)

	key := Key("美食", 5)
	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache returned a hit")
	}

	c.Set(key, "rendered output")
	got, ok := c.Get(key)
	if !ok || got != "rendered output" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	if _, ok := c.Get(Key("美食", 10)); ok {
		t.Error("a different limit must miss")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New(8, 10*time.Millisecond)

	key := Key("美食", 5)
	c.Set(key, "stale soon")
	if _, ok := c.Get(key); !ok {
		t.Fatal("fresh entry missed")
	}

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Error("expired entry returned a hit")
	}
}

func TestCache_DisabledWhenNoTTL(t *testing.T) {
	c := New(8, 0)

	key := Key("美食", 5)
	c.Set(key, "never stored")
	if _, ok := c.Get(key); ok {
		t.Error("disabled cache returned a hit")
	}
}

func TestCache_CapacityEviction(t *testing.T) {
	c := New(2, time.Minute)

	c.Set(Key("a", 1), "1")
	c.Set(Key("b", 1), "2")
	c.Set(Key("c", 1), "3")

	hits := 0
	for _, q := range []string{"a", "b", "c"} {
		if _, ok := c.Get(Key(q, 1)); ok {
			hits++
		}
	}
	if hits != 2 {
		t.Errorf("%d entries survive at capacity 2", hits)
	}
}

func TestKey_Distinguishes(t *testing.T) {
	if Key("美食", 5) == Key("美食", 15) {
		t.Error("limit must be part of the key")
	}
	if Key("美食5", 0) == Key("美食", 50) {
		t.Error("key must not be a plain concatenation")
	}
}
