package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, "task:1", []byte(`{"status":"PENDING"}`), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.Get(ctx, "task:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if string(got) != `{"status":"PENDING"}` {
		t.Fatalf("value = %s, want stored projection", got)
	}
}

func TestMemory_GetMissing(t *testing.T) {
	c := NewMemory()
	_, ok, err := c.Get(context.Background(), "task:missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected missing key")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, "task:2", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok, _ := c.Get(ctx, "task:2"); !ok {
		t.Fatal("expected key before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "task:2"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, "task:3", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Delete(ctx, "task:3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "task:3"); ok {
		t.Fatal("expected key removed")
	}

	// Deleting a missing key is not an error.
	if err := c.Delete(ctx, "task:3"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestNoop_AlwaysMisses(t *testing.T) {
	var c Noop
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("noop cache should never hold values")
	}
}
