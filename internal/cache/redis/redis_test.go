package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "dipbot"}
	if got := c.key("price", "123"); got != "dipbot:price:123" {
		t.Fatalf("got %q", got)
	}
	c = &Client{}
	if got := c.key("lock", "eth"); got != "lock:eth" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodePrice(t *testing.T) {
	p, ts, err := decodePrice("1", map[string]string{"price": "0.61", "ts": "1700000000000000000"})
	if err != nil {
		t.Fatal(err)
	}
	if p != 0.61 || !ts.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("got %v %v", p, ts)
	}
	if _, _, err := decodePrice("1", map[string]string{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing: got %v", err)
	}
	if _, _, err := decodePrice("1", map[string]string{"price": "x", "ts": "1"}); err == nil {
		t.Fatal("bad price: want error")
	}
}

// liveClient connects to the server named by DIPBOT_TEST_REDIS_ADDR.
func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("DIPBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DIPBOT_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "dipbot-test-" + t.Name()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c := liveClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()
	ts := time.Unix(1_700_000_000, 123)
	if err := pc.SetPrice(ctx, "42", 0.37, ts); err != nil {
		t.Fatal(err)
	}
	p, got, err := pc.GetPrice(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if p != 0.37 || !got.Equal(ts) {
		t.Fatalf("got %v %v", p, got)
	}
	if _, _, err := pc.GetPrice(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing: got %v", err)
	}
}

func TestLockExclusive(t *testing.T) {
	c := liveClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "eth", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Acquire(ctx, "eth", 5*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire: got %v", err)
	}
	if err := lease.Extend(ctx); err != nil {
		t.Fatalf("extend: %v", err)
	}
	lease.Release()
	lease.Release()
	if err := lease.Extend(ctx); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("extend after release: got %v", err)
	}
	again, err := lm.Acquire(ctx, "eth", 5*time.Second)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}
