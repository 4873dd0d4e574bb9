package server

import (
	"testing"
	"time"

	"lanstream/internal/testsupport/redisstub"
)

func TestRedisStoreAllowCountsAttempts(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	store := newRedisStore(srv.Addr(), "", "secret", time.Second)

	allowed, retry, err := store.Allow("lanstream:login:198.51.100.7", 2, 30*time.Second)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("first allow unexpected: allowed=%v retry=%v err=%v", allowed, retry, err)
	}
	allowed, _, err = store.Allow("lanstream:login:198.51.100.7", 2, 30*time.Second)
	if err != nil || !allowed {
		t.Fatalf("second allow unexpected: allowed=%v err=%v", allowed, err)
	}
	allowed, retry, err = store.Allow("lanstream:login:198.51.100.7", 2, 30*time.Second)
	if err != nil {
		t.Fatalf("third allow err: %v", err)
	}
	if allowed {
		t.Fatalf("expected throttle on third attempt")
	}
	if retry <= 0 {
		t.Fatalf("expected positive retry hint, got %v", retry)
	}

	// A different key has its own budget.
	allowed, _, err = store.Allow("lanstream:login:203.0.113.4", 2, 30*time.Second)
	if err != nil || !allowed {
		t.Fatalf("separate key unexpected: allowed=%v err=%v", allowed, err)
	}
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	store := newRedisStore("127.0.0.1:1", "", "", 200*time.Millisecond)
	if _, _, err := store.Allow("lanstream:login:unreachable", 1, time.Second); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}
