package ledger_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/handoff/internal/ledger"
)

func TestOpen_memory(t *testing.T) {
	l, closeFn, err := ledger.Open(ctx, ledger.BackendConfig{Kind: ledger.BackendMemory}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if _, err := l.SubmitAnchor(ctx, anchor("a"), "evt-1"); err != nil {
		t.Fatalf("SubmitAnchor: %v", err)
	}
	if n, _ := l.Len(ctx); n != 2 {
		t.Errorf("Len: got %d, want 2", n)
	}
}

func TestOpen_unknownBackend(t *testing.T) {
	if _, _, err := ledger.Open(ctx, ledger.BackendConfig{Kind: "etcd"}, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestOpen_badRedisURL(t *testing.T) {
	_, _, err := ledger.Open(ctx, ledger.BackendConfig{Kind: ledger.BackendRedis, RedisURL: "::"}, zap.NewNop())
	if err == nil {
		t.Fatal("expected an error for a malformed redis url")
	}
}
