package valkey

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
)

// newTestStore connects to the server in VALKEY_ADDR, skipping when unset.
func newTestStore(t *testing.T, c ...compress.Compressor) *Store {
	t.Helper()
	addr := os.Getenv("VALKEY_ADDR")
	if addr == "" {
		t.Skip("VALKEY_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := fmt.Sprintf("offlinecache-test-%d", time.Now().UnixNano())
	s, err := New(ctx, id, addr, c...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := s.Keys(ctx, "") //nolint:errcheck // best-effort cleanup
		for _, k := range keys {
			_ = s.Delete(ctx, k) //nolint:errcheck // best-effort cleanup
		}
		_ = s.Close() //nolint:errcheck // best-effort cleanup
	})
	return s
}

func TestStore_SetGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "spots:u1", []byte("a")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err := s.Get(ctx, "spots:u1")
	if err != nil || !found || string(v) != "a" {
		t.Fatalf("Get = %q, %v, %v", v, found, err)
	}
	if err := s.Delete(ctx, "spots:u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.Get(ctx, "spots:u1"); found {
		t.Error("deleted key should not be found")
	}
}

func TestStore_KeysWithCompression(t *testing.T) {
	s := newTestStore(t, compress.S2())
	ctx := context.Background()

	for _, k := range []string{"r:1", "r:2", "s:1"} {
		if err := s.Set(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	keys, err := s.Keys(ctx, "r:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if fmt.Sprint(keys) != "[r:1 r:2]" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestEscapeGlob(t *testing.T) {
	got := escapeGlob(`a*b?[c]`)
	want := `a\*b\?\[c\]`
	if got != want {
		t.Errorf("escapeGlob = %q; want %q", got, want)
	}
}

func TestNew_EmptyCacheID(t *testing.T) {
	if _, err := New(context.Background(), "", "localhost:0"); err == nil {
		t.Error("New with empty cacheID should fail")
	}
}
