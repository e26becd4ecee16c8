package cloudrun

import (
	"context"
	"strings"
	"testing"

	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/localfs"
)

func TestNew_LocalFallback(t *testing.T) {
	t.Setenv("K_SERVICE", "")

	p, err := New(context.Background(), "test-cache", t.TempDir(), compress.None())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			t.Logf("Close error: %v", err)
		}
	}()

	fs, ok := p.(*localfs.Store)
	if !ok {
		t.Fatalf("New() returned %T; want *localfs.Store", p)
	}
	if !strings.HasSuffix(fs.Dir, "test-cache") {
		t.Errorf("Dir = %s; want suffix test-cache", fs.Dir)
	}
}
