//go:build !windows

package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/scoper/internal/errors"
)

func TestOpenNoFollow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.jsonl")
	if err := os.WriteFile(target, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	link := filepath.Join(dir, "link.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	f, err := openNoFollow(target, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("openNoFollow(target) error = %v", err)
	}
	f.Close()

	if _, err := openNoFollow(link, os.O_RDONLY, 0); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("read through symlink error = %v, want INVALID_REQUEST", err)
	}
	if _, err := openNoFollow(link, os.O_WRONLY|os.O_TRUNC, 0600); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("write through symlink error = %v, want INVALID_REQUEST", err)
	}
	if _, err := openNoFollow(filepath.Join(dir, "missing.jsonl"), os.O_RDONLY, 0); !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("missing file error = %v, want FILE_NOT_FOUND", err)
	}

	created, err := openNoFollow(filepath.Join(dir, "new.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	created.Close()
}
