package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/austindbirch/fieldsync/internal/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) Store { return NewMemory() })
}

func TestFile(t *testing.T) {
	storetest.Run(t, func(t *testing.T) Store {
		s, err := NewFile(t.TempDir())
		if err != nil {
			t.Fatalf("NewFile() error = %v", err)
		}
		return s
	})
}

func TestNewFile_EmptyDir(t *testing.T) {
	if _, err := NewFile(""); err == nil {
		t.Error("NewFile(\"\") should fail")
	}
}

func TestFile_InvalidKey(t *testing.T) {
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	for _, key := range []string{"", "../escape", "a/b", ".."} {
		if err := s.Save(context.Background(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Save(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestFile_ExternalDeleteIsVisible(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "fieldsync.pendingActions", []byte("[]")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "fieldsync.pendingActions.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	got, err := s.Load(ctx, "fieldsync.pendingActions")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() after external delete = %q, want nil", got)
	}
}

func TestFile_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFile(dir)
	for i := 0; i < 3; i++ {
		if err := s.Save(context.Background(), "queue", []byte("v")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "queue.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want [queue.json]", names)
	}
}
