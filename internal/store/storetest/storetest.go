// Package storetest checks that a store.Store backend behaves like the others.
package storetest

import (
	"bytes"
	"context"
	"testing"

	"github.com/austindbirch/fieldsync/internal/store"
)

// Run exercises the Store contract against a fresh backend from newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("absent key loads nil", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Load(ctx, "missing")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %q, want nil", got)
		}
	})

	t.Run("save then load", func(t *testing.T) {
		s := newStore(t)
		want := []byte(`[{"endpoint":"/api/leads"}]`)
		if err := s.Save(ctx, "queue", want); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := s.Load(ctx, "queue")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Load() = %q, want %q", got, want)
		}
	})

	t.Run("save overwrites", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, "queue", []byte("first")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := s.Save(ctx, "queue", []byte("second")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, _ := s.Load(ctx, "queue")
		if string(got) != "second" {
			t.Errorf("Load() = %q, want second", got)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, "a", []byte("1"))
		_ = s.Save(ctx, "b", []byte("2"))
		if err := s.Delete(ctx, "a"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if got, _ := s.Load(ctx, "a"); got != nil {
			t.Errorf("Load(a) after delete = %q, want nil", got)
		}
		if got, _ := s.Load(ctx, "b"); string(got) != "2" {
			t.Errorf("Load(b) = %q, want 2", got)
		}
	})

	t.Run("delete absent key", func(t *testing.T) {
		s := newStore(t)
		if err := s.Delete(ctx, "never-saved"); err != nil {
			t.Errorf("Delete() error = %v, want nil", err)
		}
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, "queue", []byte("abc"))
		got, _ := s.Load(ctx, "queue")
		got[0] = 'X'
		again, _ := s.Load(ctx, "queue")
		if string(again) != "abc" {
			t.Errorf("mutating a loaded value changed the store: %q", again)
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := s.Save(cctx, "queue", []byte("x")); err == nil {
			t.Error("Save() with canceled context should fail")
		}
	})
}
