package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/austindbirch/fieldsync/internal/action"
	"github.com/austindbirch/fieldsync/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	return New(s, "test.pending"), s
}

func mustEnqueue(t *testing.T, q *Queue, endpoint, body string) action.Action {
	t.Helper()
	a, err := q.Enqueue(context.Background(), action.New(endpoint, action.Options{Method: "POST", Body: body}))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return a
}

func ids(actions []action.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func TestNew_DefaultKey(t *testing.T) {
	q := New(store.NewMemory(), "")
	if q.Key() != DefaultKey {
		t.Errorf("Key() = %q, want %q", q.Key(), DefaultKey)
	}
}

func TestEnqueue_NoDeduplication(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, action.Action{Endpoint: "/api/leads/7/dnk", Options: action.Options{Method: "PUT"}}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Len() = %d, want 3 identical entries", n)
	}
}

func TestEnqueue_FillsIDAndTimestamp(t *testing.T) {
	q, _ := newTestQueue(t)

	before := time.Now().UTC()
	a, err := q.Enqueue(context.Background(), action.Action{Endpoint: "/api/invoices"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if a.ID == "" {
		t.Error("Enqueue() did not assign an id")
	}
	if a.EnqueuedAt.Before(before) {
		t.Errorf("Enqueue() EnqueuedAt = %v, want >= %v", a.EnqueuedAt, before)
	}
}

func TestList_PreservesOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	var want []string
	for i := 0; i < 5; i++ {
		want = append(want, mustEnqueue(t, q, fmt.Sprintf("/api/stops/%d", i), "{}").ID)
	}

	got, err := q.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("List() order mismatch (-want +got):\n%s", diff)
	}
}

func TestExternalClearIsObserved(t *testing.T) {
	q, s := newTestQueue(t)
	mustEnqueue(t, q, "/api/leads", `{"name":"A"}`)
	mustEnqueue(t, q, "/api/leads", `{"name":"B"}`)

	if err := s.Delete(context.Background(), "test.pending"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := q.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List() after external clear = %d actions, want 0", len(got))
	}
}

func TestClear(t *testing.T) {
	q, s := newTestQueue(t)
	mustEnqueue(t, q, "/api/leads", "{}")

	if err := q.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	raw, _ := s.Load(context.Background(), "test.pending")
	if raw != nil {
		t.Errorf("store still holds %q after Clear()", raw)
	}
}

func TestCorruptValue(t *testing.T) {
	q, s := newTestQueue(t)
	_ = s.Save(context.Background(), "test.pending", []byte("{not json"))

	_, err := q.List(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("List() error = %v, want ErrCorrupt", err)
	}
	if _, err := q.Enqueue(context.Background(), action.Action{Endpoint: "/x"}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Enqueue() error = %v, want ErrCorrupt", err)
	}
}

func TestLegacyEntriesGetIDs(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	legacy := `[{"endpoint":"/api/leads","options":{"method":"POST","body":"{}"},"timestamp":"2024-05-01T10:00:00Z"}]`
	_ = s.Save(ctx, "test.pending", []byte(legacy))

	first, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(first) != 1 || first[0].ID == "" {
		t.Fatalf("List() = %+v, want one action with an id", first)
	}
	second, _ := q.List(ctx)
	if second[0].ID != first[0].ID {
		t.Errorf("id changed between reads: %q then %q", first[0].ID, second[0].ID)
	}
	if second[0].Options.Body != "{}" || second[0].Endpoint != "/api/leads" {
		t.Errorf("legacy payload altered: %+v", second[0])
	}
}

func TestDrainCommit(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, q *Queue, s *store.Memory) (want []string)
	}{
		{
			name: "retained only",
			run: func(t *testing.T, q *Queue, _ *store.Memory) []string {
				a := mustEnqueue(t, q, "/a", "")
				b := mustEnqueue(t, q, "/b", "")
				batch, _ := q.Drain(context.Background())
				_ = a
				if err := batch.Commit(context.Background(), []action.Action{b}); err != nil {
					t.Fatalf("Commit() error = %v", err)
				}
				return []string{b.ID}
			},
		},
		{
			name: "everything delivered",
			run: func(t *testing.T, q *Queue, _ *store.Memory) []string {
				mustEnqueue(t, q, "/a", "")
				batch, _ := q.Drain(context.Background())
				if err := batch.Commit(context.Background(), nil); err != nil {
					t.Fatalf("Commit() error = %v", err)
				}
				return []string{}
			},
		},
		{
			name: "actions enqueued during the pass are appended",
			run: func(t *testing.T, q *Queue, _ *store.Memory) []string {
				a := mustEnqueue(t, q, "/a", "")
				b := mustEnqueue(t, q, "/b", "")
				batch, _ := q.Drain(context.Background())
				c := mustEnqueue(t, q, "/c", "")
				if err := batch.Commit(context.Background(), []action.Action{a}); err != nil {
					t.Fatalf("Commit() error = %v", err)
				}
				_ = b
				return []string{a.ID, c.ID}
			},
		},
		{
			name: "external clear during the pass wins",
			run: func(t *testing.T, q *Queue, s *store.Memory) []string {
				a := mustEnqueue(t, q, "/a", "")
				batch, _ := q.Drain(context.Background())
				_ = s.Delete(context.Background(), "test.pending")
				if err := batch.Commit(context.Background(), []action.Action{a}); err != nil {
					t.Fatalf("Commit() error = %v", err)
				}
				return []string{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, s := newTestQueue(t)
			want := tt.run(t, q, s)

			got, err := q.List(context.Background())
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if diff := cmp.Diff(want, ids(got)); diff != "" {
				t.Errorf("queue after commit mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDrain_SnapshotIsStable(t *testing.T) {
	q, _ := newTestQueue(t)
	mustEnqueue(t, q, "/a", "")

	batch, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	mustEnqueue(t, q, "/b", "")

	if len(batch.Actions) != 1 {
		t.Errorf("snapshot has %d actions, want 1", len(batch.Actions))
	}
}

func TestCommit_RetainedPayloadUnchanged(t *testing.T) {
	q, _ := newTestQueue(t)
	orig := mustEnqueue(t, q, "/api/invoices/12", `{"amount":1250,"currency":"USD"}`)

	batch, _ := q.Drain(context.Background())
	if err := batch.Commit(context.Background(), batch.Actions); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, _ := q.List(context.Background())
	if len(got) != 1 {
		t.Fatalf("List() = %d actions, want 1", len(got))
	}
	if diff := cmp.Diff(orig, got[0]); diff != "" {
		t.Errorf("retained action changed (-want +got):\n%s", diff)
	}
}

func TestEnqueue_Concurrent(t *testing.T) {
	q, _ := newTestQueue(t)
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := q.Enqueue(context.Background(), action.New(fmt.Sprintf("/api/stops/%d", i), action.Options{})); err != nil {
				t.Errorf("Enqueue() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got, _ := q.Len(context.Background()); got != n {
		t.Errorf("Len() = %d, want %d", got, n)
	}
}
