// Package queue is the durable record of requests that never reached the
// server. The whole queue lives under one store key as a JSON array in enqueue
// order, and every operation reads it back from the store so external edits to
// that key are always observed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/fieldsync/internal/action"
	"github.com/austindbirch/fieldsync/internal/store"
)

const DefaultKey = "fieldsync.pendingActions"

var ErrCorrupt = errors.New("queue: persisted value is not a valid action list")

// Queue is an ordered, persisted list of pending actions.
type Queue struct {
	store store.Store
	key   string
	mu    sync.Mutex
}

func New(s store.Store, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{store: s, key: key}
}

// Key returns the store key holding the queue.
func (q *Queue) Key() string {
	return q.key
}

// Enqueue appends a to the queue. Identical actions are not deduplicated.
func (q *Queue) Enqueue(ctx context.Context, a action.Action) (action.Action, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.load(ctx)
	if err != nil {
		return action.Action{}, err
	}
	if err := q.save(ctx, append(actions, a)); err != nil {
		return action.Action{}, err
	}
	return a, nil
}

// List returns the queued actions in enqueue order.
func (q *Queue) List(ctx context.Context) ([]action.Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	actions, err := q.List(ctx)
	return len(actions), err
}

// Clear removes every queued action.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Delete(ctx, q.key); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Drain takes a snapshot of the queue for one replay pass. The queue itself is
// left untouched until the batch is committed.
func (q *Queue) Drain(ctx context.Context) (*Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	return &Batch{q: q, Actions: actions}, nil
}

// Batch is a snapshot of the queue taken by Drain.
type Batch struct {
	q       *Queue
	Actions []action.Action
}

// Commit replaces the queue with retained followed by every action that was
// enqueued after the snapshot was taken. Snapshot actions not in retained are
// removed; actions removed externally since the snapshot stay removed.
func (b *Batch) Commit(ctx context.Context, retained []action.Action) error {
	b.q.mu.Lock()
	defer b.q.mu.Unlock()

	current, err := b.q.load(ctx)
	if err != nil {
		return err
	}

	inSnapshot := make(map[string]struct{}, len(b.Actions))
	for _, a := range b.Actions {
		inSnapshot[a.ID] = struct{}{}
	}
	stillQueued := make(map[string]struct{}, len(current))
	for _, a := range current {
		stillQueued[a.ID] = struct{}{}
	}

	next := make([]action.Action, 0, len(retained)+len(current))
	for _, a := range retained {
		if _, ok := stillQueued[a.ID]; ok {
			next = append(next, a)
		}
	}
	for _, a := range current {
		if _, ok := inSnapshot[a.ID]; !ok {
			next = append(next, a)
		}
	}
	return b.q.save(ctx, next)
}

func (q *Queue) load(ctx context.Context) ([]action.Action, error) {
	raw, err := q.store.Load(ctx, q.key)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var actions []action.Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	// Entries written by older clients carry no id; give them one and persist
	// it so snapshots and later reads agree on identity.
	missing := false
	for i := range actions {
		if actions[i].ID == "" {
			actions[i].ID = uuid.NewString()
			missing = true
		}
	}
	if missing {
		if err := q.save(ctx, actions); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

func (q *Queue) save(ctx context.Context, actions []action.Action) error {
	if len(actions) == 0 {
		if err := q.store.Delete(ctx, q.key); err != nil {
			return fmt.Errorf("save queue: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Save(ctx, q.key, raw); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}
