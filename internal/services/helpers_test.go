package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tracker/internal/amqp"
	"tracker/internal/core"
	"tracker/internal/storage"
	"tracker/internal/storage/memory"
)

var errBoom = errors.New("database is locked")

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.RecordChangeMessage
	err  error
}

func (p *fakePublisher) PublishRecordChange(_ context.Context, msg *amqp.RecordChangeMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) published() []*amqp.RecordChangeMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.RecordChangeMessage(nil), p.msgs...)
}

// failingStore wraps a memory store and fails the selected operations.
type failingStore struct {
	*memory.Store
	failDualWrite bool
	failList      bool
	failSums      bool
}

func (f *failingStore) CreateActivityWithExpense(ctx context.Context, a core.Activity, e core.Expense) error {
	if f.failDualWrite {
		return fmt.Errorf("insert expense: %w", errBoom)
	}
	return f.Store.CreateActivityWithExpense(ctx, a, e)
}

func (f *failingStore) ListActivities(ctx context.Context, userID string, q storage.ActivityQuery) ([]core.Activity, error) {
	if f.failList {
		return nil, errBoom
	}
	return f.Store.ListActivities(ctx, userID, q)
}

func (f *failingStore) SumExpensesByCategory(ctx context.Context, userID string) ([]core.CategoryTotal, error) {
	if f.failSums {
		return nil, errBoom
	}
	return f.Store.SumExpensesByCategory(ctx, userID)
}

// countingStore counts activity listings so tests can observe cache hits.
type countingStore struct {
	*memory.Store
	lists atomic.Int64
}

func (c *countingStore) ListActivities(ctx context.Context, userID string, q storage.ActivityQuery) ([]core.Activity, error) {
	c.lists.Add(1)
	return c.Store.ListActivities(ctx, userID, q)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// gatedStore holds activity listings until open is called, so a test can
// act while a dashboard load is in progress.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	gated   atomic.Bool
}

func newGatedStore() *gatedStore {
	g := &gatedStore{
		Store:   memory.NewStore(),
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	g.gated.Store(true)
	return g
}

func (g *gatedStore) ListActivities(ctx context.Context, userID string, q storage.ActivityQuery) ([]core.Activity, error) {
	if g.gated.Load() {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Store.ListActivities(ctx, userID, q)
}

func (g *gatedStore) open() {
	g.gated.Store(false)
	close(g.release)
}
