// Package memory provides an in-process sheets.ExpenseMirror for local runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"tracker/internal/core"
	ports "tracker/internal/sheets"
)

type Mirror struct {
	mu   sync.Mutex
	rows []core.Expense
	ids  map[string]struct{}
}

var _ ports.ExpenseMirror = (*Mirror)(nil)

func New() *Mirror {
	return &Mirror{ids: make(map[string]struct{})}
}

// AppendExpense stores the expense and returns a synthetic row reference.
func (m *Mirror) AppendExpense(_ context.Context, e core.Expense) (string, error) {
	if e.ID == "" {
		return "", fmt.Errorf("expense has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, e)
	m.ids[e.ID] = struct{}{}
	return fmt.Sprintf("mem:%d", len(m.rows)), nil
}

func (m *Mirror) HasExpense(_ context.Context, e core.Expense) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[e.ID]
	return ok, nil
}

// Rows returns a copy of every appended expense in append order.
func (m *Mirror) Rows() []core.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Expense(nil), m.rows...)
}
