package memory

import (
	"context"
	"testing"

	"tracker/internal/core"
)

func TestMirrorAppendAndHas(t *testing.T) {
	m := New()
	e := core.Expense{ID: "e1", UserID: "u1", Amount: core.Money{Cents: 123}}

	has, err := m.HasExpense(context.Background(), e)
	if err != nil || has {
		t.Fatalf("unexpected has before append: has=%v err=%v", has, err)
	}

	ref, err := m.AppendExpense(context.Background(), e)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	has, err = m.HasExpense(context.Background(), e)
	if err != nil || !has {
		t.Fatalf("expected expense to be mirrored: has=%v err=%v", has, err)
	}
	if rows := m.Rows(); len(rows) != 1 || rows[0].ID != "e1" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestMirrorRejectsMissingID(t *testing.T) {
	if _, err := New().AppendExpense(context.Background(), core.Expense{}); err == nil {
		t.Fatal("expected error for expense without id")
	}
}
