package sheets

import (
	"context"

	"tracker/internal/core"
)

// Ports for outbound adapters.
type (
	// ExpenseMirror keeps a spreadsheet copy of saved expenses.
	ExpenseMirror interface {
		// AppendExpense adds one row for the expense and returns a reference
		// to the written range.
		AppendExpense(ctx context.Context, e core.Expense) (rowRef string, err error)

		// HasExpense reports whether a row for the expense ID already exists.
		HasExpense(ctx context.Context, e core.Expense) (bool, error)
	}
)
