package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/amqp"
	"tracker/internal/core"
	"tracker/internal/log"
	sheetsmem "tracker/internal/sheets/memory"
	"tracker/internal/storage/memory"
)

var errSheets = errors.New("quota exceeded")

// flakyMirror fails appends until fail is cleared.
type flakyMirror struct {
	*sheetsmem.Mirror
	fail bool
}

func (f *flakyMirror) AppendExpense(ctx context.Context, e core.Expense) (string, error) {
	if f.fail {
		return "", errSheets
	}
	return f.Mirror.AppendExpense(ctx, e)
}

func seed(t *testing.T, store *memory.Store, id, user string, cents int64) core.Expense {
	t.Helper()
	e := core.DeriveExpense(core.Expense{
		ID: id, UserID: user, Amount: core.Money{Cents: cents},
		Category: core.CategoryFood, Date: core.NewDate(2024, 5, 17),
	})
	require.NoError(t, store.CreateExpense(context.Background(), e))
	return e
}

func TestHandleRecordChange(t *testing.T) {
	store := memory.NewStore()
	mirror := sheetsmem.New()
	w := NewMirrorWorker(store, mirror, log.Discard())
	ctx := context.Background()
	e := seed(t, store, "e1", "u1", 1250)

	tests := []struct {
		name string
		msg  *amqp.RecordChangeMessage
		rows int
	}{
		{"activity events are ignored", amqp.NewRecordChangeMessage(amqp.KindActivity, amqp.OpSaved, "a1", "u1"), 0},
		{"deletes are ignored", amqp.NewRecordChangeMessage(amqp.KindExpense, amqp.OpDeleted, e.ID, "u1"), 0},
		{"saved expense is appended", amqp.NewRecordChangeMessage(amqp.KindExpense, amqp.OpSaved, e.ID, "u1"), 1},
		{"redelivery is idempotent", amqp.NewRecordChangeMessage(amqp.KindExpense, amqp.OpSaved, e.ID, "u1"), 1},
		{"vanished expense is skipped", amqp.NewRecordChangeMessage(amqp.KindExpense, amqp.OpSaved, "gone", "u1"), 1},
		{"other user's expense is skipped", amqp.NewRecordChangeMessage(amqp.KindExpense, amqp.OpSaved, e.ID, "u2"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, w.HandleRecordChange(ctx, tt.msg))
			assert.Len(t, mirror.Rows(), tt.rows)
		})
	}

	rows := mirror.Rows()
	assert.Equal(t, e, rows[0])
}

func TestHandleRecordChangeRequeuesOnMirrorFailure(t *testing.T) {
	store := memory.NewStore()
	mirror := &flakyMirror{Mirror: sheetsmem.New(), fail: true}
	w := NewMirrorWorker(store, mirror, log.Discard())
	e := seed(t, store, "e1", "u1", 100)
	msg := amqp.NewRecordChangeMessage(amqp.KindExpense, amqp.OpSaved, e.ID, e.UserID)

	err := w.HandleRecordChange(context.Background(), msg)
	assert.ErrorIs(t, err, errSheets)

	mirror.fail = false
	require.NoError(t, w.HandleRecordChange(context.Background(), msg))
	assert.Len(t, mirror.Rows(), 1)
}

func TestBackfillUser(t *testing.T) {
	store := memory.NewStore()
	mirror := sheetsmem.New()
	w := NewMirrorWorker(store, mirror, nil)
	ctx := context.Background()

	first := seed(t, store, "e1", "u1", 100)
	seed(t, store, "e2", "u1", 200)
	seed(t, store, "e3", "u2", 300)
	_, err := mirror.AppendExpense(ctx, first)
	require.NoError(t, err)

	n, err := w.BackfillUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, mirror.Rows(), 2)

	n, err = w.BackfillUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackfillUserReportsFailures(t *testing.T) {
	store := memory.NewStore()
	mirror := &flakyMirror{Mirror: sheetsmem.New(), fail: true}
	w := NewMirrorWorker(store, mirror, log.Discard())
	seed(t, store, "e1", "u1", 100)
	seed(t, store, "e2", "u1", 200)

	n, err := w.BackfillUser(context.Background(), "u1")
	assert.Error(t, err)
	assert.Zero(t, n)
}
