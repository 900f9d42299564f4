package worker

import (
	"context"
	"errors"
	"fmt"

	"tracker/internal/amqp"
	"tracker/internal/core"
	"tracker/internal/log"
	"tracker/internal/observability"
	"tracker/internal/sheets"
	"tracker/internal/storage"
)

// Mirror outcomes reported to metrics.
const (
	OutcomeAppended = "appended"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// MirrorWorker copies saved expenses into a spreadsheet. The mirror is an
// append-only ledger: the first save of an expense adds its row and later
// events for the same ID are ignored.
type MirrorWorker struct {
	expenses storage.ExpenseStore
	mirror   sheets.ExpenseMirror
	logger   *log.Logger
	events   *log.StructuredLogger
}

func NewMirrorWorker(expenses storage.ExpenseStore, mirror sheets.ExpenseMirror, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentWorker)
	return &MirrorWorker{
		expenses: expenses,
		mirror:   mirror,
		logger:   logger,
		events:   log.NewStructuredLogger(logger),
	}
}

// HandleRecordChange processes a single change message from AMQP. Returning
// an error requeues the message.
func (w *MirrorWorker) HandleRecordChange(ctx context.Context, msg *amqp.RecordChangeMessage) error {
	if msg.Kind != amqp.KindExpense || msg.Op != amqp.OpSaved {
		return nil
	}

	w.logger.DebugContext(ctx, "Processing expense change",
		log.FieldRecordID, msg.ID,
		log.FieldUserID, msg.UserID)

	expense, err := w.expenses.GetExpense(ctx, msg.UserID, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted before we got to it.
		observability.RecordMirrored(OutcomeSkipped)
		w.logger.InfoContext(ctx, "Expense no longer exists, skipping",
			log.FieldRecordID, msg.ID,
			log.FieldUserID, msg.UserID)
		return nil
	}
	if err != nil {
		observability.RecordMirrored(OutcomeFailed)
		return fmt.Errorf("get expense from storage: %w", err)
	}

	_, err = w.mirrorExpense(ctx, expense)
	return err
}

// BackfillUser mirrors every stored expense of the user that has no row
// yet. It returns the number of rows appended. This recovers from messages
// lost while the worker was down.
func (w *MirrorWorker) BackfillUser(ctx context.Context, userID string) (int, error) {
	expenses, err := w.expenses.ListExpenses(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list expenses: %w", err)
	}

	appended, failed := 0, 0
	for _, e := range expenses {
		if err := ctx.Err(); err != nil {
			return appended, err
		}
		ok, err := w.mirrorExpense(ctx, e)
		if err != nil {
			w.events.LogError(ctx, "Failed to mirror expense during backfill", err,
				log.ComponentWorker, log.OpAppend,
				log.NewFields().WithRecord(amqp.KindExpense, e.ID, e.UserID))
			failed++
			continue
		}
		if ok {
			appended++
		}
	}

	w.logger.InfoContext(ctx, "Backfill completed",
		log.FieldUserID, userID,
		"total", len(expenses),
		"appended", appended,
		"errors", failed)

	if failed > 0 {
		return appended, fmt.Errorf("backfill: %d of %d expenses failed", failed, len(expenses))
	}
	return appended, nil
}

// mirrorExpense appends the expense unless its row already exists.
func (w *MirrorWorker) mirrorExpense(ctx context.Context, e core.Expense) (bool, error) {
	exists, err := w.mirror.HasExpense(ctx, e)
	if err != nil {
		observability.RecordMirrored(OutcomeFailed)
		return false, fmt.Errorf("check mirrored expense: %w", err)
	}
	if exists {
		observability.RecordMirrored(OutcomeSkipped)
		return false, nil
	}

	ref, err := w.mirror.AppendExpense(ctx, e)
	if err != nil {
		observability.RecordMirrored(OutcomeFailed)
		return false, fmt.Errorf("append to sheets: %w", err)
	}

	observability.RecordMirrored(OutcomeAppended)
	w.logger.InfoContext(ctx, "Mirrored expense",
		log.FieldRecordID, e.ID,
		log.FieldUserID, e.UserID,
		"sheets_ref", ref,
		"amount", e.Amount.String())
	return true, nil
}
