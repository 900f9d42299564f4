// Package services provides business logic and orchestration services.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tracker/internal/amqp"
	"tracker/internal/core"
	"tracker/internal/log"
	"tracker/internal/observability"
	"tracker/internal/storage"
)

// ErrUnknownActivity is returned when an expense links to an activity the
// user does not own.
var ErrUnknownActivity = errors.New("linked activity not found")

// ChangePublisher announces committed writes to other processes.
type ChangePublisher interface {
	PublishRecordChange(ctx context.Context, msg *amqp.RecordChangeMessage) error
}

// RecordService is the single write path for activities and expenses. Every
// write runs the same pipeline: defaults, derive and validate, persist, then
// notify. A rejected record never reaches the store.
type RecordService struct {
	store     storage.Store
	publisher ChangePublisher
	logger    *log.Logger
	events    *log.StructuredLogger
	loc       *time.Location
	now       func() time.Time
	newID     func() string
	onChange  []func(userID string)
}

// Option configures a RecordService.
type Option func(*RecordService)

// WithLocation sets the location used to compute "today" for expense dates.
func WithLocation(loc *time.Location) Option {
	return func(s *RecordService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *RecordService) { s.now = now }
}

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *RecordService) { s.newID = newID }
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *RecordService) {
		if logger != nil {
			s.logger = logger.WithComponent(log.ComponentRecords)
		}
	}
}

// OnChange registers a hook run after every committed write for a user.
func OnChange(fn func(userID string)) Option {
	return func(s *RecordService) { s.onChange = append(s.onChange, fn) }
}

// NewRecordService builds the service. publisher may be nil, in which case
// no change events are sent.
func NewRecordService(store storage.Store, publisher ChangePublisher, opts ...Option) *RecordService {
	s := &RecordService{
		store:     store,
		publisher: publisher,
		logger:    log.FromContext(context.Background()).WithComponent(log.ComponentRecords),
		loc:       time.UTC,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = log.NewStructuredLogger(s.logger)
	return s
}

// SaveActivity creates the activity when it has no ID and updates it
// otherwise. The stored record, with derived fields, is returned.
func (s *RecordService) SaveActivity(ctx context.Context, a core.Activity) (core.Activity, error) {
	a, err := s.prepareActivity(a)
	if err != nil {
		return core.Activity{}, err
	}

	op := log.OpUpdate
	if a.ID == "" {
		op = log.OpCreate
		a.ID = s.newID()
		err = s.store.CreateActivity(ctx, a)
	} else {
		err = s.store.UpdateActivity(ctx, a)
	}
	if err != nil {
		return core.Activity{}, fmt.Errorf("save activity: %w", err)
	}

	s.committed(ctx, amqp.KindActivity, op, a.ID, a.UserID)
	return a, nil
}

// SaveExpense creates or updates an expense. Year, month and week are always
// recomputed from the date.
func (s *RecordService) SaveExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	creating := e.ID == ""
	e, err := s.prepareExpense(e, creating)
	if err != nil {
		return core.Expense{}, err
	}
	if err := s.checkLinkedActivity(ctx, e); err != nil {
		return core.Expense{}, err
	}

	op := log.OpUpdate
	if creating {
		op = log.OpCreate
		e.ID = s.newID()
		err = s.store.CreateExpense(ctx, e)
	} else {
		err = s.store.UpdateExpense(ctx, e)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	s.committed(ctx, amqp.KindExpense, op, e.ID, e.UserID)
	return e, nil
}

// SaveActivityWithExpense creates a new activity together with an expense
// linked to it. Both records are validated before anything is written and
// the store commits them atomically.
func (s *RecordService) SaveActivityWithExpense(ctx context.Context, a core.Activity, e core.Expense) (core.Activity, core.Expense, error) {
	if e.UserID == "" {
		e.UserID = a.UserID
	}
	if e.UserID != a.UserID {
		return core.Activity{}, core.Expense{}, ErrUnknownActivity
	}

	a, err := s.prepareActivity(a)
	if err != nil {
		return core.Activity{}, core.Expense{}, err
	}
	e, err = s.prepareExpense(e, true)
	if err != nil {
		return core.Activity{}, core.Expense{}, err
	}

	a.ID = s.newID()
	e.ID = s.newID()
	e.ActivityID = a.ID

	if err := s.store.CreateActivityWithExpense(ctx, a, e); err != nil {
		return core.Activity{}, core.Expense{}, fmt.Errorf("save activity with expense: %w", err)
	}

	s.committed(ctx, amqp.KindActivity, log.OpCreate, a.ID, a.UserID)
	s.committed(ctx, amqp.KindExpense, log.OpCreate, e.ID, e.UserID)
	return a, e, nil
}

func (s *RecordService) GetActivity(ctx context.Context, userID, id string) (core.Activity, error) {
	a, err := s.store.GetActivity(ctx, userID, id)
	if err != nil {
		return core.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

func (s *RecordService) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	e, err := s.store.GetExpense(ctx, userID, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

// ListActivities returns the user's activities that started at or after
// since, ordered by start time. A zero since lists everything.
func (s *RecordService) ListActivities(ctx context.Context, userID string, since time.Time) ([]core.Activity, error) {
	activities, err := s.store.ListActivities(ctx, userID, storage.ActivityQuery{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

func (s *RecordService) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	expenses, err := s.store.ListExpenses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// Ping reports whether the record store is reachable.
func (s *RecordService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DeleteActivity removes an activity. Linked expenses are kept and unlinked.
func (s *RecordService) DeleteActivity(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteActivity(ctx, userID, id); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	s.committed(ctx, amqp.KindActivity, log.OpDelete, id, userID)
	return nil
}

func (s *RecordService) DeleteExpense(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteExpense(ctx, userID, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	s.committed(ctx, amqp.KindExpense, log.OpDelete, id, userID)
	return nil
}

// DeleteUser removes every activity and expense owned by the user.
func (s *RecordService) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return core.ErrMissingUser
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.committed(ctx, amqp.KindUser, log.OpDelete, userID, userID)
	return nil
}

// prepareActivity applies defaults, validates, then derives.
func (s *RecordService) prepareActivity(a core.Activity) (core.Activity, error) {
	if a.Type == "" {
		a.Type = core.ActivityOther
	}
	if err := a.Validate(); err != nil {
		observability.RecordValidationFailure(amqp.KindActivity)
		return core.Activity{}, err
	}
	return core.DeriveActivity(a), nil
}

// prepareExpense applies defaults, derives, then validates.
func (s *RecordService) prepareExpense(e core.Expense, creating bool) (core.Expense, error) {
	if e.Category == "" {
		e.Category = core.CategoryOther
	}
	if creating && e.Date.IsZero() {
		e.Date = core.DateOf(s.now().In(s.loc))
	}
	e = core.DeriveExpense(e)
	if err := e.Validate(); err != nil {
		observability.RecordValidationFailure(amqp.KindExpense)
		return core.Expense{}, err
	}
	return e, nil
}

func (s *RecordService) checkLinkedActivity(ctx context.Context, e core.Expense) error {
	if !e.Linked() {
		return nil
	}
	_, err := s.store.GetActivity(ctx, e.UserID, e.ActivityID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownActivity
	}
	if err != nil {
		return fmt.Errorf("check linked activity: %w", err)
	}
	return nil
}

// committed runs the post-write steps. None of them can fail the request.
func (s *RecordService) committed(ctx context.Context, kind, op, id, userID string) {
	observability.RecordSaved(kind, op)
	s.events.LogRecordSaved(ctx, kind, op, id, userID)

	for _, fn := range s.onChange {
		fn(userID)
	}

	if s.publisher == nil {
		return
	}
	changeOp := amqp.OpSaved
	if op == log.OpDelete {
		changeOp = amqp.OpDeleted
	}
	if err := s.publisher.PublishRecordChange(ctx, amqp.NewRecordChangeMessage(kind, changeOp, id, userID)); err != nil {
		observability.RecordPublishFailure()
		s.logger.WarnContext(ctx, "Failed to publish record change",
			log.FieldRecordKind, kind,
			log.FieldRecordID, id,
			log.FieldError, err)
	}
}
