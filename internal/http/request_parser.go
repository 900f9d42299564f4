// Package http provides HTTP server and handler implementations.
//
// This file implements decoding and shape validation of JSON request bodies.
// Domain rules (time ranges, positive amounts) stay in core; the checks here
// only reject bodies that cannot be turned into a record at all.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"

	"tracker/internal/core"
)

const maxBodyBytes = 1 << 20

// errBadBody marks bodies that are not valid JSON for the target type.
var errBadBody = errors.New("malformed request body")

type activityRequest struct {
	Name            string     `json:"name" validate:"required,max=200"`
	Description     string     `json:"description" validate:"max=2000"`
	StartTime       time.Time  `json:"start_time" validate:"required"`
	EndTime         *time.Time `json:"end_time"`
	// Capped at 100 years so the value fits a time.Duration.
	DurationSeconds *int64     `json:"duration_seconds" validate:"omitempty,min=0,max=3162240000"`
	Type            string     `json:"type" validate:"omitempty,activitytype"`
}

type expenseRequest struct {
	Amount      core.Money `json:"amount"`
	Category    string     `json:"category" validate:"omitempty,category"`
	Date        string     `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description string     `json:"description" validate:"max=2000"`
	ActivityID  string     `json:"activity_id" validate:"omitempty,max=64"`
}

type activityWithExpenseRequest struct {
	Activity activityRequest `json:"activity" validate:"required"`
	Expense  expenseRequest  `json:"expense" validate:"required"`
}

func (req activityRequest) toActivity(userID, id string) (core.Activity, error) {
	typ, err := core.ParseActivityType(req.Type)
	if err != nil {
		return core.Activity{}, err
	}
	a := core.Activity{
		ID:          id,
		UserID:      userID,
		Name:        sanitizeInput(req.Name),
		Description: sanitizeInput(req.Description),
		StartTime:   req.StartTime,
		Type:        typ,
	}
	if req.EndTime != nil {
		a.EndTime = *req.EndTime
	}
	if req.DurationSeconds != nil {
		a.Duration = time.Duration(*req.DurationSeconds) * time.Second
	}
	return a, nil
}

func (req expenseRequest) toExpense(userID, id string) (core.Expense, error) {
	category, err := core.ParseCategory(req.Category)
	if err != nil {
		return core.Expense{}, err
	}
	e := core.Expense{
		ID:          id,
		UserID:      userID,
		ActivityID:  strings.TrimSpace(req.ActivityID),
		Amount:      req.Amount,
		Category:    category,
		Description: sanitizeInput(req.Description),
	}
	if req.Date != "" {
		if e.Date, err = core.ParseDate(req.Date); err != nil {
			return core.Expense{}, core.ErrMissingDate
		}
	}
	return e, nil
}

// Violation describes one field that failed shape validation.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// requestValidator wraps the validator singleton together with the English
// translator used to render violations.
type requestValidator struct {
	validate *validator.Validate
	trans    ut.Translator
}

var requests = newRequestValidator()

func newRequestValidator() *requestValidator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)

	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic(fmt.Sprintf("register validator translations: %v", err))
	}

	activityTypes := make([]string, 0, len(core.ActivityTypes()))
	for _, t := range core.ActivityTypes() {
		activityTypes = append(activityTypes, string(t))
	}
	categories := make([]string, 0, len(core.Categories()))
	for _, c := range core.Categories() {
		categories = append(categories, string(c))
	}

	custom := []struct {
		tag     string
		fn      validator.Func
		message string
	}{
		{"activitytype", isActivityType, "{0} must be one of [" + strings.Join(activityTypes, " ") + "]"},
		{"category", isCategory, "{0} must be one of [" + strings.Join(categories, " ") + "]"},
	}
	for _, c := range custom {
		if err := validate.RegisterValidation(c.tag, c.fn); err != nil {
			panic(fmt.Sprintf("register validation %s: %v", c.tag, err))
		}
		tag, message := c.tag, c.message
		err := validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		}, func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		})
		if err != nil {
			panic(fmt.Sprintf("register translation %s: %v", tag, err))
		}
	}

	return &requestValidator{validate: validate, trans: trans}
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func isActivityType(fl validator.FieldLevel) bool {
	_, err := core.ParseActivityType(fl.Field().String())
	return err == nil
}

func isCategory(fl validator.FieldLevel) bool {
	_, err := core.ParseCategory(fl.Field().String())
	return err == nil
}

// violations translates validator errors into response entries.
func (v *requestValidator) violations(ve validator.ValidationErrors) []Violation {
	out := make([]Violation, 0, len(ve))
	for _, fe := range ve {
		out = append(out, Violation{
			Field:   strings.TrimPrefix(fe.Namespace(), namespaceRoot(fe)),
			Rule:    fe.Tag(),
			Message: fe.Translate(v.trans),
		})
	}
	return out
}

// namespaceRoot returns the leading struct name of a field namespace, which
// is the Go type name and means nothing to API clients.
func namespaceRoot(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[:i+1]
	}
	return ""
}

// decodeJSON reads a size-limited JSON body into dest and validates its
// shape. Amounts that fail to parse surface as core validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if core.IsValidation(err) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return requests.validate.Struct(dest)
}
