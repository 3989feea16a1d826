package behavior

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Result is the outcome of validating one request: ok, or the list of rejected fields.
type Result struct {
	Failures []berr.FieldFailure
}

// OK reports whether the request passed.
func (r Result) OK() bool { return len(r.Failures) == 0 }

// Validator inspects a request before it reaches its handler.
type Validator interface {
	Validate(ctx context.Context, req any) Result
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, req any) Result

func (f ValidatorFunc) Validate(ctx context.Context, req any) Result { return f(ctx, req) }

// Validate short-circuits requests that fail any of vs with a *berr.ValidationError carrying
// every failure. The handler is not invoked.
func Validate(vs ...Validator) cbus.Behavior {
	return func(next cbus.HandlerFunc) cbus.HandlerFunc {
		return func(ctx context.Context, req any) (any, error) {
			var failures []berr.FieldFailure
			for _, v := range vs {
				failures = append(failures, v.Validate(ctx, req).Failures...)
			}

			if len(failures) > 0 {
				return nil, &berr.ValidationError{Request: RequestName(req), Failures: failures}
			}

			return next(ctx, req)
		}
	}
}

// StructValidator validates requests through their `validate` struct tags. Field names in
// failures come from the json tag when present. Requests that are not structs pass.
type StructValidator struct {
	v *validator.Validate
}

// NewStructValidator returns a ready StructValidator.
func NewStructValidator() *StructValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)

	return &StructValidator{v: v}
}

func (s *StructValidator) Validate(ctx context.Context, req any) Result {
	t := reflect.TypeOf(req)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return Result{}
	}

	err := s.v.StructCtx(ctx, req)
	if err == nil {
		return Result{}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Result{Failures: []berr.FieldFailure{{Field: RequestName(req), Rule: "struct", Message: err.Error()}}}
	}

	out := make([]berr.FieldFailure, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, berr.FieldFailure{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: failureMessage(fe),
		})
	}

	return Result{Failures: out}
}

func failureMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}

		return "failed " + fe.Tag()
	}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	default:
		return name
	}
}
