// Package validation checks inbound evaluation requests and enforces
// constructor contracts.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// flagKeyRegex matches the keys the definitions service accepts.
var flagKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// MaxFlagKeyLength bounds flag keys accepted from callers.
const MaxFlagKeyLength = 400

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("flagkey", func(fl validator.FieldLevel) bool {
			return FlagKey(fl.Field().String()) == nil
		})
	})
	return validate
}

// FieldError is one failed rule of a request.
type FieldError struct {
	Field string
	Rule  string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s failed on %q", e.Field, e.Rule)
}

// Errors collects every failed rule of a request.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// Struct validates v against its `validate` tags. Besides the stock rules,
// "flagkey" accepts strings that FlagKey accepts.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Namespace(), Rule: fe.Tag()})
	}
	return out
}

// FlagKey checks a single flag key.
func FlagKey(key string) error {
	switch {
	case key == "":
		return errors.New("flag key is required")
	case len(key) > MaxFlagKeyLength:
		return fmt.Errorf("flag key exceeds %d characters", MaxFlagKeyLength)
	case !flagKeyRegex.MatchString(key):
		return errors.New("flag key may only contain letters, digits, '_', '-' and '.'")
	}
	return nil
}

// AssertNotNil panics if ptr is nil. It is meant for mandatory constructor
// dependencies, where a nil value is a programming error.
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}
