package testsuite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists everything wrong with a test case definition.
type ValidationError struct {
	TestCase string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid test case %q: %s", e.TestCase, strings.Join(e.Problems, "; "))
}

// Validate checks a test case definition before it is run. Besides the
// struct constraints, every step must carry some user input: a message,
// its alias, or an input object.
func Validate(tc TestCase) error {
	var problems []string

	if err := validate.Struct(tc); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate test case %q: %w", tc.ID, err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
	}

	for i, step := range tc.Steps {
		if step.RawMessage() == "" && len(step.Input) == 0 {
			problems = append(problems, fmt.Sprintf("steps[%d] has no user input", i))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{TestCase: tc.ID, Problems: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "TestCase.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}
