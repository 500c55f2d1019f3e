package shared

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var structValidator = validator.New()

// ValidateStruct runs struct tag validation and converts the first field
// failure into a ValidationError naming the period and employee.
func ValidateStruct(periodID, employeeID uuid.UUID, s any) error {
	err := structValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return NewValidationError(periodID, employeeID, "invalid_input", err.Error())
	}
	fe := fieldErrs[0]
	rule := strings.ToLower(fe.Field()) + "_" + fe.Tag()
	detail := fe.Field() + " failed " + fe.Tag()
	if fe.Param() != "" {
		detail += "=" + fe.Param()
	}
	return NewValidationError(periodID, employeeID, rule, detail)
}
