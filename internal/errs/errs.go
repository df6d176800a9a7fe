package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeEntitlementDenied Code = "ENTITLEMENT_DENIED"
	CodeConcurrencyLimit  Code = "CONCURRENCY_LIMIT_EXCEEDED"
	CodeAlreadyActive     Code = "ALREADY_ACTIVE"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeNotFound          Code = "NOT_FOUND"
	CodeCapacityExceeded  Code = "CAPACITY_EXCEEDED"
	CodeInternal          Code = "INTERNAL"
)

// AppError is a business rejection or failure tagged with a stable code.
type AppError struct {
	Code Code
	Op   string
	Err  error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func WrapWithCode(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code: code,
		Op:   op,
		Err:  err,
	}
}

func New(code Code, op string, format string, args ...any) error {
	return &AppError{
		Code: code,
		Op:   op,
		Err:  fmt.Errorf(format, args...),
	}
}

// CodeOf returns the code of the outermost AppError in the chain, or
// CodeInternal for anything else.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
