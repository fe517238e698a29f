// Package perrors provides the error taxonomy used across Pavilion's core.
//
// To construct or wrap an error, use this package rather than the standard
// errors/fmt.Errorf. Every error records a Kind drawn from a closed set
// (see the Kind constants below) plus a captured stack trace, so failures
// that cross the build()/run() boundary can be converted to a single
// terminal status without losing their cause chain.
package perrors

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/not-pflarr/Pavilion/internal/perrors/stack"
)

// Kind is a closed taxonomy of error categories, per spec section 7.
type Kind string

const (
	ConfigInvalid  Kind = "CONFIG_INVALID"
	AllocTimeout   Kind = "ALLOC_TIMEOUT"
	LockTimeout    Kind = "LOCK_TIMEOUT"
	LockPermission Kind = "LOCK_PERMISSION"
	SrcNotFound    Kind = "SRC_NOT_FOUND"
	SrcBadType     Kind = "SRC_BAD_TYPE"
	SrcStageFailed Kind = "SRC_STAGE_FAILED"
	BuildFailed    Kind = "BUILD_FAILED"
	BuildError     Kind = "BUILD_ERROR"
	RunFailed      Kind = "RUN_FAILED"
	RunError       Kind = "RUN_ERROR"
	TemplateError  Kind = "TEMPLATE_ERROR"
	StatusIO       Kind = "STATUS_IO"
	SuiteEmpty     Kind = "SUITE_EMPTY"
	SuitePolluted  Kind = "SUITE_POLLUTED"
	TestNotFound   Kind = "TEST_NOT_FOUND"
)

// E is the error implementation used by this package.
type E struct {
	kind  Kind
	msg   string
	stk   stack.Stack
	cause error
}

// Error implements the error interface.
func (e *E) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap implements the error Unwrap interface.
func (e *E) Unwrap() error {
	return e.cause
}

// Kind returns this error's category.
func (e *E) Kind() Kind {
	return e.kind
}

type unwrapper interface {
	unwrap() (kind Kind, msg string, stk stack.Stack, cause error)
}

func (e *E) unwrap() (Kind, string, stack.Stack, error) {
	return e.kind, e.msg, e.stk, e.cause
}

func formatChain(err error) string {
	var chain []string
	for err != nil {
		if e, ok := err.(unwrapper); ok {
			kind, msg, stk, cause := e.unwrap()
			chain = append(chain, fmt.Sprintf("[%s] %s\n%v", kind, msg, stk))
			err = cause
		} else {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			err = nil
		}
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter. "%+v" prints the full error chain with
// stack traces; any other verb prints just Error().
func (e *E) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
	} else {
		io.WriteString(s, e.Error())
	}
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *E {
	return &E{kind, msg, stack.New(1), nil}
}

// Errorf creates a new error of the given kind, formatting msg like fmt.Sprintf.
func Errorf(kind Kind, format string, args ...interface{}) *E {
	return &E{kind, fmt.Sprintf(format, args...), stack.New(1), nil}
}

// Wrap creates a new error of the given kind, wrapping cause. If cause is
// nil this behaves like New.
func Wrap(kind Kind, cause error, msg string) *E {
	return &E{kind, msg, stack.New(1), cause}
}

// Wrapf is like Wrap but formats msg like fmt.Sprintf.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *E {
	return &E{kind, fmt.Sprintf(format, args...), stack.New(1), cause}
}

// KindOf walks err's cause chain and returns the Kind of the first *E found.
// It returns "" if no *E is present in the chain.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

// Is is a wrapper of the standard errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a wrapper of the standard errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
