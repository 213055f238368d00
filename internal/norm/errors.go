package norm

import (
	"errors"
	"fmt"
)

// Taxonomy sentinels. Every kernel error wraps exactly one of these.
var (
	ErrSchema              = errors.New("SCHEMA_ERROR")
	ErrReference           = errors.New("REFERENCE_ERROR")
	ErrUnknownOperator     = errors.New("UNKNOWN_OPERATOR")
	ErrHalted              = errors.New("NORMATIVE_CONTRADICTION_HALTED")
	ErrStaleRevision       = errors.New("STALE_REVISION")
	ErrRepairNotAdmissible = errors.New("REPAIR_NOT_ADMISSIBLE")
	ErrActionNotFeasible   = errors.New("ACTION_NOT_FEASIBLE")
)

// Error carries a taxonomy kind plus a deterministic message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// Schemaf reports malformed structural input.
func Schemaf(format string, args ...any) error {
	return &Error{Kind: ErrSchema, Msg: fmt.Sprintf(format, args...)}
}

// Referencef reports an authoring defect: unresolved reference, priority tie
// or permission/prohibition collision.
func Referencef(format string, args ...any) error {
	return &Error{Kind: ErrReference, Msg: fmt.Sprintf(format, args...)}
}

// UnknownOperatorf reports an operator outside the frozen grammar.
func UnknownOperatorf(format string, args ...any) error {
	return &Error{Kind: ErrUnknownOperator, Msg: fmt.Sprintf(format, args...)}
}

// Haltedf reports the terminal contradiction halt.
func Haltedf(format string, args ...any) error {
	return &Error{Kind: ErrHalted, Msg: fmt.Sprintf(format, args...)}
}

// Newf wraps an arbitrary taxonomy sentinel.
func Newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Code returns the taxonomy code carried by err, or "" when err is not a
// kernel error.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind.Error()
	}
	for _, s := range []error{ErrSchema, ErrReference, ErrUnknownOperator, ErrHalted, ErrStaleRevision, ErrRepairNotAdmissible, ErrActionNotFeasible} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return ""
}
