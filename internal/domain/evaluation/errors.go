package evaluation

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a candidate could not be scored.
type Kind int

// Rejection kinds. The zero value is never returned.
const (
	KindParseError Kind = iota + 1
	KindEmptySubmission
	KindRowCountMismatch
	KindNoTargetColumn
	KindNoCommonNumericColumns
	KindColumnNameMismatch
	KindMissingValues
	KindNonNumericValues
	KindInternalError
)

var kindNames = map[Kind]string{
	KindParseError:             "parse_error",
	KindEmptySubmission:        "empty_submission",
	KindRowCountMismatch:       "row_count_mismatch",
	KindNoTargetColumn:         "no_target_column",
	KindNoCommonNumericColumns: "no_common_numeric_columns",
	KindColumnNameMismatch:     "column_name_mismatch",
	KindMissingValues:          "missing_values",
	KindNonNumericValues:       "non_numeric_values",
	KindInternalError:          "internal_error",
}

// String returns the stable snake_case code for k.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a structured rejection. Expected and Received are set for
// RowCountMismatch (rows) and MissingValues/NonNumericValues (received is
// the offending value count); Columns names the columns involved.
type Error struct {
	Kind     Kind
	Message  string
	Expected int
	Received int
	Columns  []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k})
// works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the rejection kind carried by err, or 0 when err is not an
// evaluation error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func reject(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func internal(format string, args ...any) *Error {
	return reject(KindInternalError, format, args...)
}
