package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind represents the category of a sync error
type Kind string

const (
	KindFetchFailure     Kind = "FetchFailure"
	KindSchemaMismatch   Kind = "SchemaMismatch"
	KindStoreWrite       Kind = "StoreWrite"
	KindStoreUnavailable Kind = "StoreUnavailable"
	KindConfiguration    Kind = "Configuration"
	KindLock             Kind = "Lock"
)

// Exit codes follow sysexits.h where one applies
const (
	ExitOK             = 0
	ExitGeneric        = 1
	ExitPartialFailure = 2
	ExitUnavailable    = 69 // EX_UNAVAILABLE
	ExitConfig         = 78 // EX_CONFIG
)

// ErrSourcesFailed is returned by a run in which at least one source ended
// in ERROR while the others completed.
var ErrSourcesFailed = stderrors.New("one or more sources failed")

// Error is a sync error carrying its kind, the source it belongs to and
// actionable guidance for the operator.
type Error struct {
	Kind      Kind
	SourceID  string
	Message   string
	Cause     string
	Err       error
	Solutions []string
	Verify    string
	Help      string
}

// Error returns a single-line form suitable for logs and reports
func (e *Error) Error() string {
	var sb strings.Builder
	if e.SourceID != "" {
		sb.WriteString(e.SourceID)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Cause)
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so callers can test with
// errors.Is(err, &Error{Kind: KindLock}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.SourceID == "" || t.SourceID == e.SourceID)
}

// Format implements fmt.Formatter for custom formatting
func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "[%s] %s", e.Kind, e.Error())
			return
		}
		fmt.Fprint(f, e.Error())
	default:
		fmt.Fprint(f, e.Error())
	}
}

// New creates a new Error
func New(kind Kind, sourceID, message string) *Error {
	return &Error{
		Kind:     kind,
		SourceID: sourceID,
		Message:  message,
	}
}

// Wrap attaches the underlying error
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithCause adds cause information
func (e *Error) WithCause(cause string) *Error {
	e.Cause = cause
	return e
}

// WithSolutions adds solution steps
func (e *Error) WithSolutions(solutions ...string) *Error {
	e.Solutions = append(e.Solutions, solutions...)
	return e
}

// WithVerify adds verification command
func (e *Error) WithVerify(verify string) *Error {
	e.Verify = verify
	return e
}

// WithHelp adds help command
func (e *Error) WithHelp(help string) *Error {
	e.Help = help
	return e
}

// As finds the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in the chain, or "" if none
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ExitCode returns the process exit code for an error
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if stderrors.Is(err, ErrSourcesFailed) {
		return ExitPartialFailure
	}

	switch KindOf(err) {
	case KindConfiguration:
		return ExitConfig
	case KindStoreUnavailable:
		return ExitUnavailable
	default:
		return ExitGeneric
	}
}
