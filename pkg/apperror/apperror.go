// Package apperror defines the structured errors every fern operation returns.
// Callers switch on Code; the code set is stable across releases.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

type Code string

const (
	CodeNotFound                Code = "NOT_FOUND"
	CodeDuplicate               Code = "DUPLICATE"
	CodeSchemaViolation         Code = "SCHEMA_VIOLATION"
	CodeMergeCycle              Code = "MERGE_CYCLE"
	CodeGraphIntegrityViolation Code = "GRAPH_INTEGRITY_VIOLATION"
	CodeStorageWriteFailed      Code = "STORAGE_WRITE_FAILED"
	CodeConcurrentModification  Code = "CONCURRENT_MODIFICATION"
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
	CodeForbidden               Code = "FORBIDDEN"
	CodeInternal                Code = "INTERNAL"
)

type Error struct {
	Code        Code
	Message     string
	SubjectKind string
	SubjectID   string
	Field       string
	itemIndex   *int
	Err         error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err. An err that already carries a code keeps it.
func Wrap(code Code, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func NotFound(kind, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id), SubjectKind: kind, SubjectID: id}
}

func SchemaViolation(field, format string, args ...any) *Error {
	return &Error{Code: CodeSchemaViolation, Message: fmt.Sprintf(format, args...), Field: field}
}

func IntegrityViolation(kind, id, format string, args ...any) *Error {
	return &Error{Code: CodeGraphIntegrityViolation, Message: fmt.Sprintf(format, args...), SubjectKind: kind, SubjectID: id}
}

func StorageWriteFailed(err error, format string, args ...any) *Error {
	return &Error{Code: CodeStorageWriteFailed, Message: fmt.Sprintf(format, args...), Err: err}
}

func ConcurrentModification(kind, id string) *Error {
	return &Error{Code: CodeConcurrentModification, Message: fmt.Sprintf("%s %s was modified concurrently", kind, id), SubjectKind: kind, SubjectID: id}
}

func InvalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// RequireOwner rejects calls that carry no owner. Every data operation is
// owner-scoped; only the integrity scan treats an empty owner as "all owners".
func RequireOwner(owner string) error {
	if owner == "" {
		return New(CodeForbidden, "owner is required")
	}
	return nil
}

func (e *Error) Error() string {
	path := []string{}
	if e.SubjectKind != "" || e.SubjectID != "" {
		path = append(path, strings.TrimSpace(fmt.Sprintf("%s %s", e.SubjectKind, e.SubjectID)))
	}
	if e.Field != "" {
		path = append(path, fmt.Sprintf("field '%s'", e.Field))
	}
	if e.itemIndex != nil {
		path = append(path, fmt.Sprintf("item %d", *e.itemIndex))
	}

	msg := string(e.Code) + ": " + e.Message
	if len(path) > 0 {
		msg = strings.Join(path, " -> ") + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithSubject(kind, id string) *Error {
	e.SubjectKind = kind
	e.SubjectID = id
	return e
}

func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithItemIndex records the position of the offending item in a batch request.
func (e *Error) WithItemIndex(index int) *Error {
	e.itemIndex = &index
	return e
}

func (e *Error) ItemIndex() (int, bool) {
	if e.itemIndex == nil {
		return 0, false
	}
	return *e.itemIndex, true
}

func (e *Error) StatusCode() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSchemaViolation, CodeGraphIntegrityViolation:
		return http.StatusUnprocessableEntity
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeMergeCycle, CodeConcurrentModification, CodeDuplicate:
		return http.StatusConflict
	case CodeStorageWriteFailed:
		return http.StatusServiceUnavailable
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	message := e.Message
	if e.Code == CodeInternal || e.Code == CodeStorageWriteFailed {
		// never leak driver errors to callers
		message = string(e.Code)
	}
	herr := httperror.NewHTTPError(e.StatusCode(), message).AddMetaValue("code", string(e.Code))
	if e.SubjectID != "" {
		herr = herr.AddMetaValue("subject_id", e.SubjectID).AddMetaValue("subject_kind", e.SubjectKind)
	}
	if e.Field != "" {
		herr = herr.AddMetaValue("field", e.Field)
	}
	if e.itemIndex != nil {
		herr = herr.AddMetaValue("item_index", strconv.Itoa(*e.itemIndex))
	}
	return herr
}

// CodeOf returns the code carried by err, CodeInternal for foreign errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeStorageWriteFailed, CodeConcurrentModification:
		return true
	default:
		return false
	}
}
