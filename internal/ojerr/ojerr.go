// Package ojerr provides the structured error type shared across the
// daemon and CLI, and the seven-category taxonomy named in the error
// handling design.
package ojerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Category is one of the seven error classes.
type Category string

const (
	CategoryProtocol   Category = "protocol"   // malformed IPC request/response
	CategoryResolution Category = "resolution" // prefix/namespace lookup failed or ambiguous
	CategoryValidation Category = "validation" // runbook or request content is invalid
	CategoryAdapter    Category = "adapter"    // session/agent/notify/shell adapter failure
	CategoryInvariant  Category = "invariant"  // a should-never-happen state invariant broke
	CategoryDurability Category = "durability" // WAL/snapshot I/O failure
	CategoryFatal      Category = "fatal"      // unrecoverable, daemon must exit
)

// Error codes, grouped by category.
const (
	CodeProtocolMalformed     = "PROTOCOL_001" // frame or JSON could not be decoded
	CodeProtocolTooLarge      = "PROTOCOL_002" // message exceeded the size limit
	CodeProtocolTimeout       = "PROTOCOL_003" // read/write deadline exceeded
	CodeProtocolUnknownRequest = "PROTOCOL_004" // unrecognized request variant

	CodeResolutionNotFound   = "RESOLUTION_001" // no entity matched the given prefix
	CodeResolutionAmbiguous  = "RESOLUTION_002" // more than one entity matched the prefix
	CodeResolutionNamespace  = "RESOLUTION_003" // namespace fallback exhausted

	CodeValidationMissingField = "VALIDATION_001"
	CodeValidationInvalidValue = "VALIDATION_002"
	CodeValidationCycle        = "VALIDATION_003"
	CodeValidationUnknownStep  = "VALIDATION_004"
	CodeValidationUnknownQueue = "VALIDATION_005"

	CodeAdapterSpawnFailed = "ADAPTER_001"
	CodeAdapterNotFound    = "ADAPTER_002"
	CodeAdapterTimeout     = "ADAPTER_003"
	CodeAdapterExited      = "ADAPTER_004"

	CodeInvariantBroken = "INVARIANT_001"

	CodeDurabilityWriteFailed = "DURABILITY_001"
	CodeDurabilityCorrupt     = "DURABILITY_002"
	CodeDurabilityLocked      = "DURABILITY_003"

	CodeFatalStartup  = "FATAL_001"
	CodeFatalShutdown = "FATAL_002"
)

// Error is the structured error type threaded through the daemon.
type Error struct {
	Category Category       `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches one piece of context to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// MarshalJSON serializes the cause as a plain message string.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

func New(cat Category, code, message string) *Error {
	return &Error{Category: cat, Code: code, Message: message}
}

func Newf(cat Category, code, format string, args ...any) *Error {
	return &Error{Category: cat, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(cat Category, code, message string, err error) *Error {
	return &Error{Category: cat, Code: code, Message: message, Cause: err}
}

// As reports whether err (or something it wraps) is an *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCategory reports whether err is an *Error in the given category.
func IsCategory(err error, cat Category) bool {
	e, ok := As(err)
	return ok && e.Category == cat
}

// --- Protocol ---

func ProtocolMalformed(detail string) *Error {
	return Newf(CategoryProtocol, CodeProtocolMalformed, "malformed message: %s", detail)
}

func ProtocolTooLarge(size, max int) *Error {
	return Newf(CategoryProtocol, CodeProtocolTooLarge, "message of %d bytes exceeds limit of %d", size, max).
		WithDetail("size", size).WithDetail("max", max)
}

func ProtocolTimeout() *Error {
	return New(CategoryProtocol, CodeProtocolTimeout, "request timed out")
}

func ProtocolUnknownRequest(kind string) *Error {
	return Newf(CategoryProtocol, CodeProtocolUnknownRequest, "unknown request: %s", kind).
		WithDetail("kind", kind)
}

// --- Resolution ---

func ResolutionNotFound(kind, prefix string) *Error {
	return Newf(CategoryResolution, CodeResolutionNotFound, "no %s matches prefix %q", kind, prefix).
		WithDetail("kind", kind).WithDetail("prefix", prefix)
}

func ResolutionAmbiguous(kind, prefix string, matches []string) *Error {
	return Newf(CategoryResolution, CodeResolutionAmbiguous, "prefix %q matches %d %ss", prefix, len(matches), kind).
		WithDetail("kind", kind).WithDetail("prefix", prefix).WithDetail("matches", matches)
}

// --- Validation ---

func ValidationMissingField(field string) *Error {
	return Newf(CategoryValidation, CodeValidationMissingField, "missing required field: %s", field).
		WithDetail("field", field)
}

func ValidationUnknownStep(job, step string) *Error {
	return Newf(CategoryValidation, CodeValidationUnknownStep, "job %s references unknown step %q", job, step).
		WithDetail("job", job).WithDetail("step", step)
}

func ValidationUnknownQueue(namespace, queue string) *Error {
	return Newf(CategoryValidation, CodeValidationUnknownQueue, "no queue %q defined in the active runbook for namespace %q", queue, namespace).
		WithDetail("namespace", namespace).WithDetail("queue", queue)
}

// --- Adapter ---

func AdapterSpawnFailed(name string, err error) *Error {
	return Wrap(CategoryAdapter, CodeAdapterSpawnFailed, fmt.Sprintf("failed to spawn %s", name), err).
		WithDetail("name", name)
}

func AdapterNotFound(kind, id string) *Error {
	return Newf(CategoryAdapter, CodeAdapterNotFound, "%s %s not found", kind, id).
		WithDetail("kind", kind).WithDetail("id", id)
}

// --- Invariant ---

func InvariantBroken(detail string) *Error {
	return Newf(CategoryInvariant, CodeInvariantBroken, "invariant violated: %s", detail)
}

// --- Durability ---

func DurabilityWriteFailed(err error) *Error {
	return Wrap(CategoryDurability, CodeDurabilityWriteFailed, "write-ahead log write failed", err)
}

func DurabilityCorrupt(offset int64, detail string) *Error {
	return Newf(CategoryDurability, CodeDurabilityCorrupt, "corrupt log entry at offset %d: %s", offset, detail).
		WithDetail("offset", offset)
}

func DurabilityLocked(path string) *Error {
	return Newf(CategoryDurability, CodeDurabilityLocked, "state directory %s is locked by another process", path).
		WithDetail("path", path)
}

// --- Fatal ---

func FatalStartup(err error) *Error {
	return Wrap(CategoryFatal, CodeFatalStartup, "daemon startup failed", err)
}

func FatalShutdown(err error) *Error {
	return Wrap(CategoryFatal, CodeFatalShutdown, "daemon shutdown failed", err)
}
