package events

import "fmt"

// Code is a stable machine-readable rejection code. The set is closed;
// clients switch on these values and the contract does not grow codes
// silently.
type Code string

// Code constants.
const (
	CodeIDInvalid            Code = "EVT_ID_INVALID"
	CodeSchemaInvalid        Code = "EVT_SCHEMA_INVALID"
	CodeSchemaVersionUnknown Code = "EVT_SCHEMA_VERSION_UNKNOWN"
	CodeTypeInvalid          Code = "EVT_TYPE_INVALID"
	CodeCategoryMismatch     Code = "EVT_CATEGORY_MISMATCH"
	CodeGoldenThreadMissing  Code = "EVT_GOLDEN_THREAD_MISSING"
	CodeGoldenThreadInvalid  Code = "EVT_GOLDEN_THREAD_INVALID"
	CodeOrphanNoteTooShort   Code = "EVT_ORPHAN_NOTE_TOO_SHORT"
	CodeHashMissing          Code = "EVT_HASH_MISSING"
	CodeHashInvalid          Code = "EVT_HASH_INVALID"
	CodeHashFormat           Code = "EVT_HASH_FORMAT"
	CodeSignatureInvalid     Code = "EVT_SIGNATURE_INVALID"
	CodeReceivedAtRejected   Code = "EVT_RECEIVED_AT_REJECTED"
	CodeDataEmpty            Code = "EVT_DATA_EMPTY"
	CodeDuplicate            Code = "EVT_DUPLICATE"
	CodeRateLimited          Code = "EVT_RATE_LIMITED"
	CodeOrgMismatch          Code = "EVT_ORG_MISMATCH"
	CodeBatchTooLarge        Code = "EVT_BATCH_TOO_LARGE"
	CodeInternal             Code = "EVT_INTERNAL"
)

// CodeReceivedAtSet is the historical name for CodeReceivedAtRejected.
// Old producers may still match on it; Normalize folds it into the
// canonical code and the server never emits it.
const CodeReceivedAtSet Code = "EVT_RECEIVED_AT_SET"

// Normalize folds legacy aliases into their canonical code.
func (c Code) Normalize() Code {
	if c == CodeReceivedAtSet {
		return CodeReceivedAtRejected
	}
	return c
}

// Known reports whether c (after alias folding) is part of the closed set.
func (c Code) Known() bool {
	switch c.Normalize() {
	case CodeIDInvalid, CodeSchemaInvalid, CodeSchemaVersionUnknown, CodeTypeInvalid,
		CodeCategoryMismatch, CodeGoldenThreadMissing, CodeGoldenThreadInvalid,
		CodeOrphanNoteTooShort, CodeHashMissing, CodeHashInvalid, CodeHashFormat,
		CodeSignatureInvalid, CodeReceivedAtRejected, CodeDataEmpty, CodeDuplicate,
		CodeRateLimited, CodeOrgMismatch, CodeBatchTooLarge, CodeInternal:
		return true
	}
	return false
}

// Error is a coded event rejection. Field points at the offending envelope
// field in dotted form ("goldenThread.remediationNote"); SchemaPath carries
// the JSON Schema instance location when the rejection came from schema
// validation.
type Error struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	SchemaPath string `json:"schemaPath,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errf builds a coded error with a formatted message.
func Errf(code Code, field, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Field: field}
}
