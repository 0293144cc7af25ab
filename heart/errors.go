package heart

import (
	"fmt"
)

// Stable error codes surfaced to host integrations. The codes are part of
// the external contract and never change meaning.
const (
	CodeInvalidFs         = "E001" // fs outside [1, 10000]
	CodeInvalidBandpass   = "E011" // need 0 <= low < high <= fs/2
	CodeInvalidNfft       = "E012" // nfft outside [64, 16384]
	CodeInvalidBpmRange   = "E013" // need 30 <= min < max <= 240
	CodeInvalidRefractory = "E014" // refractory outside [50, 2000] ms
	CodeInvalidNumeric    = "E015" // NaN/Inf or out-of-range numeric option
	CodeInvalidHandlePush = "E101" // unknown handle on push
	CodeInvalidBuffer     = "E102" // empty/oversized/mismatched buffer on push
	CodeInvalidHandlePoll = "E111" // unknown handle on poll
	CodeInvalidHandleFree = "E121" // unknown handle on destroy
	CodeInvalidWindow     = "E201" // invalid setWindow arguments
)

// CodedError is an error carrying one of the stable codes above.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCodedError builds a CodedError with a formatted message.
func NewCodedError(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func newCodedError(code, format string, args ...any) *CodedError {
	return NewCodedError(code, format, args...)
}

// ErrorCode extracts the stable code from err, or "" when err is not a
// CodedError.
func ErrorCode(err error) string {
	if ce, ok := err.(*CodedError); ok {
		return ce.Code
	}
	return ""
}
