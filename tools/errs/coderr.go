package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// CodeError is an error with a numeric code and a stable reason string.
// Reason is what goes on the wire (e.g. "invalid_payload").
type CodeError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, reason string) CodeError {
	return CodeError{Code: code, Reason: reason}
}

func (e CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Reason)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// WithDetail returns a copy with detail appended.
func (e CodeError) WithDetail(detail string) CodeError {
	out := e
	if out.Detail == "" {
		out.Detail = detail
	} else if detail != "" {
		out.Detail += ", " + detail
	}
	return out
}

// Wrap attaches a stack to the code error.
func (e CodeError) Wrap() error {
	return pkgerrors.WithStack(e)
}

// WrapMsg clones the error, appends msg and kv pairs to Detail and attaches a stack.
func (e CodeError) WrapMsg(msg string, kv ...any) error {
	return pkgerrors.WithStack(e.WithDetail(toString(msg, kv)))
}

// Is matches any CodeError carrying the same code.
func (e CodeError) Is(target error) bool {
	var t CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// AsCode extracts the CodeError from err. Non-coded errors map to ErrInternal.
func AsCode(err error) (CodeError, bool) {
	if err == nil {
		return CodeError{}, false
	}
	var ce CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return ErrInternal.WithDetail(err.Error()), false
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteString("=")
		if i+1 < len(kv) {
			b.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}
