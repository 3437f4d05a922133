package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorWrapKeepsCode(t *testing.T) {
	err := ErrInvalidPayload.WrapMsg("missing field", "field", "chatId")

	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.False(t, errors.Is(err, ErrForbidden))

	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, "invalid_payload", ce.Reason)
	assert.Equal(t, "missing field, field=chatId", ce.Detail)
}

func TestAsCodePlainError(t *testing.T) {
	ce, ok := AsCode(errors.New("boom"))
	assert.False(t, ok)
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)
}

func TestWithDetailAppends(t *testing.T) {
	e := ErrForbidden.WithDetail("a").WithDetail("b")
	assert.Equal(t, "a, b", e.Detail)
	assert.Equal(t, "1003 forbidden a, b", e.Error())
	// base value untouched
	assert.Empty(t, ErrForbidden.Detail)
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("oops")
	assert.True(t, errors.Is(err, ErrInternal))
}
