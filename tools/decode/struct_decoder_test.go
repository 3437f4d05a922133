package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	ChatID    string    `json:"chatId" validate:"required"`
	Role      string    `json:"role" validate:"omitempty,oneof=vendor client"`
	Amount    float64   `json:"amount"`
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func TestDecodeOK(t *testing.T) {
	out, err := Decode[samplePayload](map[string]any{
		"chatId":    1001.0,
		"role":      "vendor",
		"amount":    12.5,
		"count":     3.0,
		"timestamp": "2024-05-01T10:00:00.123Z",
		"extra":     "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", out.ChatID)
	assert.Equal(t, "vendor", out.Role)
	assert.Equal(t, 12.5, out.Amount)
	assert.Equal(t, int64(3), out.Count)
	assert.Equal(t, 2024, out.Timestamp.Year())
}

func TestDecodeMissingRequired(t *testing.T) {
	_, err := Decode[samplePayload](map[string]any{"role": "client"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatId: required")
}

func TestDecodeBadEnum(t *testing.T) {
	_, err := Decode[samplePayload](map[string]any{"chatId": "c1", "role": "admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role: oneof=vendor client")
}

func TestDecodeSkipValidate(t *testing.T) {
	out, err := Decode[samplePayload](map[string]any{}, Options{WeaklyTypedInput: true, SkipValidate: true})
	require.NoError(t, err)
	assert.Empty(t, out.ChatID)
	assert.Error(t, Validate(out))
}

func TestDecodeNilMap(t *testing.T) {
	_, err := Decode[samplePayload](nil)
	assert.Error(t, err)
}

func TestReadString(t *testing.T) {
	m := map[string]any{"a": "x", "b": 1}
	s, err := ReadString(m, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", s)
	_, err = ReadString(m, "b")
	assert.Error(t, err)
	_, err = ReadString(m, "c")
	assert.Error(t, err)
}
