package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, exp, err := Generate(opts, "u1", "vendor", "Alice")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "vendor", claims.Role)
	assert.Equal(t, "Alice", claims.Name)
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, _, err := Generate(DefaultOptions([]byte("a")), "u1", "client", "Bob")
	require.NoError(t, err)
	_, err = Verify(DefaultOptions([]byte("b")), tok)
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.TTL = time.Millisecond
	tok, _, err := Generate(opts, "u1", "client", "Bob")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = Verify(opts, tok)
	assert.Error(t, err)
}

func TestVerifyEmpty(t *testing.T) {
	_, err := Verify(DefaultOptions([]byte("s")), "  ")
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("s"), Alg: "RS256"}, "u", "", "")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer   abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
}
