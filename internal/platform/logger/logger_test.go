package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeKVsRedactsSensitiveKeys(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"access_token", "abc123",
		"Authorization", "Bearer abc",
		"db_password", "hunter2",
		"user_id", "u-42",
	})
	require.Equal(t, []interface{}{
		"access_token", "[REDACTED]",
		"Authorization", "[REDACTED]",
		"db_password", "[REDACTED]",
		"user_id", "u-42",
	}, out)
}

func TestSanitizeKVsRedactsJWTValues(t *testing.T) {
	jwt := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1LTQyIn0.sig"
	out := sanitizeKVs([]interface{}{"header", jwt})
	require.Equal(t, []interface{}{"header", "[REDACTED]"}, out)

	// Dotted strings with short segments are not tokens.
	out = sanitizeKVs([]interface{}{"version", "1.2.3"})
	require.Equal(t, []interface{}{"version", "1.2.3"}, out)
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"secret", "x", "dangling"})
	require.Equal(t, []interface{}{"secret", "[REDACTED]", "dangling"}, out)
}

func TestLooksLikeJWT(t *testing.T) {
	require.True(t, looksLikeJWT("eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1LTQyIn0.s"))
	require.False(t, looksLikeJWT("plain"))
	require.False(t, looksLikeJWT("a.b.c"))
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"development", "production", ""} {
		log, err := New(mode)
		require.NoError(t, err)
		require.NotNil(t, log)
	}
}
