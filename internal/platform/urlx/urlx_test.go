package urlx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"/Courses/42?page=1": "/courses/42",
		"courses":            "/courses",
		"/courses/":          "/courses",
		"/courses///":        "/courses",
		"/":                  "/",
		"":                   "/",
		"?x=1":               "/",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizePath(in), "input %q", in)
	}
}

func TestMatchPattern(t *testing.T) {
	t.Parallel()
	require.True(t, MatchPattern("/auth/*", "/auth/login"))
	require.True(t, MatchPattern("/auth/*", "/auth/login/refresh"))
	require.False(t, MatchPattern("/auth/*", "/auth"))
	require.False(t, MatchPattern("/auth/*", "/authx/login"))
	require.True(t, MatchPattern("/courses", "/courses"))
	require.False(t, MatchPattern("/courses", "/courses/42"))
	require.True(t, MatchPattern("/*", "/anything"))
}

func TestHasPrefixSegment(t *testing.T) {
	t.Parallel()
	require.True(t, HasPrefixSegment("/queues", "/queues"))
	require.True(t, HasPrefixSegment("/queues/job/1", "/queues"))
	require.False(t, HasPrefixSegment("/queuesx", "/queues"))
}
