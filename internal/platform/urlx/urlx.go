package urlx

import "strings"

// NormalizePath strips the query string, forces a leading slash, lowers
// the case and trims trailing slashes. A lone root stays "/".
func NormalizePath(raw string) string {
	p := raw
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.ToLower(p)
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// MatchPattern reports whether a normalized path matches a queue URL
// pattern. "/prefix/*" matches one or more segments under the prefix;
// anything else is an exact match.
func MatchPattern(pattern, path string) bool {
	pattern = NormalizePath(pattern)
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if prefix == "" {
			return true
		}
		return strings.HasPrefix(path, prefix+"/")
	}
	return pattern == path
}

// HasPrefixSegment reports whether path equals prefix or sits below it.
// Used for cache policy and interception exclusions.
func HasPrefixSegment(path, prefix string) bool {
	prefix = NormalizePath(prefix)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
