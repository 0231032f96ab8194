package cache

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/urlx"
)

// Key fingerprints a request: verb, normalized path, canonical query
// and (when known) the acting user, so cached responses never leak
// across users.
func Key(job *domain.Job) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(job.Verb))
	b.WriteByte(':')
	b.WriteString(urlx.NormalizePath(job.NormalizedPath))
	b.WriteByte(':')
	b.WriteString(canonicalQuery(job.QueryParams))
	if job.UserID != "" {
		b.WriteString(":user:")
		b.WriteString(job.UserID)
	}
	sum := md5.Sum([]byte(b.String()))
	return "http:" + hex.EncodeToString(sum[:])
}

// canonicalQuery joins sorted k=v pairs; multi-value keys sort their
// values so parameter order never splits the cache.
func canonicalQuery(params map[string][]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}
