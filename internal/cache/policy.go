package cache

import (
	"strings"
	"time"

	"github.com/campusops/edugate/internal/platform/urlx"
)

// Policy decides which requests the cache admits and how long entries
// live, keyed by URL prefix families.
type Policy struct {
	// Exclusions are path prefixes never cached (real-time, health,
	// admin, auth mutation).
	Exclusions []string

	StaticTTL   time.Duration // catalog data: courses, programs, rooms
	UserTTL     time.Duration // user-scoped lists
	VolatileTTL time.Duration // enrollments, assessments, activity
	DefaultTTL  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Exclusions: []string{
			"/queues", "/queue-control", "/admin", "/health", "/healthcheck",
			"/metrics", "/auth/login", "/auth/logout", "/auth/refresh", "/jobs",
		},
		StaticTTL:   15 * time.Minute,
		UserTTL:     5 * time.Minute,
		VolatileTTL: 1 * time.Minute,
		DefaultTTL:  5 * time.Minute,
	}
}

var (
	staticPrefixes   = []string{"/courses", "/programs", "/rooms", "/calendar/periods"}
	userPrefixes     = []string{"/students", "/teachers", "/grades", "/schedules", "/users", "/academic-history"}
	volatilePrefixes = []string{"/enrollments", "/enrollment-details", "/assessments", "/performance", "/activity", "/notifications"}
)

// Admits reports whether a request may be served from or written to the
// cache: GET only, never on an excluded path.
func (p Policy) Admits(verb, path string) bool {
	if !strings.EqualFold(verb, "GET") {
		return false
	}
	norm := urlx.NormalizePath(path)
	for _, ex := range p.Exclusions {
		if urlx.HasPrefixSegment(norm, ex) {
			return false
		}
	}
	return true
}

// TTLFor picks the entry lifetime by URL family.
func (p Policy) TTLFor(path string) time.Duration {
	norm := urlx.NormalizePath(path)
	for _, prefix := range staticPrefixes {
		if urlx.HasPrefixSegment(norm, prefix) {
			return p.StaticTTL
		}
	}
	for _, prefix := range userPrefixes {
		if urlx.HasPrefixSegment(norm, prefix) {
			return p.UserTTL
		}
	}
	for _, prefix := range volatilePrefixes {
		if urlx.HasPrefixSegment(norm, prefix) {
			return p.VolatileTTL
		}
	}
	return p.DefaultTTL
}
