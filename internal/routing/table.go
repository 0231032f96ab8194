package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/campusops/edugate/internal/domain"
	"github.com/campusops/edugate/internal/platform/urlx"
)

// ErrNoRoute means the table has no rule for (verb, path). The
// interception pipeline treats it as "no async routing".
var ErrNoRoute = errors.New("no routing rule")

// MissingFieldError is a resolution-time failure: a payload builder
// needed a field the request did not carry.
type MissingFieldError struct {
	Kind  string // "param", "query", "header", "auth", "body"
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required %s %q", e.Kind, e.Field)
}

// Builder derives the bus payload from the job. Builders are pure; they
// either return the payload value or a *MissingFieldError.
type Builder func(job *domain.Job) (any, error)

// Rule maps one (verb, path-template) onto a bus subject. Templates
// hold literal segments, ":name" parameters and "*" single-segment
// wildcards.
type Rule struct {
	Verb             string
	Template         string
	Subject          string
	Build            Builder
	CompletedSubject string // defaults to Subject + ".completed"

	segments []segment
}

type segment struct {
	literal  string
	param    string
	wildcard bool
}

// Resolution is the outcome of a successful table lookup.
type Resolution struct {
	Subject          string
	CompletedSubject string
	Payload          json.RawMessage
}

// Table is an ordered rule list; the first match in declaration order
// wins and there is no backtracking.
type Table struct {
	rules []Rule
}

func NewTable(rules []Rule) (*Table, error) {
	t := &Table{rules: make([]Rule, len(rules))}
	copy(t.rules, rules)
	for i := range t.rules {
		r := &t.rules[i]
		r.Verb = strings.ToUpper(strings.TrimSpace(r.Verb))
		if r.Subject == "" || r.Verb == "" {
			return nil, fmt.Errorf("rule %d: verb and subject required", i)
		}
		segs, err := parseTemplate(r.Template)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s %s): %w", i, r.Verb, r.Template, err)
		}
		r.segments = segs
		if r.CompletedSubject == "" {
			r.CompletedSubject = r.Subject + ".completed"
		}
		if r.Build == nil {
			r.Build = Empty()
		}
	}
	return t, nil
}

// parseTemplate splits a template into segments. Literal segments are
// lower-cased to align with normalized request paths; parameter names
// keep their declared case so builders can look them up verbatim.
func parseTemplate(template string) ([]segment, error) {
	trimmed := strings.TrimSpace(template)
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		switch {
		case p == "":
			return nil, fmt.Errorf("empty segment")
		case p == "*":
			segs = append(segs, segment{wildcard: true})
		case strings.HasPrefix(p, ":"):
			name := p[1:]
			if name == "" {
				return nil, fmt.Errorf("unnamed parameter segment")
			}
			segs = append(segs, segment{param: name})
		default:
			segs = append(segs, segment{literal: strings.ToLower(p)})
		}
	}
	return segs, nil
}

// Len reports the number of declared rules.
func (t *Table) Len() int { return len(t.rules) }

// Resolve finds the first rule matching the job's verb and normalized
// path, binds route parameters into the job, and runs the payload
// builder. Returns ErrNoRoute when nothing matches.
func (t *Table) Resolve(job *domain.Job) (*Resolution, error) {
	verb := strings.ToUpper(job.Verb)
	pathSegs := splitPath(job.NormalizedPath)

	for i := range t.rules {
		r := &t.rules[i]
		if r.Verb != verb {
			continue
		}
		params, ok := matchSegments(r.segments, pathSegs)
		if !ok {
			continue
		}
		if job.RouteParams == nil {
			job.RouteParams = make(map[string]string, len(params))
		}
		for k, v := range params {
			job.RouteParams[k] = v
		}

		payload, err := r.Build(job)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", r.Subject, err)
		}
		return &Resolution{
			Subject:          r.Subject,
			CompletedSubject: r.CompletedSubject,
			Payload:          raw,
		}, nil
	}
	return nil, ErrNoRoute
}

func splitPath(path string) []string {
	norm := urlx.NormalizePath(path)
	if norm == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(norm, "/"), "/")
}

func matchSegments(segs []segment, path []string) (map[string]string, bool) {
	if len(segs) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, s := range segs {
		switch {
		case s.wildcard:
		case s.param != "":
			if path[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[s.param] = path[i]
		default:
			if s.literal != path[i] {
				return nil, false
			}
		}
	}
	return params, true
}
