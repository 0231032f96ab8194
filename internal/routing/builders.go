package routing

import (
	"encoding/json"

	"github.com/campusops/edugate/internal/domain"
)

// Empty builds an empty object payload.
func Empty() Builder {
	return func(_ *domain.Job) (any, error) {
		return map[string]any{}, nil
	}
}

// Body forwards the request body as the payload. Fails when the body is
// absent, so write operations never dispatch half-formed.
func Body() Builder {
	return func(j *domain.Job) (any, error) {
		if len(j.Body) == 0 {
			return nil, &MissingFieldError{Kind: "body", Field: "body"}
		}
		return json.RawMessage(j.Body), nil
	}
}

// Params lifts required route parameters into the payload.
func Params(names ...string) Builder {
	return func(j *domain.Job) (any, error) {
		out := make(map[string]any, len(names))
		for _, name := range names {
			v := j.RouteParams[name]
			if v == "" {
				return nil, &MissingFieldError{Kind: "param", Field: name}
			}
			out[name] = v
		}
		return out, nil
	}
}

// Query lifts optional query parameters; multi-value keys reduce to the
// first element.
func Query(keys ...string) Builder {
	return func(j *domain.Job) (any, error) {
		out := make(map[string]any, len(keys))
		for _, key := range keys {
			if v := j.Query(key); v != "" {
				out[key] = v
			}
		}
		return out, nil
	}
}

// RequireQuery is Query with presence enforced.
func RequireQuery(keys ...string) Builder {
	return func(j *domain.Job) (any, error) {
		out := make(map[string]any, len(keys))
		for _, key := range keys {
			v := j.Query(key)
			if v == "" {
				return nil, &MissingFieldError{Kind: "query", Field: key}
			}
			out[key] = v
		}
		return out, nil
	}
}

// RequireHeader lifts a required header (e.g. the idempotency key) into
// the payload under field.
func RequireHeader(header, field string) Builder {
	return func(j *domain.Job) (any, error) {
		v := j.Header(header)
		if v == "" {
			return nil, &MissingFieldError{Kind: "header", Field: header}
		}
		return map[string]any{field: v}, nil
	}
}

// UserID resolves the acting user: the bearer-token claim when present,
// else the subject of the validated-auth context. Fails when neither
// exists.
func UserID(field string) Builder {
	return func(j *domain.Job) (any, error) {
		if j.UserID != "" {
			return map[string]any{field: j.UserID}, nil
		}
		if auth, ok := j.Context["auth"].(map[string]any); ok {
			if sub, ok := auth["sub"].(string); ok && sub != "" {
				return map[string]any{field: sub}, nil
			}
		}
		return nil, &MissingFieldError{Kind: "auth", Field: field}
	}
}

// RequireAuth embeds the validated-auth context, failing on
// auth-protected routes with no validated user.
func RequireAuth(field string) Builder {
	return func(j *domain.Job) (any, error) {
		auth, ok := j.Context["auth"]
		if !ok || auth == nil {
			return nil, &MissingFieldError{Kind: "auth", Field: field}
		}
		return map[string]any{field: auth}, nil
	}
}

// Static injects fixed fields.
func Static(fields map[string]any) Builder {
	return func(_ *domain.Job) (any, error) {
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out, nil
	}
}

// IDBody is the conventional update shape: the :id route param plus the
// body under a named field, e.g. {id, updateCourseDto}.
func IDBody(param, bodyField string) Builder {
	return func(j *domain.Job) (any, error) {
		id := j.RouteParams[param]
		if id == "" {
			return nil, &MissingFieldError{Kind: "param", Field: param}
		}
		if len(j.Body) == 0 {
			return nil, &MissingFieldError{Kind: "body", Field: bodyField}
		}
		return map[string]any{param: id, bodyField: json.RawMessage(j.Body)}, nil
	}
}

// Merge combines builders left to right; later maps overwrite earlier
// keys. A non-map result (a raw Body) must come alone or first.
func Merge(builders ...Builder) Builder {
	return func(j *domain.Job) (any, error) {
		out := make(map[string]any)
		for _, b := range builders {
			v, err := b(j)
			if err != nil {
				return nil, err
			}
			switch m := v.(type) {
			case map[string]any:
				for k, val := range m {
					out[k] = val
				}
			case json.RawMessage:
				var decoded map[string]any
				if err := json.Unmarshal(m, &decoded); err != nil {
					return nil, &MissingFieldError{Kind: "body", Field: "body"}
				}
				for k, val := range decoded {
					out[k] = val
				}
			default:
				return nil, &MissingFieldError{Kind: "body", Field: "body"}
			}
		}
		return out, nil
	}
}
