package routing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusops/edugate/internal/domain"
)

func TestTableFirstMatchWins(t *testing.T) {
	t.Parallel()
	table, err := NewTable([]Rule{
		{Verb: "GET", Template: "/courses/:id", Subject: "courses.get", Build: Params("id")},
		{Verb: "GET", Template: "/courses/*", Subject: "courses.wildcard"},
	})
	require.NoError(t, err)

	job := &domain.Job{Verb: "GET", NormalizedPath: "/courses/42"}
	res, err := table.Resolve(job)
	require.NoError(t, err)
	require.Equal(t, "courses.get", res.Subject)
	require.Equal(t, "42", job.RouteParams["id"])
	require.JSONEq(t, `{"id":"42"}`, string(res.Payload))
}

func TestTableVerbMismatchIsNoRoute(t *testing.T) {
	t.Parallel()
	table, err := NewTable([]Rule{
		{Verb: "POST", Template: "/courses", Subject: "courses.create", Build: Body()},
	})
	require.NoError(t, err)

	_, err = table.Resolve(&domain.Job{Verb: "GET", NormalizedPath: "/courses"})
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestTableCompletedSubjectDefault(t *testing.T) {
	t.Parallel()
	table, err := NewTable([]Rule{
		{Verb: "GET", Template: "/grades", Subject: "grades.list"},
		{Verb: "GET", Template: "/grades/final", Subject: "grades.final", CompletedSubject: "grades.final.done"},
	})
	require.NoError(t, err)

	res, err := table.Resolve(&domain.Job{Verb: "GET", NormalizedPath: "/grades"})
	require.NoError(t, err)
	require.Equal(t, "grades.list.completed", res.CompletedSubject)

	res, err = table.Resolve(&domain.Job{Verb: "GET", NormalizedPath: "/grades/final"})
	require.NoError(t, err)
	require.Equal(t, "grades.final.done", res.CompletedSubject)
}

func TestTableMissingBodyFails(t *testing.T) {
	t.Parallel()
	table, err := NewTable([]Rule{
		{Verb: "POST", Template: "/courses", Subject: "courses.create", Build: Body()},
	})
	require.NoError(t, err)

	_, err = table.Resolve(&domain.Job{Verb: "POST", NormalizedPath: "/courses"})
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "body", missing.Kind)
}

func TestTableWildcardSegment(t *testing.T) {
	t.Parallel()
	table, err := NewTable([]Rule{
		{Verb: "DELETE", Template: "/sections/*/students/:studentId", Subject: "sections.students.remove", Build: Params("studentId")},
	})
	require.NoError(t, err)

	job := &domain.Job{Verb: "DELETE", NormalizedPath: "/sections/anything/students/s-9"}
	res, err := table.Resolve(job)
	require.NoError(t, err)
	require.Equal(t, "sections.students.remove", res.Subject)
	require.Equal(t, "s-9", job.RouteParams["studentId"])

	// Wildcard is single-segment; a deeper path does not match.
	_, err = table.Resolve(&domain.Job{Verb: "DELETE", NormalizedPath: "/sections/a/b/students/s-9"})
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestMergeBuilderCombinesSources(t *testing.T) {
	t.Parallel()
	body, _ := json.Marshal(map[string]any{"grade": 9.5})
	job := &domain.Job{
		Verb:           "PUT",
		NormalizedPath: "/grades/g-1",
		Body:           body,
		RouteParams:    map[string]string{"id": "g-1"},
		UserID:         "u-7",
	}

	b := Merge(Body(), Params("id"), UserID("updatedBy"))
	v, err := b(job)
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "g-1", m["id"])
	require.Equal(t, "u-7", m["updatedBy"])
	require.Equal(t, 9.5, m["grade"])
}

func TestTableMixedCaseParamNames(t *testing.T) {
	t.Parallel()
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)

	job := &domain.Job{Verb: "GET", NormalizedPath: "/academic-history/st-1"}
	res, err := table.Resolve(job)
	require.NoError(t, err)
	require.Equal(t, "enrollments.academic.history", res.Subject)
	require.Equal(t, "st-1", job.RouteParams["studentId"])
	require.JSONEq(t, `{"studentId":"st-1"}`, string(res.Payload))

	job = &domain.Job{Verb: "GET", NormalizedPath: "/academic-history/st-1/periods/p-2"}
	res, err = table.Resolve(job)
	require.NoError(t, err)
	require.Equal(t, "enrollments.academic.period", res.Subject)
	require.JSONEq(t, `{"studentId":"st-1","periodId":"p-2"}`, string(res.Payload))

	job = &domain.Job{Verb: "GET", NormalizedPath: "/performance/st-1/trends"}
	res, err = table.Resolve(job)
	require.NoError(t, err)
	require.Equal(t, "enrollments.performance.trends", res.Subject)

	job = &domain.Job{Verb: "GET", NormalizedPath: "/performance/st-1"}
	res, err = table.Resolve(job)
	require.NoError(t, err)
	require.Equal(t, "enrollments.performance.summary", res.Subject)
}

func TestDefaultRulesAreWellFormed(t *testing.T) {
	t.Parallel()
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)
	require.Greater(t, table.Len(), 50)

	// The echo route must resolve without auth or body context.
	body, _ := json.Marshal(map[string]any{"ping": true})
	job := &domain.Job{Verb: "POST", NormalizedPath: "/queue-test/echo", Body: body}
	res, err := table.Resolve(job)
	require.NoError(t, err)
	require.Equal(t, "queue.test", res.Subject)
}
