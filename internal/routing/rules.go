package routing

// DefaultRules is the gateway's routing surface: every admissible
// domain operation and the bus subject its microservice listens on.
// Declaration order matters; the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		// ---- identity -------------------------------------------------
		{Verb: "POST", Template: "/auth/login", Subject: "auth.login", Build: Body()},
		{Verb: "POST", Template: "/auth/register", Subject: "auth.register", Build: Body()},
		{Verb: "POST", Template: "/auth/refresh", Subject: "auth.refresh", Build: Body()},
		{Verb: "POST", Template: "/auth/logout", Subject: "auth.logout", Build: RequireAuth("auth")},
		{Verb: "GET", Template: "/auth/profile", Subject: "auth.profile.get", Build: UserID("userId")},
		{Verb: "PUT", Template: "/auth/profile", Subject: "auth.profile.update", Build: Merge(UserID("userId"), Body())},
		{Verb: "GET", Template: "/users", Subject: "auth.users.list", Build: Query("page", "limit", "role")},
		{Verb: "GET", Template: "/users/:id", Subject: "auth.users.get", Build: Params("id")},

		// ---- curriculum: programs & courses ---------------------------
		{Verb: "GET", Template: "/programs", Subject: "programs.list", Build: Query("page", "limit")},
		{Verb: "GET", Template: "/programs/:id", Subject: "programs.get", Build: Params("id")},
		{Verb: "POST", Template: "/programs", Subject: "programs.create", Build: Body()},
		{Verb: "PUT", Template: "/programs/:id", Subject: "programs.update", Build: IDBody("id", "updateProgramDto")},
		{Verb: "DELETE", Template: "/programs/:id", Subject: "programs.remove", Build: Params("id")},

		{Verb: "GET", Template: "/courses", Subject: "programs.courses.list", Build: Query("page", "limit", "program_id")},
		{Verb: "GET", Template: "/courses/:id", Subject: "programs.courses.get", Build: Params("id")},
		{Verb: "POST", Template: "/courses", Subject: "programs.courses.create", Build: Body()},
		{Verb: "PUT", Template: "/courses/:id", Subject: "programs.courses.update", Build: IDBody("id", "updateCourseDto")},
		{Verb: "PATCH", Template: "/courses/:id", Subject: "programs.courses.update", Build: IDBody("id", "updateCourseDto")},
		{Verb: "DELETE", Template: "/courses/:id", Subject: "programs.courses.remove", Build: Params("id")},
		{Verb: "GET", Template: "/courses/:id/sections", Subject: "programs.courses.sections.list", Build: Params("id")},
		{Verb: "POST", Template: "/courses/:id/sections", Subject: "programs.courses.sections.create", Build: IDBody("id", "createSectionDto")},

		// ---- calendar -------------------------------------------------
		{Verb: "GET", Template: "/calendar/periods", Subject: "calendar.periods.list", Build: Query("year")},
		{Verb: "GET", Template: "/calendar/periods/:id", Subject: "calendar.periods.get", Build: Params("id")},
		{Verb: "POST", Template: "/calendar/periods", Subject: "calendar.periods.create", Build: Body()},
		{Verb: "PUT", Template: "/calendar/periods/:id", Subject: "calendar.periods.update", Build: IDBody("id", "updatePeriodDto")},
		{Verb: "DELETE", Template: "/calendar/periods/:id", Subject: "calendar.periods.remove", Build: Params("id")},
		{Verb: "GET", Template: "/calendar/events", Subject: "calendar.events.list", Build: Query("from", "to")},
		{Verb: "POST", Template: "/calendar/events", Subject: "calendar.events.create", Build: Body()},
		{Verb: "GET", Template: "/schedules", Subject: "calendar.schedules.list", Build: Merge(UserID("userId"), Query("period_id"))},
		{Verb: "GET", Template: "/schedules/:id", Subject: "calendar.schedules.get", Build: Params("id")},

		// ---- facilities -----------------------------------------------
		{Verb: "GET", Template: "/rooms", Subject: "facilities.rooms.list", Build: Query("building", "capacity")},
		{Verb: "GET", Template: "/rooms/:id", Subject: "facilities.rooms.get", Build: Params("id")},
		{Verb: "POST", Template: "/rooms", Subject: "facilities.rooms.create", Build: Body()},
		{Verb: "PUT", Template: "/rooms/:id", Subject: "facilities.rooms.update", Build: IDBody("id", "updateRoomDto")},
		{Verb: "DELETE", Template: "/rooms/:id", Subject: "facilities.rooms.remove", Build: Params("id")},
		{Verb: "GET", Template: "/rooms/:id/availability", Subject: "facilities.rooms.availability", Build: Merge(Params("id"), Query("from", "to"))},

		// ---- teaching -------------------------------------------------
		{Verb: "GET", Template: "/teachers", Subject: "teaching.teachers.list", Build: Query("page", "limit", "department")},
		{Verb: "GET", Template: "/teachers/:id", Subject: "teaching.teachers.get", Build: Params("id")},
		{Verb: "POST", Template: "/teachers", Subject: "teaching.teachers.create", Build: Body()},
		{Verb: "PUT", Template: "/teachers/:id", Subject: "teaching.teachers.update", Build: IDBody("id", "updateTeacherDto")},
		{Verb: "GET", Template: "/teachers/:id/assignments", Subject: "teaching.assignments.list", Build: Params("id")},
		{Verb: "POST", Template: "/teaching/assignments", Subject: "teaching.assignments.create", Build: Body()},
		{Verb: "DELETE", Template: "/teaching/assignments/:id", Subject: "teaching.assignments.remove", Build: Params("id")},

		// ---- enrollment -----------------------------------------------
		{Verb: "GET", Template: "/students", Subject: "enrollments.students.list", Build: Query("page", "limit", "program_id")},
		{Verb: "GET", Template: "/students/:id", Subject: "enrollments.students.get", Build: Params("id")},
		{Verb: "POST", Template: "/students", Subject: "enrollments.students.create", Build: Body()},
		{Verb: "PUT", Template: "/students/:id", Subject: "enrollments.students.update", Build: IDBody("id", "updateStudentDto")},

		{Verb: "GET", Template: "/enrollments", Subject: "enrollments.list", Build: Query("page", "limit", "period_id", "student_id")},
		{Verb: "GET", Template: "/enrollments/:id", Subject: "enrollments.get", Build: Params("id")},
		{Verb: "POST", Template: "/enrollments", Subject: "enrollments.create", Build: Body()},
		{Verb: "PUT", Template: "/enrollments/:id", Subject: "enrollments.update", Build: IDBody("id", "updateEnrollmentDto")},
		{Verb: "DELETE", Template: "/enrollments/:id", Subject: "enrollments.remove", Build: Params("id")},

		{Verb: "POST", Template: "/atomic-enrollment/enroll", Subject: "enrollments.atomic.enroll",
			Build: Merge(Body(), RequireHeader("x-idempotency-key", "idempotencyKey"))},
		{Verb: "POST", Template: "/atomic-enrollment/withdraw", Subject: "enrollments.atomic.withdraw",
			Build: Merge(Body(), RequireHeader("x-idempotency-key", "idempotencyKey"))},
		{Verb: "GET", Template: "/atomic-enrollment/status/:id", Subject: "enrollments.atomic.status", Build: Params("id")},

		{Verb: "GET", Template: "/enrollment-details", Subject: "enrollment-details.list", Build: Query("enrollment_id")},
		{Verb: "GET", Template: "/enrollment-details/:id", Subject: "enrollment-details.get", Build: Params("id")},
		{Verb: "POST", Template: "/enrollment-details", Subject: "enrollment-details.create", Build: Body()},
		{Verb: "PUT", Template: "/enrollment-details/:id", Subject: "enrollment-details.update", Build: IDBody("id", "updateDetailDto")},
		{Verb: "DELETE", Template: "/enrollment-details/:id", Subject: "enrollment-details.remove", Build: Params("id")},

		{Verb: "GET", Template: "/academic-history/:studentId", Subject: "enrollments.academic.history", Build: Params("studentId")},
		{Verb: "GET", Template: "/academic-history/:studentId/periods/:periodId", Subject: "enrollments.academic.period",
			Build: Params("studentId", "periodId")},
		{Verb: "GET", Template: "/performance/:studentId", Subject: "enrollments.performance.summary", Build: Params("studentId")},
		{Verb: "GET", Template: "/performance/:studentId/trends", Subject: "enrollments.performance.trends",
			Build: Merge(Params("studentId"), Query("window"))},

		// ---- assessment -----------------------------------------------
		{Verb: "GET", Template: "/grades", Subject: "grades.list", Build: Query("enrollment_id", "period_id")},
		{Verb: "GET", Template: "/grades/:id", Subject: "grades.get", Build: Params("id")},
		{Verb: "POST", Template: "/grades", Subject: "grades.create", Build: Body()},
		{Verb: "PUT", Template: "/grades/:id", Subject: "grades.update", Build: IDBody("id", "updateGradeDto")},
		{Verb: "PATCH", Template: "/grades/:id", Subject: "grades.update", Build: IDBody("id", "updateGradeDto")},
		{Verb: "DELETE", Template: "/grades/:id", Subject: "grades.remove", Build: Params("id")},
		{Verb: "GET", Template: "/assessments", Subject: "grades.assessments.list", Build: Query("course_section_id")},
		{Verb: "POST", Template: "/assessments", Subject: "grades.assessments.create", Build: Body()},
		{Verb: "PUT", Template: "/assessments/:id", Subject: "grades.assessments.update", Build: IDBody("id", "updateAssessmentDto")},

		// ---- smoke test ----------------------------------------------
		{Verb: "POST", Template: "/queue-test/echo", Subject: "queue.test", Build: Body()},
	}
}
