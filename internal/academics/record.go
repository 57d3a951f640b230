package academics

import (
	"github.com/shopspring/decimal"
)

// GPAScope selects which grade-point average a requirement compares against.
type GPAScope string

const (
	GPACumulative GPAScope = "cumulative"
	GPATerm       GPAScope = "term"
	GPAMajor      GPAScope = "major"
)

// CompletedCourse is one attempt on the student's transcript. Completed is
// false for in-progress or withdrawn attempts; Grade is only meaningful when
// Completed is true.
type CompletedCourse struct {
	CourseCode  string          `json:"course_code"`
	SubjectArea string          `json:"subject_area"`
	Grade       string          `json:"grade"`
	CreditHours decimal.Decimal `json:"credit_hours"`
	Term        string          `json:"term"`
	Completed   bool            `json:"completed"`
}

// StudentRecord is the academic history snapshot the engine validates
// against. It is supplied by the external academic-record provider; the
// engine never fetches it itself.
type StudentRecord struct {
	StudentID      string             `json:"student_id"`
	Majors         []string           `json:"majors"`
	Standing       ClassStanding      `json:"standing"`
	CumulativeGPA  decimal.Decimal    `json:"cumulative_gpa"`
	TermGPA        decimal.Decimal    `json:"term_gpa"`
	MajorGPA       decimal.Decimal    `json:"major_gpa"`
	Transcript     []CompletedCourse  `json:"transcript"`
	CurrentCourses []string           `json:"current_courses"` // current-term enrollment set
	Permissions    []string           `json:"permissions"`
	TestScores     map[string]float64 `json:"test_scores"`
}

// GPA returns the grade-point average for the given scope.
func (r *StudentRecord) GPA(scope GPAScope) decimal.Decimal {
	switch scope {
	case GPATerm:
		return r.TermGPA
	case GPAMajor:
		return r.MajorGPA
	default:
		return r.CumulativeGPA
	}
}

// FindAttempts returns every transcript entry for a course code.
func (r *StudentRecord) FindAttempts(courseCode string) []CompletedCourse {
	var attempts []CompletedCourse
	for _, c := range r.Transcript {
		if c.CourseCode == courseCode {
			attempts = append(attempts, c)
		}
	}
	return attempts
}

// SubjectCreditHours sums completed credit hours in a subject area.
func (r *StudentRecord) SubjectCreditHours(subjectArea string) decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Transcript {
		if c.Completed && c.SubjectArea == subjectArea {
			total = total.Add(c.CreditHours)
		}
	}
	return total
}

// IsEnrolledIn reports whether the course is in the current-term enrollment set.
func (r *StudentRecord) IsEnrolledIn(courseCode string) bool {
	for _, c := range r.CurrentCourses {
		if c == courseCode {
			return true
		}
	}
	return false
}

// HasMajor reports whether the student has declared the given major.
func (r *StudentRecord) HasMajor(major string) bool {
	for _, m := range r.Majors {
		if m == major {
			return true
		}
	}
	return false
}

// HasPermission reports whether the named permission has been granted.
func (r *StudentRecord) HasPermission(code string) bool {
	for _, p := range r.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// Env flattens the record into an expression-evaluation environment for
// alternative-satisfaction requirements.
func (r *StudentRecord) Env() map[string]any {
	completed := make([]string, 0, len(r.Transcript))
	attempted := make([]string, 0, len(r.Transcript))
	for _, c := range r.Transcript {
		attempted = append(attempted, c.CourseCode)
		if c.Completed {
			completed = append(completed, c.CourseCode)
		}
	}

	gpa, _ := r.CumulativeGPA.Float64()
	termGPA, _ := r.TermGPA.Float64()
	majorGPA, _ := r.MajorGPA.Float64()

	return map[string]any{
		"student": map[string]any{
			"id":          r.StudentID,
			"majors":      r.Majors,
			"standing":    r.Standing.String(),
			"gpa":         gpa,
			"term_gpa":    termGPA,
			"major_gpa":   majorGPA,
			"completed":   completed,
			"attempted":   attempted,
			"enrolled":    r.CurrentCourses,
			"permissions": r.Permissions,
			"scores":      r.TestScores,
		},
	}
}
