package catalog

import (
	"github.com/shopspring/decimal"

	"registrar-backend/internal/academics"
)

// LogicOperator joins a rule's requirements and nested rules.
type LogicOperator string

const (
	OpAnd LogicOperator = "AND"
	OpOr  LogicOperator = "OR"
)

// RequirementKind tags the variant of a prerequisite requirement. The
// evaluator switches exhaustively on this tag; only the fields for the
// matching kind are meaningful.
type RequirementKind string

const (
	KindCompletedCourse RequirementKind = "completed_course"
	KindSubjectCredits  RequirementKind = "subject_credits"
	KindMinimumGPA      RequirementKind = "minimum_gpa"
	KindClassStanding   RequirementKind = "class_standing"
	KindPermission      RequirementKind = "permission"
	KindTestScore       RequirementKind = "test_score"
	KindAlternative     RequirementKind = "alternative"
)

// PrerequisiteRequirement is a leaf condition in a rule tree.
type PrerequisiteRequirement struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id"`
	Kind            RequirementKind `json:"kind"`
	IsRequired      bool            `json:"is_required"`
	SequenceOrder   int             `json:"sequence_order"`
	MustBeCompleted bool            `json:"must_be_completed"` // false: a mere attempt satisfies
	Active          bool            `json:"active"`

	// completed_course
	RequiredCourseCode string `json:"required_course_code,omitempty"`
	MinimumGrade       string `json:"minimum_grade,omitempty"`

	// subject_credits
	SubjectArea        string          `json:"subject_area,omitempty"`
	MinimumCreditHours decimal.Decimal `json:"minimum_credit_hours,omitempty"`

	// minimum_gpa
	GPAScope   academics.GPAScope `json:"gpa_scope,omitempty"`
	MinimumGPA decimal.Decimal    `json:"minimum_gpa,omitempty"`

	// class_standing
	MinimumStanding academics.ClassStanding `json:"minimum_standing,omitempty"`

	// permission
	PermissionCode string `json:"permission_code,omitempty"`

	// test_score
	TestName     string  `json:"test_name,omitempty"`
	MinimumScore float64 `json:"minimum_score,omitempty"`

	// alternative: boolean expression over the student environment
	Expression string `json:"expression,omitempty"`

	// Compiled holds the compiled expression program (not serialized).
	Compiled any `json:"-"`
}

// PrerequisiteRule is one node of a course's rule tree. Child rules are
// referenced by ID into the registry's rule arena, never by pointer, so the
// tree stays cycle-free by construction checks at load time.
type PrerequisiteRule struct {
	ID           string                    `json:"id"`
	CourseCode   string                    `json:"course_code"`
	ParentRuleID string                    `json:"parent_rule_id,omitempty"`
	Operator     LogicOperator             `json:"operator"`
	Priority     int                       `json:"priority"`
	Active       bool                      `json:"active"`
	Requirements []PrerequisiteRequirement `json:"requirements"`
	ChildRuleIDs []string                  `json:"child_rule_ids,omitempty"`
}

// EnrollmentRelationship describes how a corequisite must relate to the
// validated course in the enrollment term.
type EnrollmentRelationship string

const (
	ConcurrentRequired EnrollmentRelationship = "concurrent_required"
	ConcurrentOrPrior  EnrollmentRelationship = "concurrent_or_prior"
	MutuallyExclusive  EnrollmentRelationship = "mutually_exclusive"
)

// FailureAction is what a violated corequisite requirement does to the verdict.
type FailureAction string

const (
	ActionBlock   FailureAction = "block"
	ActionWarn    FailureAction = "warn"
	ActionAutoAdd FailureAction = "auto_add"
)

// CorequisiteRequirement references a course that must be concurrently
// enrolled (or excluded) rather than completed.
type CorequisiteRequirement struct {
	ID                 string                 `json:"id"`
	RuleID             string                 `json:"rule_id"`
	RequiredCourseCode string                 `json:"required_course_code"`
	Relationship       EnrollmentRelationship `json:"relationship"`
	OnFailure          FailureAction          `json:"on_failure"`
	IsRequired         bool                   `json:"is_required"`
	SequenceOrder      int                    `json:"sequence_order"`
	Active             bool                   `json:"active"`
}

// CorequisiteRule groups corequisite requirements under one operator.
type CorequisiteRule struct {
	ID           string                   `json:"id"`
	CourseCode   string                   `json:"course_code"`
	Operator     LogicOperator            `json:"operator"`
	Priority     int                      `json:"priority"`
	Active       bool                     `json:"active"`
	Requirements []CorequisiteRequirement `json:"requirements"`
}

// RestrictionKind tags an enrollment restriction variant.
type RestrictionKind string

const (
	RestrictionMajor         RestrictionKind = "major"
	RestrictionClassStanding RestrictionKind = "class_standing"
	RestrictionPermission    RestrictionKind = "permission"
)

// EnforcementLevel distinguishes blocking restrictions from advisory ones.
type EnforcementLevel string

const (
	EnforceHardBlock EnforcementLevel = "hard_block"
	EnforceAdvisory  EnforcementLevel = "advisory"
)

// EnrollmentRestriction gates enrollment independent of prior coursework.
type EnrollmentRestriction struct {
	ID          string           `json:"id"`
	CourseCode  string           `json:"course_code"`
	Kind        RestrictionKind  `json:"kind"`
	Enforcement EnforcementLevel `json:"enforcement"`
	Priority    int              `json:"priority"`
	Active      bool             `json:"active"`

	// major: inclusion list, or exclusion list when Exclude is set
	Majors  []string `json:"majors,omitempty"`
	Exclude bool     `json:"exclude,omitempty"`

	// class_standing
	MinimumStanding academics.ClassStanding `json:"minimum_standing,omitempty"`

	// permission
	PermissionCode string `json:"permission_code,omitempty"`
}
