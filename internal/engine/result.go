package engine

import (
	"time"

	"registrar-backend/internal/catalog"
)

// CheckStatus is the outcome of one rule, requirement, or restriction check.
type CheckStatus string

const (
	StatusSatisfied    CheckStatus = "satisfied"
	StatusNotSatisfied CheckStatus = "not_satisfied"
	StatusOverridden   CheckStatus = "overridden"
	StatusWaived       CheckStatus = "waived"
	StatusSkipped      CheckStatus = "skipped"
	StatusConfigError  CheckStatus = "configuration_error"
)

// passes reports whether the status counts toward satisfaction of the
// enclosing rule. Skipped entries never count against a rule.
func (s CheckStatus) passes() bool {
	switch s {
	case StatusSatisfied, StatusOverridden, StatusWaived, StatusSkipped:
		return true
	}
	return false
}

// OverallStatus is the engine's verdict for one (student, course, term).
type OverallStatus string

const (
	Eligible            OverallStatus = "eligible"
	EligibleWithWarning OverallStatus = "eligible_with_warning"
	Ineligible          OverallStatus = "ineligible"
	ConfigurationError  OverallStatus = "configuration_error"
)

// RequirementCheckResult is the outcome of one leaf requirement.
type RequirementCheckResult struct {
	RequirementID string                  `json:"requirement_id"`
	Kind          catalog.RequirementKind `json:"kind"`
	Status        CheckStatus             `json:"status"`
	Reason        string                  `json:"reason,omitempty"`
	// Warning marks an optional requirement that failed without blocking.
	Warning bool `json:"warning,omitempty"`
}

// PrerequisiteCheckResult is the outcome of one rule node, with nested child
// rule outcomes mirroring the rule tree.
type PrerequisiteCheckResult struct {
	RuleID       string                    `json:"rule_id"`
	Operator     catalog.LogicOperator     `json:"operator"`
	Priority     int                       `json:"priority"`
	Status       CheckStatus               `json:"status"`
	Reason       string                    `json:"reason,omitempty"`
	Requirements []RequirementCheckResult  `json:"requirements,omitempty"`
	ChildRules   []PrerequisiteCheckResult `json:"child_rules,omitempty"`
}

// CorequisiteRequirementResult is the outcome of one corequisite leaf.
type CorequisiteRequirementResult struct {
	RequirementID string                         `json:"requirement_id"`
	CourseCode    string                         `json:"course_code"`
	Relationship  catalog.EnrollmentRelationship `json:"relationship"`
	OnFailure     catalog.FailureAction          `json:"on_failure"`
	Status        CheckStatus                    `json:"status"`
	Reason        string                         `json:"reason,omitempty"`
	Warning       bool                           `json:"warning,omitempty"`
}

// CorequisiteCheckResult is the outcome of one corequisite rule.
type CorequisiteCheckResult struct {
	RuleID       string                         `json:"rule_id"`
	Operator     catalog.LogicOperator          `json:"operator"`
	Status       CheckStatus                    `json:"status"`
	Reason       string                         `json:"reason,omitempty"`
	Requirements []CorequisiteRequirementResult `json:"requirements,omitempty"`
}

// RestrictionCheckResult is the outcome of one enrollment restriction.
type RestrictionCheckResult struct {
	RestrictionID string                   `json:"restriction_id"`
	Kind          catalog.RestrictionKind  `json:"kind"`
	Enforcement   catalog.EnforcementLevel `json:"enforcement"`
	Status        CheckStatus              `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	Warning       bool                     `json:"warning,omitempty"`
}

// ValidationResult is the full verdict for one (student, course, term)
// evaluation. Detail collections carry enough structure for the enrollment
// subsystem to render a per-rule reason list.
type ValidationResult struct {
	ID            string                    `json:"id"`
	StudentID     string                    `json:"student_id"`
	CourseCode    string                    `json:"course_code"`
	Term          string                    `json:"term"`
	OverallStatus OverallStatus             `json:"overall_status"`
	Prerequisites []PrerequisiteCheckResult `json:"prerequisites,omitempty"`
	Corequisites  []CorequisiteCheckResult  `json:"corequisites,omitempty"`
	Restrictions  []RestrictionCheckResult  `json:"restrictions,omitempty"`

	// AppliedOverrides / AppliedWaivers list exception IDs that changed an
	// outcome in this evaluation, not merely exceptions on file.
	AppliedOverrides []string `json:"applied_overrides,omitempty"`
	AppliedWaivers   []string `json:"applied_waivers,omitempty"`

	// AutoAddCourses collects corequisites whose failure action asks the
	// enrollment subsystem to add the course alongside this one.
	AutoAddCourses []string `json:"auto_add_courses,omitempty"`

	// ConfigurationNotes explains a ConfigurationError verdict.
	ConfigurationNotes []string `json:"configuration_notes,omitempty"`

	IsCurrent   bool      `json:"is_current"`
	Version     int       `json:"version"`
	ValidatedAt time.Time `json:"validated_at"`
}
