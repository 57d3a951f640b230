package engine

import (
	"testing"
	"time"

	"registrar-backend/internal/catalog"
)

func effectiveOverride(id, studentID, courseCode string, mappings ...ExceptionMapping) *PrerequisiteOverride {
	return &PrerequisiteOverride{
		ID:         id,
		StudentID:  studentID,
		CourseCode: courseCode,
		Status:     OverrideApproved,
		IsActive:   true,
		Mappings:   mappings,
	}
}

func effectiveWaiver(id, studentID, courseCode string, mappings ...ExceptionMapping) *PrerequisiteWaiver {
	return &PrerequisiteWaiver{
		ID:                  id,
		StudentID:           studentID,
		CourseCode:          courseCode,
		Status:              WaiverApproved,
		IsActive:            true,
		StudentAcknowledged: true,
		Mappings:            mappings,
	}
}

func failedResult() *ValidationResult {
	return &ValidationResult{
		StudentID:  "S100",
		CourseCode: "CS301",
		Term:       "2026FA",
		Prerequisites: []PrerequisiteCheckResult{{
			RuleID:   "rule-1",
			Operator: catalog.OpAnd,
			Status:   StatusNotSatisfied,
			Requirements: []RequirementCheckResult{
				{RequirementID: "req-a", Kind: catalog.KindCompletedCourse, Status: StatusNotSatisfied, Reason: "CS201 not completed"},
				{RequirementID: "req-b", Kind: catalog.KindMinimumGPA, Status: StatusSatisfied},
			},
		}},
	}
}

func TestApplyExceptionsFlipsMappedRequirement(t *testing.T) {
	result := failedResult()
	now := time.Now().UTC()

	override := effectiveOverride("ov-1", "S100", "CS301", ExceptionMapping{RequirementID: "req-a"})
	ApplyExceptions(result, []*PrerequisiteOverride{override}, nil, now)

	if got := result.Prerequisites[0].Requirements[0].Status; got != StatusOverridden {
		t.Errorf("req-a status = %s, want overridden", got)
	}
	if got := result.Prerequisites[0].Requirements[1].Status; got != StatusSatisfied {
		t.Errorf("req-b status changed to %s", got)
	}
	// The rule re-aggregates to satisfied now that every unit passes.
	if got := result.Prerequisites[0].Status; got != StatusSatisfied {
		t.Errorf("rule status = %s, want satisfied", got)
	}
	if len(result.AppliedOverrides) != 1 || result.AppliedOverrides[0] != "ov-1" {
		t.Errorf("applied overrides = %v", result.AppliedOverrides)
	}
}

func TestApplyExceptionsWaiverFlipsWholeRule(t *testing.T) {
	result := failedResult()
	now := time.Now().UTC()

	waiver := effectiveWaiver("wv-1", "S100", "CS301", ExceptionMapping{RuleID: "rule-1"})
	ApplyExceptions(result, nil, []*PrerequisiteWaiver{waiver}, now)

	if got := result.Prerequisites[0].Status; got != StatusWaived {
		t.Errorf("rule status = %s, want waived", got)
	}
	// Leaf evidence stays as recorded.
	if got := result.Prerequisites[0].Requirements[0].Status; got != StatusNotSatisfied {
		t.Errorf("req-a status = %s, want not_satisfied", got)
	}
	if len(result.AppliedWaivers) != 1 || result.AppliedWaivers[0] != "wv-1" {
		t.Errorf("applied waivers = %v", result.AppliedWaivers)
	}
}

func TestApplyExceptionsUnmappedFailureStays(t *testing.T) {
	result := failedResult()
	result.Prerequisites[0].Requirements[1].Status = StatusNotSatisfied
	result.Prerequisites[0].Requirements[1].Reason = "GPA below 2.5"
	now := time.Now().UTC()

	override := effectiveOverride("ov-1", "S100", "CS301", ExceptionMapping{RequirementID: "req-a"})
	ApplyExceptions(result, []*PrerequisiteOverride{override}, nil, now)

	if got := result.Prerequisites[0].Requirements[1].Status; got != StatusNotSatisfied {
		t.Errorf("unmapped req-b status = %s", got)
	}
	// One requirement still failing keeps the AND rule failed.
	if got := result.Prerequisites[0].Status; got != StatusNotSatisfied {
		t.Errorf("rule status = %s, want not_satisfied", got)
	}
}

func TestApplyExceptionsIneffectiveExceptionsIgnored(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	cases := []struct {
		name     string
		override *PrerequisiteOverride
		waiver   *PrerequisiteWaiver
	}{
		{name: "pending override", override: &PrerequisiteOverride{
			ID: "ov-p", StudentID: "S100", CourseCode: "CS301",
			Status:   OverrideRequested,
			Mappings: []ExceptionMapping{{RequirementID: "req-a"}},
		}},
		{name: "expired override", override: func() *PrerequisiteOverride {
			o := effectiveOverride("ov-e", "S100", "CS301", ExceptionMapping{RequirementID: "req-a"})
			o.ExpirationDate = &past
			return o
		}()},
		{name: "revoked override", override: func() *PrerequisiteOverride {
			o := effectiveOverride("ov-r", "S100", "CS301", ExceptionMapping{RequirementID: "req-a"})
			o.Status = OverrideRevoked
			o.IsActive = false
			return o
		}()},
		{name: "other student", override: effectiveOverride("ov-s", "S999", "CS301", ExceptionMapping{RequirementID: "req-a"})},
		{name: "other term", override: func() *PrerequisiteOverride {
			o := effectiveOverride("ov-t", "S100", "CS301", ExceptionMapping{RequirementID: "req-a"})
			o.Term = "2027SP"
			return o
		}()},
		{name: "unacknowledged waiver", waiver: func() *PrerequisiteWaiver {
			w := effectiveWaiver("wv-u", "S100", "CS301", ExceptionMapping{RequirementID: "req-a"})
			w.StudentAcknowledged = false
			return w
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := failedResult()
			var overrides []*PrerequisiteOverride
			var waivers []*PrerequisiteWaiver
			if tc.override != nil {
				overrides = append(overrides, tc.override)
			}
			if tc.waiver != nil {
				waivers = append(waivers, tc.waiver)
			}
			ApplyExceptions(result, overrides, waivers, now)

			if got := result.Prerequisites[0].Requirements[0].Status; got != StatusNotSatisfied {
				t.Errorf("req-a status = %s, want not_satisfied", got)
			}
			if len(result.AppliedOverrides) != 0 || len(result.AppliedWaivers) != 0 {
				t.Errorf("applied = %v / %v, want none", result.AppliedOverrides, result.AppliedWaivers)
			}
		})
	}
}

func TestApplyExceptionsConfigErrorNotFlipped(t *testing.T) {
	result := failedResult()
	result.Prerequisites[0].Requirements[0].Status = StatusConfigError
	result.Prerequisites[0].Requirements[0].Reason = "rule references unknown course"
	result.Prerequisites[0].Status = StatusConfigError
	now := time.Now().UTC()

	override := effectiveOverride("ov-1", "S100", "CS301",
		ExceptionMapping{RequirementID: "req-a"}, ExceptionMapping{RuleID: "rule-1"})
	ApplyExceptions(result, []*PrerequisiteOverride{override}, nil, now)

	if got := result.Prerequisites[0].Requirements[0].Status; got != StatusConfigError {
		t.Errorf("req-a status = %s, want configuration_error", got)
	}
	if got := result.Prerequisites[0].Status; got != StatusConfigError {
		t.Errorf("rule status = %s, want configuration_error", got)
	}
	if len(result.AppliedOverrides) != 0 {
		t.Errorf("applied overrides = %v, want none", result.AppliedOverrides)
	}
}

func TestApplyExceptionsOrRuleRecomputes(t *testing.T) {
	result := &ValidationResult{
		StudentID:  "S100",
		CourseCode: "CS301",
		Term:       "2026FA",
		Prerequisites: []PrerequisiteCheckResult{{
			RuleID:   "rule-or",
			Operator: catalog.OpOr,
			Status:   StatusNotSatisfied,
			Requirements: []RequirementCheckResult{
				{RequirementID: "req-a", Status: StatusNotSatisfied},
				{RequirementID: "req-b", Status: StatusNotSatisfied},
			},
		}},
	}
	now := time.Now().UTC()

	// Overriding one branch of an OR rule satisfies the rule.
	override := effectiveOverride("ov-1", "S100", "CS301", ExceptionMapping{RequirementID: "req-b"})
	ApplyExceptions(result, []*PrerequisiteOverride{override}, nil, now)

	if got := result.Prerequisites[0].Status; got != StatusSatisfied {
		t.Errorf("OR rule status = %s, want satisfied", got)
	}
}

func TestApplyExceptionsNestedChildRule(t *testing.T) {
	result := &ValidationResult{
		StudentID:  "S100",
		CourseCode: "CS301",
		Term:       "2026FA",
		Prerequisites: []PrerequisiteCheckResult{{
			RuleID:   "root",
			Operator: catalog.OpAnd,
			Status:   StatusNotSatisfied,
			ChildRules: []PrerequisiteCheckResult{{
				RuleID:   "child",
				Operator: catalog.OpAnd,
				Status:   StatusNotSatisfied,
				Requirements: []RequirementCheckResult{
					{RequirementID: "req-x", Status: StatusNotSatisfied},
				},
			}},
		}},
	}
	now := time.Now().UTC()

	override := effectiveOverride("ov-1", "S100", "CS301", ExceptionMapping{RuleID: "child"})
	ApplyExceptions(result, []*PrerequisiteOverride{override}, nil, now)

	if got := result.Prerequisites[0].ChildRules[0].Status; got != StatusOverridden {
		t.Errorf("child status = %s, want overridden", got)
	}
	// The parent re-aggregates because its child now passes.
	if got := result.Prerequisites[0].Status; got != StatusSatisfied {
		t.Errorf("root status = %s, want satisfied", got)
	}
}

func TestApplyExceptionsRestrictionAndCoreq(t *testing.T) {
	result := &ValidationResult{
		StudentID:  "S100",
		CourseCode: "CS301",
		Term:       "2026FA",
		Corequisites: []CorequisiteCheckResult{{
			RuleID:   "coreq-1",
			Operator: catalog.OpAnd,
			Status:   StatusNotSatisfied,
			Requirements: []CorequisiteRequirementResult{
				{RequirementID: "coreq-req-1", CourseCode: "CS301L", Status: StatusNotSatisfied},
			},
		}},
		Restrictions: []RestrictionCheckResult{{
			RestrictionID: "restr-1",
			Status:        StatusNotSatisfied,
			Reason:        "major not permitted",
		}},
	}
	now := time.Now().UTC()

	override := effectiveOverride("ov-1", "S100", "CS301",
		ExceptionMapping{RequirementID: "coreq-req-1"},
		ExceptionMapping{RuleID: "restr-1"})
	ApplyExceptions(result, []*PrerequisiteOverride{override}, nil, now)

	if got := result.Corequisites[0].Requirements[0].Status; got != StatusOverridden {
		t.Errorf("coreq requirement status = %s", got)
	}
	if got := result.Corequisites[0].Status; got != StatusSatisfied {
		t.Errorf("coreq rule status = %s, want satisfied", got)
	}
	if got := result.Restrictions[0].Status; got != StatusOverridden {
		t.Errorf("restriction status = %s, want overridden", got)
	}
}
