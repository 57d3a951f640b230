package engine

import (
	"testing"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
)

func coreqRule(op catalog.LogicOperator, reqs ...catalog.CorequisiteRequirement) *catalog.CorequisiteRule {
	return &catalog.CorequisiteRule{
		ID:           "coreq-1",
		CourseCode:   "PHYS211",
		Operator:     op,
		Active:       true,
		Requirements: reqs,
	}
}

func coreqReq(id, course string, rel catalog.EnrollmentRelationship, onFailure catalog.FailureAction) catalog.CorequisiteRequirement {
	return catalog.CorequisiteRequirement{
		ID:                 id,
		RequiredCourseCode: course,
		Relationship:       rel,
		OnFailure:          onFailure,
		IsRequired:         true,
		Active:             true,
	}
}

func TestCorequisiteConcurrentRequired(t *testing.T) {
	rule := coreqRule(catalog.OpAnd, coreqReq("c1", "PHYS211L", catalog.ConcurrentRequired, catalog.ActionBlock))

	record := &academics.StudentRecord{StudentID: "S1"}
	got, _ := EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusNotSatisfied {
		t.Errorf("not enrolled: status = %s, want not_satisfied", got.Status)
	}

	record.CurrentCourses = []string{"PHYS211L"}
	got, _ = EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusSatisfied {
		t.Errorf("enrolled: status = %s, want satisfied", got.Status)
	}
}

func TestCorequisiteConcurrentOrPrior(t *testing.T) {
	rule := coreqRule(catalog.OpAnd, coreqReq("c1", "MATH150", catalog.ConcurrentOrPrior, catalog.ActionBlock))

	// Completed previously counts even without current enrollment.
	record := &academics.StudentRecord{
		StudentID:  "S1",
		Transcript: []academics.CompletedCourse{transcriptEntry("MATH150", "B", "4")},
	}
	got, _ := EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusSatisfied {
		t.Errorf("prior completion: status = %s, want satisfied", got.Status)
	}

	// A withdrawn attempt does not.
	record.Transcript[0].Completed = false
	got, _ = EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusNotSatisfied {
		t.Errorf("incomplete attempt: status = %s, want not_satisfied", got.Status)
	}
}

func TestCorequisiteMutuallyExclusive(t *testing.T) {
	rule := coreqRule(catalog.OpAnd, coreqReq("c1", "PHYS201", catalog.MutuallyExclusive, catalog.ActionBlock))

	record := &academics.StudentRecord{StudentID: "S1", CurrentCourses: []string{"PHYS201"}}
	got, _ := EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusNotSatisfied {
		t.Errorf("concurrent enrollment: status = %s, want not_satisfied", got.Status) // Should fail
	}

	record.CurrentCourses = nil
	got, _ = EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusSatisfied {
		t.Errorf("no conflict: status = %s, want satisfied", got.Status)
	}
}

func TestCorequisiteWarnDoesNotBlock(t *testing.T) {
	rule := coreqRule(catalog.OpAnd,
		coreqReq("c1", "PHYS211L", catalog.ConcurrentRequired, catalog.ActionWarn))

	got, _ := EvaluateCorequisiteRule(rule, &academics.StudentRecord{StudentID: "S1"})
	if got.Status != StatusSatisfied {
		t.Errorf("rule status = %s, want satisfied", got.Status)
	}
	if !got.Requirements[0].Warning || got.Requirements[0].Status != StatusNotSatisfied {
		t.Errorf("requirement = %+v, want warning not_satisfied", got.Requirements[0])
	}
}

func TestCorequisiteAutoAddCollects(t *testing.T) {
	rule := coreqRule(catalog.OpAnd,
		coreqReq("c1", "PHYS211L", catalog.ConcurrentRequired, catalog.ActionAutoAdd),
		coreqReq("c2", "PHYS211R", catalog.ConcurrentRequired, catalog.ActionAutoAdd))

	got, autoAdd := EvaluateCorequisiteRule(rule, &academics.StudentRecord{StudentID: "S1"})
	if got.Status != StatusSatisfied {
		t.Errorf("rule status = %s, want satisfied", got.Status)
	}
	if len(autoAdd) != 2 {
		t.Errorf("auto add = %v, want both sections", autoAdd)
	}
}

func TestCorequisiteOrOperator(t *testing.T) {
	rule := coreqRule(catalog.OpOr,
		coreqReq("c1", "PHYS211L", catalog.ConcurrentRequired, catalog.ActionBlock),
		coreqReq("c2", "PHYS211H", catalog.ConcurrentRequired, catalog.ActionBlock))

	record := &academics.StudentRecord{StudentID: "S1", CurrentCourses: []string{"PHYS211H"}}
	got, _ := EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusSatisfied {
		t.Errorf("one branch enrolled: status = %s, want satisfied", got.Status)
	}

	record.CurrentCourses = nil
	got, _ = EvaluateCorequisiteRule(rule, record)
	if got.Status != StatusNotSatisfied {
		t.Errorf("no branch enrolled: status = %s, want not_satisfied", got.Status)
	}
}

func TestCorequisiteInactiveRuleSkipped(t *testing.T) {
	rule := coreqRule(catalog.OpAnd, coreqReq("c1", "PHYS211L", catalog.ConcurrentRequired, catalog.ActionBlock))
	rule.Active = false

	got, _ := EvaluateCorequisiteRule(rule, &academics.StudentRecord{StudentID: "S1"})
	if got.Status != StatusSkipped {
		t.Errorf("inactive rule status = %s, want skipped", got.Status)
	}
}
