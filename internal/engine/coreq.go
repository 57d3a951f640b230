package engine

import (
	"fmt"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
)

// EvaluateCorequisiteRule checks a corequisite rule against the student's
// current-term enrollment set, never the historical record, except for the
// concurrent-or-prior relationship which also accepts a completed attempt.
// Requirements with a warn or auto-add failure action never block the rule;
// auto-add failures report the course for the enrollment subsystem to add.
func EvaluateCorequisiteRule(rule *catalog.CorequisiteRule, record *academics.StudentRecord) (CorequisiteCheckResult, []string) {
	result := CorequisiteCheckResult{
		RuleID:   rule.ID,
		Operator: rule.Operator,
		Status:   StatusSatisfied,
	}

	if !rule.Active {
		result.Status = StatusSkipped
		return result, nil
	}

	var autoAdd []string
	blockingUnits := 0
	satisfiedUnits := 0
	firstFailure := ""

	for _, req := range rule.Requirements {
		checked := CorequisiteRequirementResult{
			RequirementID: req.ID,
			CourseCode:    req.RequiredCourseCode,
			Relationship:  req.Relationship,
			OnFailure:     req.OnFailure,
			Status:        StatusSatisfied,
		}

		if !req.Active {
			checked.Status = StatusSkipped
			result.Requirements = append(result.Requirements, checked)
			continue
		}

		satisfied, reason := corequisiteSatisfied(&req, record)
		if !satisfied {
			checked.Status = StatusNotSatisfied
			checked.Reason = reason
		}

		switch {
		case satisfied:
			blockingUnits++
			satisfiedUnits++
		case req.OnFailure == catalog.ActionWarn:
			checked.Warning = true
		case req.OnFailure == catalog.ActionAutoAdd:
			// Non-blocking: the enrollment subsystem adds the course.
			autoAdd = append(autoAdd, req.RequiredCourseCode)
			checked.Warning = true
		default:
			blockingUnits++
			if firstFailure == "" {
				firstFailure = reason
			}
		}

		result.Requirements = append(result.Requirements, checked)
	}

	if blockingUnits == 0 {
		return result, autoAdd
	}

	switch rule.Operator {
	case catalog.OpOr:
		if satisfiedUnits == 0 {
			result.Status = StatusNotSatisfied
			result.Reason = firstFailure
		}
	default: // AND
		if satisfiedUnits < blockingUnits {
			result.Status = StatusNotSatisfied
			result.Reason = firstFailure
		}
	}
	return result, autoAdd
}

func corequisiteSatisfied(req *catalog.CorequisiteRequirement, record *academics.StudentRecord) (bool, string) {
	enrolled := record.IsEnrolledIn(req.RequiredCourseCode)

	switch req.Relationship {
	case catalog.MutuallyExclusive:
		if enrolled {
			return false, fmt.Sprintf("cannot be taken concurrently with %s", req.RequiredCourseCode)
		}
		return true, ""

	case catalog.ConcurrentOrPrior:
		if enrolled {
			return true, ""
		}
		for _, attempt := range record.FindAttempts(req.RequiredCourseCode) {
			if attempt.Completed {
				return true, ""
			}
		}
		return false, fmt.Sprintf("%s must be taken concurrently or completed previously", req.RequiredCourseCode)

	default: // concurrent_required
		if enrolled {
			return true, ""
		}
		return false, fmt.Sprintf("%s must be taken concurrently", req.RequiredCourseCode)
	}
}
