package engine

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
)

// EvaluateRequirement checks a single leaf requirement against the student
// record. Inactive requirements are reported as skipped and never contribute
// to the enclosing rule either way.
func EvaluateRequirement(reg *catalog.Registry, req *catalog.PrerequisiteRequirement, record *academics.StudentRecord) RequirementCheckResult {
	result := RequirementCheckResult{
		RequirementID: req.ID,
		Kind:          req.Kind,
		Status:        StatusSatisfied,
	}

	if !req.Active {
		result.Status = StatusSkipped
		return result
	}

	switch req.Kind {
	case catalog.KindCompletedCourse:
		return evaluateCompletedCourse(reg, req, record, result)

	case catalog.KindSubjectCredits:
		earned := record.SubjectCreditHours(req.SubjectArea)
		if earned.Cmp(req.MinimumCreditHours) < 0 {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("%s credit hours in %s earned, %s required",
				earned.String(), req.SubjectArea, req.MinimumCreditHours.String())
		}

	case catalog.KindMinimumGPA:
		gpa := record.GPA(req.GPAScope)
		if gpa.Cmp(req.MinimumGPA) < 0 {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("%s GPA %s below required %s",
				scopeLabel(req.GPAScope), gpa.StringFixed(2), req.MinimumGPA.StringFixed(2))
		}

	case catalog.KindClassStanding:
		if !record.Standing.AtLeast(req.MinimumStanding) {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("class standing %s below required %s",
				record.Standing, req.MinimumStanding)
		}

	case catalog.KindPermission:
		if !record.HasPermission(req.PermissionCode) {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("permission %s not granted", req.PermissionCode)
		}

	case catalog.KindTestScore:
		score, ok := record.TestScores[req.TestName]
		if !ok {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("no %s score on file", req.TestName)
		} else if score < req.MinimumScore {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("%s score %g below required %g", req.TestName, score, req.MinimumScore)
		}

	case catalog.KindAlternative:
		satisfied, err := evaluateAlternative(req, record)
		if err != nil {
			result.Status = StatusConfigError
			result.Reason = fmt.Sprintf("alternative expression: %v", err)
		} else if !satisfied {
			result.Status = StatusNotSatisfied
			result.Reason = "alternative satisfaction condition not met"
		}

	default:
		result.Status = StatusConfigError
		result.Reason = fmt.Sprintf("unknown requirement kind: %s", req.Kind)
	}

	return result
}

func evaluateCompletedCourse(reg *catalog.Registry, req *catalog.PrerequisiteRequirement, record *academics.StudentRecord, result RequirementCheckResult) RequirementCheckResult {
	// A rule referencing a course that no longer exists is a catalog
	// configuration problem, never a student failure.
	if reg.GetCourse(req.RequiredCourseCode) == nil {
		result.Status = StatusConfigError
		result.Reason = fmt.Sprintf("required course %s not in catalog", req.RequiredCourseCode)
		return result
	}

	attempts := record.FindAttempts(req.RequiredCourseCode)
	if len(attempts) == 0 {
		result.Status = StatusNotSatisfied
		if req.MustBeCompleted {
			result.Reason = fmt.Sprintf("%s not completed", req.RequiredCourseCode)
		} else {
			result.Reason = fmt.Sprintf("%s not attempted", req.RequiredCourseCode)
		}
		return result
	}

	if !req.MustBeCompleted {
		// Any attempt on the transcript satisfies the requirement.
		return result
	}

	bestGrade := ""
	for _, attempt := range attempts {
		if !attempt.Completed {
			continue
		}
		if req.MinimumGrade == "" {
			return result
		}
		meets, err := academics.GradeMeets(attempt.Grade, req.MinimumGrade)
		if err != nil {
			result.Status = StatusConfigError
			result.Reason = err.Error()
			return result
		}
		if meets {
			return result
		}
		if bestGrade == "" {
			bestGrade = attempt.Grade
		} else if better, err := academics.GradeMeets(attempt.Grade, bestGrade); err == nil && better {
			bestGrade = attempt.Grade
		}
	}

	result.Status = StatusNotSatisfied
	if bestGrade == "" {
		result.Reason = fmt.Sprintf("%s not completed", req.RequiredCourseCode)
	} else {
		result.Reason = fmt.Sprintf("%s grade %s below required %s",
			req.RequiredCourseCode, bestGrade, req.MinimumGrade)
	}
	return result
}

// evaluateAlternative runs the requirement's expression against the student
// environment. Registry rules carry programs compiled at load time; a
// requirement without one (broken expression, or built outside the registry)
// is compiled here, writing only to the caller's copy.
func evaluateAlternative(req *catalog.PrerequisiteRequirement, record *academics.StudentRecord) (bool, error) {
	prog, ok := req.Compiled.(*vm.Program)
	if !ok || prog == nil {
		compiled, err := expr.Compile(req.Expression, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile: %w", err)
		}
		req.Compiled = compiled
		prog = compiled
	}

	result, err := expr.Run(prog, record.Env())
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}

	satisfied, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool")
	}
	return satisfied, nil
}

// EvaluateRule walks one rule node depth-first and aggregates its direct
// requirements and nested child rules under the rule's operator. A rule with
// no active requirements and no active children is vacuously satisfied.
// Optional (IsRequired=false) requirements that fail inside an AND rule are
// downgraded to warnings instead of blocking.
func EvaluateRule(reg *catalog.Registry, rule *catalog.PrerequisiteRule, record *academics.StudentRecord) PrerequisiteCheckResult {
	result := PrerequisiteCheckResult{
		RuleID:   rule.ID,
		Operator: rule.Operator,
		Priority: rule.Priority,
		Status:   StatusSatisfied,
	}

	if !rule.Active {
		result.Status = StatusSkipped
		return result
	}

	// Evaluate against a copy: the rule is shared by concurrent validations
	// and must never be written to here.
	reqs := make([]catalog.PrerequisiteRequirement, len(rule.Requirements))
	copy(reqs, rule.Requirements)
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].SequenceOrder < reqs[j].SequenceOrder
	})

	activeUnits := 0
	satisfiedUnits := 0
	configError := false
	firstFailure := ""

	for i := range reqs {
		req := &reqs[i]
		checked := EvaluateRequirement(reg, req, record)

		if checked.Status == StatusSkipped {
			result.Requirements = append(result.Requirements, checked)
			continue
		}
		if checked.Status == StatusConfigError {
			configError = true
			if firstFailure == "" {
				firstFailure = checked.Reason
			}
			result.Requirements = append(result.Requirements, checked)
			continue
		}

		if rule.Operator == catalog.OpAnd && !req.IsRequired && checked.Status == StatusNotSatisfied {
			// Optional leaf: surface the failure without blocking.
			checked.Warning = true
			result.Requirements = append(result.Requirements, checked)
			continue
		}

		activeUnits++
		if checked.Status.passes() {
			satisfiedUnits++
		} else if firstFailure == "" {
			firstFailure = checked.Reason
		}
		result.Requirements = append(result.Requirements, checked)
	}

	for _, child := range reg.ChildRules(rule) {
		childResult := EvaluateRule(reg, child, record)
		if childResult.Status == StatusSkipped {
			result.ChildRules = append(result.ChildRules, childResult)
			continue
		}
		if childResult.Status == StatusConfigError {
			configError = true
			if firstFailure == "" {
				firstFailure = childResult.Reason
			}
			result.ChildRules = append(result.ChildRules, childResult)
			continue
		}
		activeUnits++
		if childResult.Status.passes() {
			satisfiedUnits++
		} else if firstFailure == "" {
			firstFailure = childResult.Reason
		}
		result.ChildRules = append(result.ChildRules, childResult)
	}

	if configError {
		result.Status = StatusConfigError
		result.Reason = firstFailure
		return result
	}

	if activeUnits == 0 {
		// Vacuous satisfaction.
		return result
	}

	switch rule.Operator {
	case catalog.OpOr:
		if satisfiedUnits == 0 {
			result.Status = StatusNotSatisfied
			result.Reason = firstFailure
		}
	default: // AND
		if satisfiedUnits < activeUnits {
			result.Status = StatusNotSatisfied
			result.Reason = firstFailure
		}
	}
	return result
}

func scopeLabel(scope academics.GPAScope) string {
	switch scope {
	case academics.GPATerm:
		return "term"
	case academics.GPAMajor:
		return "major"
	default:
		return "cumulative"
	}
}
