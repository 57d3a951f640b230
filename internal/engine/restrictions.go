package engine

import (
	"fmt"
	"strings"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
)

// EvaluateRestriction checks a single enrollment restriction against the
// student's major declarations, class standing, and granted permissions.
// Advisory restrictions surface failures as warnings rather than blocks.
func EvaluateRestriction(res *catalog.EnrollmentRestriction, record *academics.StudentRecord) RestrictionCheckResult {
	result := RestrictionCheckResult{
		RestrictionID: res.ID,
		Kind:          res.Kind,
		Enforcement:   res.Enforcement,
		Status:        StatusSatisfied,
	}

	if !res.Active {
		result.Status = StatusSkipped
		return result
	}

	switch res.Kind {
	case catalog.RestrictionMajor:
		matched := false
		for _, major := range res.Majors {
			if record.HasMajor(major) {
				matched = true
				break
			}
		}
		if res.Exclude && matched {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("major excluded from enrollment (%s)", strings.Join(res.Majors, ", "))
		} else if !res.Exclude && !matched {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("restricted to majors: %s", strings.Join(res.Majors, ", "))
		}

	case catalog.RestrictionClassStanding:
		if !record.Standing.AtLeast(res.MinimumStanding) {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("class standing %s below required %s",
				record.Standing, res.MinimumStanding)
		}

	case catalog.RestrictionPermission:
		if !record.HasPermission(res.PermissionCode) {
			result.Status = StatusNotSatisfied
			result.Reason = fmt.Sprintf("requires permission %s", res.PermissionCode)
		}

	default:
		result.Status = StatusConfigError
		result.Reason = fmt.Sprintf("unknown restriction kind: %s", res.Kind)
	}

	if result.Status == StatusNotSatisfied && res.Enforcement == catalog.EnforceAdvisory {
		result.Warning = true
	}
	return result
}
