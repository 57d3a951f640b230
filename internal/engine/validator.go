package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
	"registrar-backend/internal/instrument"
	"registrar-backend/internal/store"
)

// saveRetries bounds how often a validation re-saves after losing an
// optimistic concurrency race.
const saveRetries = 3

// Validator runs the full eligibility check for a (student, course, term)
// and persists the verdict as a new result version.
type Validator struct {
	registry   *catalog.Registry
	exceptions ExceptionStore
	results    ResultStore
	now        func() time.Time
}

func NewValidator(registry *catalog.Registry, exceptions ExceptionStore, results ResultStore) *Validator {
	return &Validator{
		registry:   registry,
		exceptions: exceptions,
		results:    results,
		now:        time.Now,
	}
}

// Evaluate computes the verdict without persisting it. The student record
// arrives from the caller; the engine never fetches academic history itself.
func (v *Validator) Evaluate(ctx context.Context, record *academics.StudentRecord, courseCode, term string) (*ValidationResult, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "validator", "validation.evaluate")
	defer span.End()
	span.SetEntity("course", courseCode)
	span.SetMetadata("student_id", record.StudentID)

	course := v.registry.GetCourse(courseCode)
	if course == nil || !course.Active {
		span.SetStatus("error")
		return nil, UnknownCourseError(courseCode)
	}

	now := v.now().UTC()
	result := &ValidationResult{
		StudentID:   record.StudentID,
		CourseCode:  courseCode,
		Term:        term,
		ValidatedAt: now,
	}

	// An unresolved critical cycle through this course makes any verdict
	// meaningless; report the catalog defect instead of evaluating.
	if v.registry.HasUnresolvedCriticalCycle(courseCode) {
		result.OverallStatus = ConfigurationError
		result.ConfigurationNotes = append(result.ConfigurationNotes,
			fmt.Sprintf("%s is part of an unresolved circular prerequisite chain", courseCode))
		span.SetStatus("ok")
		span.SetMetadata("overall_status", string(result.OverallStatus))
		return result, nil
	}

	for _, rule := range v.registry.RootRulesForCourse(courseCode) {
		result.Prerequisites = append(result.Prerequisites, EvaluateRule(v.registry, rule, record))
	}

	for _, rule := range v.registry.CoreqRulesForCourse(courseCode) {
		checked, autoAdd := EvaluateCorequisiteRule(rule, record)
		result.Corequisites = append(result.Corequisites, checked)
		result.AutoAddCourses = append(result.AutoAddCourses, autoAdd...)
	}

	for _, restriction := range v.registry.RestrictionsForCourse(courseCode) {
		result.Restrictions = append(result.Restrictions, EvaluateRestriction(restriction, record))
	}

	if v.exceptions != nil {
		overrides, err := v.exceptions.ListOverrides(ctx, record.StudentID, courseCode)
		if err != nil {
			span.SetStatus("error")
			return nil, fmt.Errorf("load overrides: %w", err)
		}
		waivers, err := v.exceptions.ListWaivers(ctx, record.StudentID, courseCode)
		if err != nil {
			span.SetStatus("error")
			return nil, fmt.Errorf("load waivers: %w", err)
		}
		ApplyExceptions(result, overrides, waivers, now)
	}

	aggregate(result)
	span.SetStatus("ok")
	span.SetMetadata("overall_status", string(result.OverallStatus))
	return result, nil
}

// Validate evaluates and persists the verdict as the next result version,
// retrying when a concurrent validation wins the version race.
func (v *Validator) Validate(ctx context.Context, record *academics.StudentRecord, courseCode, term string) (*ValidationResult, error) {
	for attempt := 0; attempt < saveRetries; attempt++ {
		result, err := v.Evaluate(ctx, record, courseCode, term)
		if err != nil {
			return nil, err
		}

		expectedVersion := 0
		if current, err := v.results.GetCurrent(ctx, record.StudentID, courseCode, term); err == nil {
			expectedVersion = current.Version
		}

		err = v.results.SaveResult(ctx, result, expectedVersion)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("save result: %w", err)
		}
	}
	return nil, store.ErrVersionConflict
}

// aggregate folds all section outcomes into the overall verdict. Any
// configuration error wins; then hard failures; then warnings.
func aggregate(result *ValidationResult) {
	configError := false
	hardFailure := false
	warning := false

	noteStatus := func(status CheckStatus, warn bool, reason string) {
		switch {
		case status == StatusConfigError:
			configError = true
			if reason != "" {
				result.ConfigurationNotes = append(result.ConfigurationNotes, reason)
			}
		case status == StatusNotSatisfied && warn:
			warning = true
		case status == StatusNotSatisfied:
			hardFailure = true
		}
	}

	var walkRule func(r *PrerequisiteCheckResult)
	walkRule = func(r *PrerequisiteCheckResult) {
		// Only leaf warnings bubble independently; the rule status already
		// accounts for blocking outcomes.
		for i := range r.Requirements {
			req := &r.Requirements[i]
			if req.Warning && req.Status == StatusNotSatisfied {
				warning = true
			}
		}
		for i := range r.ChildRules {
			walkRule(&r.ChildRules[i])
		}
	}

	for i := range result.Prerequisites {
		root := &result.Prerequisites[i]
		noteStatus(root.Status, false, root.Reason)
		walkRule(root)
	}

	for i := range result.Corequisites {
		coreq := &result.Corequisites[i]
		noteStatus(coreq.Status, false, coreq.Reason)
		for j := range coreq.Requirements {
			req := &coreq.Requirements[j]
			if req.Warning && req.Status == StatusNotSatisfied {
				warning = true
			}
		}
	}

	for i := range result.Restrictions {
		restriction := &result.Restrictions[i]
		noteStatus(restriction.Status, restriction.Warning, restriction.Reason)
	}

	switch {
	case configError:
		result.OverallStatus = ConfigurationError
	case hardFailure:
		result.OverallStatus = Ineligible
	case warning:
		result.OverallStatus = EligibleWithWarning
	default:
		result.OverallStatus = Eligible
	}
}
