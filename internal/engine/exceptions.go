package engine

import (
	"sort"
	"time"

	"registrar-backend/internal/catalog"
)

// exceptionIndex maps rule and requirement IDs to the exception that
// neutralizes them.
type exceptionIndex struct {
	overrideByRule map[string]string // rule/restriction ID -> override ID
	overrideByReq  map[string]string
	waiverByRule   map[string]string
	waiverByReq    map[string]string
}

func buildExceptionIndex(result *ValidationResult, overrides []*PrerequisiteOverride, waivers []*PrerequisiteWaiver, now time.Time) *exceptionIndex {
	idx := &exceptionIndex{
		overrideByRule: make(map[string]string),
		overrideByReq:  make(map[string]string),
		waiverByRule:   make(map[string]string),
		waiverByReq:    make(map[string]string),
	}
	for _, o := range overrides {
		if !o.EffectiveAt(now) || !o.MatchesTerm(result.Term) {
			continue
		}
		if o.StudentID != result.StudentID || o.CourseCode != result.CourseCode {
			continue
		}
		for _, m := range o.Mappings {
			if m.RuleID != "" {
				idx.overrideByRule[m.RuleID] = o.ID
			}
			if m.RequirementID != "" {
				idx.overrideByReq[m.RequirementID] = o.ID
			}
		}
	}
	for _, w := range waivers {
		if !w.EffectiveAt(now) || !w.MatchesTerm(result.Term) {
			continue
		}
		if w.StudentID != result.StudentID || w.CourseCode != result.CourseCode {
			continue
		}
		for _, m := range w.Mappings {
			if m.RuleID != "" {
				idx.waiverByRule[m.RuleID] = w.ID
			}
			if m.RequirementID != "" {
				idx.waiverByReq[m.RequirementID] = w.ID
			}
		}
	}
	return idx
}

// ApplyExceptions flips failed checks that an effective override or waiver
// maps to, then recomputes every rule status bottom-up. Only NotSatisfied
// outcomes flip; configuration errors are catalog defects an exception
// cannot paper over. Exception IDs that changed an outcome are recorded on
// the result.
func ApplyExceptions(result *ValidationResult, overrides []*PrerequisiteOverride, waivers []*PrerequisiteWaiver, now time.Time) {
	idx := buildExceptionIndex(result, overrides, waivers, now)

	appliedOverrides := make(map[string]bool)
	appliedWaivers := make(map[string]bool)

	flip := func(status *CheckStatus, id string, byOverride, byWaiver map[string]string) {
		if *status != StatusNotSatisfied {
			return
		}
		if oid, ok := byOverride[id]; ok {
			*status = StatusOverridden
			appliedOverrides[oid] = true
			return
		}
		if wid, ok := byWaiver[id]; ok {
			*status = StatusWaived
			appliedWaivers[wid] = true
		}
	}

	var walkRule func(r *PrerequisiteCheckResult)
	walkRule = func(r *PrerequisiteCheckResult) {
		for i := range r.Requirements {
			req := &r.Requirements[i]
			flip(&req.Status, req.RequirementID, idx.overrideByReq, idx.waiverByReq)
		}
		for i := range r.ChildRules {
			walkRule(&r.ChildRules[i])
		}
		flip(&r.Status, r.RuleID, idx.overrideByRule, idx.waiverByRule)
	}

	for i := range result.Prerequisites {
		walkRule(&result.Prerequisites[i])
		recomputeRuleStatus(&result.Prerequisites[i])
	}

	for i := range result.Corequisites {
		coreq := &result.Corequisites[i]
		for j := range coreq.Requirements {
			req := &coreq.Requirements[j]
			flip(&req.Status, req.RequirementID, idx.overrideByReq, idx.waiverByReq)
		}
		flip(&coreq.Status, coreq.RuleID, idx.overrideByRule, idx.waiverByRule)
		recomputeCoreqStatus(coreq)
	}

	for i := range result.Restrictions {
		restr := &result.Restrictions[i]
		flip(&restr.Status, restr.RestrictionID, idx.overrideByRule, idx.waiverByRule)
	}

	result.AppliedOverrides = sortedKeys(appliedOverrides)
	result.AppliedWaivers = sortedKeys(appliedWaivers)
}

// recomputeRuleStatus re-aggregates a rule node after leaf statuses changed.
// A rule flipped directly to overridden or waived keeps that status; its
// children stay as recorded evidence.
func recomputeRuleStatus(r *PrerequisiteCheckResult) {
	switch r.Status {
	case StatusSkipped, StatusOverridden, StatusWaived:
		return
	}

	for i := range r.ChildRules {
		recomputeRuleStatus(&r.ChildRules[i])
	}

	activeUnits := 0
	satisfiedUnits := 0
	configError := false
	firstFailure := ""

	note := func(status CheckStatus, reason string) {
		switch status {
		case StatusSkipped:
		case StatusConfigError:
			configError = true
			if firstFailure == "" {
				firstFailure = reason
			}
		default:
			activeUnits++
			if status.passes() {
				satisfiedUnits++
			} else if firstFailure == "" {
				firstFailure = reason
			}
		}
	}

	for i := range r.Requirements {
		req := &r.Requirements[i]
		if req.Warning {
			continue
		}
		note(req.Status, req.Reason)
	}
	for i := range r.ChildRules {
		note(r.ChildRules[i].Status, r.ChildRules[i].Reason)
	}

	if configError {
		r.Status = StatusConfigError
		r.Reason = firstFailure
		return
	}

	if activeUnits == 0 {
		r.Status = StatusSatisfied
		r.Reason = ""
		return
	}

	satisfied := false
	if r.Operator == catalog.OpOr {
		satisfied = satisfiedUnits > 0
	} else {
		satisfied = satisfiedUnits == activeUnits
	}
	if satisfied {
		r.Status = StatusSatisfied
		r.Reason = ""
	} else {
		r.Status = StatusNotSatisfied
		r.Reason = firstFailure
	}
}

func recomputeCoreqStatus(r *CorequisiteCheckResult) {
	switch r.Status {
	case StatusSkipped, StatusOverridden, StatusWaived:
		return
	}

	activeUnits := 0
	satisfiedUnits := 0
	firstFailure := ""

	for i := range r.Requirements {
		req := &r.Requirements[i]
		if req.Warning || req.Status == StatusSkipped {
			continue
		}
		activeUnits++
		if req.Status.passes() {
			satisfiedUnits++
		} else if firstFailure == "" {
			firstFailure = req.Reason
		}
	}

	if activeUnits == 0 {
		r.Status = StatusSatisfied
		r.Reason = ""
		return
	}

	satisfied := false
	if r.Operator == catalog.OpOr {
		satisfied = satisfiedUnits > 0
	} else {
		satisfied = satisfiedUnits == activeUnits
	}
	if satisfied {
		r.Status = StatusSatisfied
		r.Reason = ""
	} else {
		r.Status = StatusNotSatisfied
		r.Reason = firstFailure
	}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
