package catalog

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
)

// Registry is the in-memory view of the course catalog: courses, the rule
// arena (all prerequisite rules indexed by ID), corequisite rules,
// restrictions, and unresolved-cycle flags. It is reloaded wholesale after
// catalog edits; readers hold the RLock only long enough to copy slices.
type Registry struct {
	mu            sync.RWMutex
	courses       map[string]*Course
	rules         map[string]*PrerequisiteRule // arena: all rules by ID
	rootRules     map[string][]string          // course code -> root rule IDs
	coreqRules    map[string][]*CorequisiteRule
	restrictions  map[string][]*EnrollmentRestriction
	criticalCycle map[string]bool // course code -> unresolved critical cycle
}

func NewRegistry() *Registry {
	return &Registry{
		courses:       make(map[string]*Course),
		rules:         make(map[string]*PrerequisiteRule),
		rootRules:     make(map[string][]string),
		coreqRules:    make(map[string][]*CorequisiteRule),
		restrictions:  make(map[string][]*EnrollmentRestriction),
		criticalCycle: make(map[string]bool),
	}
}

// GetCourse returns the course with the given code, or nil.
func (r *Registry) GetCourse(code string) *Course {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.courses[code]
}

// AllCourses returns all registered courses.
func (r *Registry) AllCourses() []*Course {
	r.mu.RLock()
	defer r.mu.RUnlock()
	courses := make([]*Course, 0, len(r.courses))
	for _, c := range r.courses {
		courses = append(courses, c)
	}
	return courses
}

// GetRule returns the rule with the given ID from the arena, or nil.
func (r *Registry) GetRule(id string) *PrerequisiteRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules[id]
}

// RootRulesForCourse returns the active top-level prerequisite rules for a
// course, highest priority first.
func (r *Registry) RootRulesForCourse(code string) []*PrerequisiteRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rules []*PrerequisiteRule
	for _, id := range r.rootRules[code] {
		rule := r.rules[id]
		if rule != nil && rule.Active {
			rules = append(rules, rule)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}

// ChildRules returns the active nested rules of a rule, highest priority first.
func (r *Registry) ChildRules(rule *PrerequisiteRule) []*PrerequisiteRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var children []*PrerequisiteRule
	for _, id := range rule.ChildRuleIDs {
		child := r.rules[id]
		if child != nil && child.Active {
			children = append(children, child)
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Priority > children[j].Priority
	})
	return children
}

// CoreqRulesForCourse returns the active corequisite rules for a course.
func (r *Registry) CoreqRulesForCourse(code string) []*CorequisiteRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rules []*CorequisiteRule
	for _, rule := range r.coreqRules[code] {
		if rule.Active {
			rules = append(rules, rule)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}

// RestrictionsForCourse returns the active enrollment restrictions for a
// course, highest priority first.
func (r *Registry) RestrictionsForCourse(code string) []*EnrollmentRestriction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*EnrollmentRestriction
	for _, res := range r.restrictions[code] {
		if res.Active {
			active = append(active, res)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return active
}

// RequiredCourses returns the distinct course codes referenced by active
// completed-course requirements anywhere in the course's active rule tree.
// These are the outgoing edges of the dependency graph.
func (r *Registry) RequiredCourses(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var codes []string

	var walk func(rule *PrerequisiteRule)
	walk = func(rule *PrerequisiteRule) {
		if rule == nil || !rule.Active {
			return
		}
		for _, req := range rule.Requirements {
			if !req.Active || req.Kind != KindCompletedCourse || req.RequiredCourseCode == "" {
				continue
			}
			if !seen[req.RequiredCourseCode] {
				seen[req.RequiredCourseCode] = true
				codes = append(codes, req.RequiredCourseCode)
			}
		}
		for _, childID := range rule.ChildRuleIDs {
			walk(r.rules[childID])
		}
	}

	for _, id := range r.rootRules[code] {
		walk(r.rules[id])
	}
	sort.Strings(codes)
	return codes
}

// SetCycleFlags replaces the set of courses with an unresolved critical
// circular dependency. Consulted by the evaluator before every validation.
func (r *Registry) SetCycleFlags(flags map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.criticalCycle = make(map[string]bool, len(flags))
	for code, critical := range flags {
		if critical {
			r.criticalCycle[code] = true
		}
	}
}

// HasUnresolvedCriticalCycle reports whether validation of the course must be
// refused as a configuration error.
func (r *Registry) HasUnresolvedCriticalCycle(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.criticalCycle[code]
}

// Load replaces the registry contents. Rule ownership links are validated:
// every parent reference must resolve, and parent links must form a forest
// (no rule may be its own ancestor).
func (r *Registry) Load(
	courses []*Course,
	rules []*PrerequisiteRule,
	coreqRules []*CorequisiteRule,
	restrictions []*EnrollmentRestriction,
) error {
	arena := make(map[string]*PrerequisiteRule, len(rules))
	for _, rule := range rules {
		if _, dup := arena[rule.ID]; dup {
			return fmt.Errorf("duplicate rule id: %s", rule.ID)
		}
		rule.ChildRuleIDs = nil
		compileAlternatives(rule)
		arena[rule.ID] = rule
	}

	rootRules := make(map[string][]string)
	for _, rule := range rules {
		if rule.ParentRuleID == "" {
			rootRules[rule.CourseCode] = append(rootRules[rule.CourseCode], rule.ID)
			continue
		}
		parent, ok := arena[rule.ParentRuleID]
		if !ok {
			return fmt.Errorf("rule %s references missing parent %s", rule.ID, rule.ParentRuleID)
		}
		parent.ChildRuleIDs = append(parent.ChildRuleIDs, rule.ID)
	}

	for _, rule := range rules {
		if err := checkAncestry(arena, rule); err != nil {
			return err
		}
	}

	courseMap := make(map[string]*Course, len(courses))
	for _, c := range courses {
		courseMap[c.Code] = c
	}

	coreqMap := make(map[string][]*CorequisiteRule)
	for _, rule := range coreqRules {
		coreqMap[rule.CourseCode] = append(coreqMap[rule.CourseCode], rule)
	}

	restrictionMap := make(map[string][]*EnrollmentRestriction)
	for _, res := range restrictions {
		restrictionMap[res.CourseCode] = append(restrictionMap[res.CourseCode], res)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses = courseMap
	r.rules = arena
	r.rootRules = rootRules
	r.coreqRules = coreqMap
	r.restrictions = restrictionMap
	return nil
}

// compileAlternatives compiles alternative-requirement expressions before the
// rule is published. Rules are shared by concurrent readers after Load, so
// compilation must not happen during evaluation. A broken expression is left
// uncompiled and surfaces as a configuration error when the requirement is
// evaluated.
func compileAlternatives(rule *PrerequisiteRule) {
	for i := range rule.Requirements {
		req := &rule.Requirements[i]
		if req.Kind != KindAlternative || req.Expression == "" {
			continue
		}
		prog, err := expr.Compile(req.Expression, expr.AsBool())
		if err != nil {
			log.Printf("WARN: rule %s requirement %s: compile expression: %v", rule.ID, req.ID, err)
			continue
		}
		req.Compiled = prog
	}
}

// checkAncestry walks parent links from a rule and fails if the walk revisits
// the rule, which would make the ownership tree cyclic.
func checkAncestry(arena map[string]*PrerequisiteRule, rule *PrerequisiteRule) error {
	seen := map[string]bool{rule.ID: true}
	current := rule.ParentRuleID
	for current != "" {
		if seen[current] {
			return fmt.Errorf("rule tree cycle through rule %s", current)
		}
		seen[current] = true
		parent, ok := arena[current]
		if !ok {
			break
		}
		current = parent.ParentRuleID
	}
	return nil
}
