package catalog

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/store"
)

// LoadAll reads the whole catalog from the database and replaces the registry
// contents. Called at startup and after every admin mutation.
func LoadAll(ctx context.Context, s *store.Store, reg *Registry) error {
	courses, err := loadCourses(ctx, s)
	if err != nil {
		return fmt.Errorf("load courses: %w", err)
	}

	rules, err := loadPrerequisiteRules(ctx, s)
	if err != nil {
		return fmt.Errorf("load prerequisite rules: %w", err)
	}

	coreqRules, err := loadCorequisiteRules(ctx, s)
	if err != nil {
		return fmt.Errorf("load corequisite rules: %w", err)
	}

	restrictions, err := loadRestrictions(ctx, s)
	if err != nil {
		return fmt.Errorf("load restrictions: %w", err)
	}

	if err := reg.Load(courses, rules, coreqRules, restrictions); err != nil {
		return fmt.Errorf("populate registry: %w", err)
	}

	log.Printf("Loaded %d courses, %d prerequisite rules, %d corequisite rules, %d restrictions into registry",
		len(courses), len(rules), len(coreqRules), len(restrictions))
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, s *store.Store, reg *Registry) error {
	return LoadAll(ctx, s, reg)
}

func loadCourses(ctx context.Context, s *store.Store) ([]*Course, error) {
	rows, err := store.QueryRows(ctx, s.DB,
		`SELECT code, title, subject_area, credit_hours, active FROM courses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans(rows, []string{"active"})

	var courses []*Course
	for _, row := range rows {
		courses = append(courses, &Course{
			Code:        asString(row["code"]),
			Title:       asString(row["title"]),
			SubjectArea: asString(row["subject_area"]),
			CreditHours: asDecimal(row["credit_hours"]),
			Active:      asBool(row["active"]),
		})
	}
	return courses, nil
}

func loadPrerequisiteRules(ctx context.Context, s *store.Store) ([]*PrerequisiteRule, error) {
	ruleRows, err := store.QueryRows(ctx, s.DB,
		`SELECT id, course_code, parent_rule_id, logic_operator, priority, active
		 FROM prerequisite_rules ORDER BY course_code, priority DESC`)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans(ruleRows, []string{"active"})

	rulesByID := make(map[string]*PrerequisiteRule, len(ruleRows))
	var rules []*PrerequisiteRule
	for _, row := range ruleRows {
		rule := &PrerequisiteRule{
			ID:           asString(row["id"]),
			CourseCode:   asString(row["course_code"]),
			ParentRuleID: asString(row["parent_rule_id"]),
			Operator:     LogicOperator(asString(row["logic_operator"])),
			Priority:     asInt(row["priority"]),
			Active:       asBool(row["active"]),
		}
		rulesByID[rule.ID] = rule
		rules = append(rules, rule)
	}

	reqRows, err := store.QueryRows(ctx, s.DB,
		`SELECT id, rule_id, kind, is_required, sequence_order, must_be_completed,
		        required_course_code, minimum_grade, subject_area, minimum_credit_hours,
		        gpa_scope, minimum_gpa, minimum_standing, permission_code,
		        test_name, minimum_score, expression, active
		 FROM prerequisite_requirements ORDER BY rule_id, sequence_order`)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans(reqRows, []string{"is_required", "must_be_completed", "active"})

	for _, row := range reqRows {
		ruleID := asString(row["rule_id"])
		rule, ok := rulesByID[ruleID]
		if !ok {
			log.Printf("WARN: skipping requirement %s (unknown rule %s)", asString(row["id"]), ruleID)
			continue
		}

		req := PrerequisiteRequirement{
			ID:                 asString(row["id"]),
			RuleID:             ruleID,
			Kind:               RequirementKind(asString(row["kind"])),
			IsRequired:         asBool(row["is_required"]),
			SequenceOrder:      asInt(row["sequence_order"]),
			MustBeCompleted:    asBool(row["must_be_completed"]),
			RequiredCourseCode: asString(row["required_course_code"]),
			MinimumGrade:       asString(row["minimum_grade"]),
			SubjectArea:        asString(row["subject_area"]),
			MinimumCreditHours: asDecimal(row["minimum_credit_hours"]),
			GPAScope:           academics.GPAScope(asString(row["gpa_scope"])),
			MinimumGPA:         asDecimal(row["minimum_gpa"]),
			PermissionCode:     asString(row["permission_code"]),
			TestName:           asString(row["test_name"]),
			MinimumScore:       asFloat(row["minimum_score"]),
			Expression:         asString(row["expression"]),
			Active:             asBool(row["active"]),
		}
		if standing := asString(row["minimum_standing"]); standing != "" {
			parsed, err := academics.ParseStanding(standing)
			if err != nil {
				log.Printf("WARN: requirement %s: %v", req.ID, err)
			} else {
				req.MinimumStanding = parsed
			}
		}
		rule.Requirements = append(rule.Requirements, req)
	}

	return rules, nil
}

func loadCorequisiteRules(ctx context.Context, s *store.Store) ([]*CorequisiteRule, error) {
	ruleRows, err := store.QueryRows(ctx, s.DB,
		`SELECT id, course_code, logic_operator, priority, active
		 FROM corequisite_rules ORDER BY course_code, priority DESC`)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans(ruleRows, []string{"active"})

	rulesByID := make(map[string]*CorequisiteRule, len(ruleRows))
	var rules []*CorequisiteRule
	for _, row := range ruleRows {
		rule := &CorequisiteRule{
			ID:         asString(row["id"]),
			CourseCode: asString(row["course_code"]),
			Operator:   LogicOperator(asString(row["logic_operator"])),
			Priority:   asInt(row["priority"]),
			Active:     asBool(row["active"]),
		}
		rulesByID[rule.ID] = rule
		rules = append(rules, rule)
	}

	reqRows, err := store.QueryRows(ctx, s.DB,
		`SELECT id, rule_id, required_course_code, relationship, failure_action,
		        is_required, sequence_order, active
		 FROM corequisite_requirements ORDER BY rule_id, sequence_order`)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans(reqRows, []string{"is_required", "active"})

	for _, row := range reqRows {
		ruleID := asString(row["rule_id"])
		rule, ok := rulesByID[ruleID]
		if !ok {
			log.Printf("WARN: skipping corequisite requirement %s (unknown rule %s)", asString(row["id"]), ruleID)
			continue
		}
		rule.Requirements = append(rule.Requirements, CorequisiteRequirement{
			ID:                 asString(row["id"]),
			RuleID:             ruleID,
			RequiredCourseCode: asString(row["required_course_code"]),
			Relationship:       EnrollmentRelationship(asString(row["relationship"])),
			OnFailure:          FailureAction(asString(row["failure_action"])),
			IsRequired:         asBool(row["is_required"]),
			SequenceOrder:      asInt(row["sequence_order"]),
			Active:             asBool(row["active"]),
		})
	}

	return rules, nil
}

func loadRestrictions(ctx context.Context, s *store.Store) ([]*EnrollmentRestriction, error) {
	rows, err := store.QueryRows(ctx, s.DB,
		`SELECT id, course_code, kind, enforcement_level, priority, majors, exclude,
		        minimum_standing, permission_code, active
		 FROM enrollment_restrictions ORDER BY course_code, priority DESC`)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans(rows, []string{"exclude", "active"})

	var restrictions []*EnrollmentRestriction
	for _, row := range rows {
		majors, err := s.Dialect.ScanArray(row["majors"])
		if err != nil {
			log.Printf("WARN: restriction %s: bad majors list: %v", asString(row["id"]), err)
		}

		res := &EnrollmentRestriction{
			ID:             asString(row["id"]),
			CourseCode:     asString(row["course_code"]),
			Kind:           RestrictionKind(asString(row["kind"])),
			Enforcement:    EnforcementLevel(asString(row["enforcement_level"])),
			Priority:       asInt(row["priority"]),
			Majors:         majors,
			Exclude:        asBool(row["exclude"]),
			PermissionCode: asString(row["permission_code"]),
			Active:         asBool(row["active"]),
		}
		if standing := asString(row["minimum_standing"]); standing != "" {
			parsed, err := academics.ParseStanding(standing)
			if err != nil {
				log.Printf("WARN: restriction %s: %v", res.ID, err)
			} else {
				res.MinimumStanding = parsed
			}
		}
		restrictions = append(restrictions, res)
	}
	return restrictions, nil
}

// --- row value coercion ---

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", v)
}

func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil {
			f, _ := d.Float64()
			return f
		}
	}
	return 0
}

func asDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int64:
		return decimal.NewFromInt(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}
