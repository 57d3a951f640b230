package catalog

import (
	"context"
	"testing"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/config"
	"registrar-backend/internal/store"
)

func sqliteStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "catalog_test",
	})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func seedExec(t *testing.T, s *store.Store, sqlStr string, args ...any) {
	t.Helper()
	if _, err := store.Exec(context.Background(), s.DB, sqlStr, args...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestLoadAllFromDatabase(t *testing.T) {
	ctx := context.Background()
	s := sqliteStore(t)

	for _, code := range []string{"CS201", "CS301", "CHEM101", "CHEM101L"} {
		seedExec(t, s,
			`INSERT INTO courses (code, title, subject_area, credit_hours, active) VALUES (?1, ?2, ?3, ?4, ?5)`,
			code, "Course "+code, "CS", 3, true)
	}

	seedExec(t, s,
		`INSERT INTO prerequisite_rules (id, course_code, logic_operator, priority, active)
		 VALUES ('rule-1', 'CS301', 'AND', 0, 1)`)
	seedExec(t, s,
		`INSERT INTO prerequisite_rules (id, course_code, parent_rule_id, logic_operator, priority, active)
		 VALUES ('rule-2', 'CS301', 'rule-1', 'OR', 5, 1)`)
	seedExec(t, s,
		`INSERT INTO prerequisite_requirements
		 (id, rule_id, kind, is_required, sequence_order, must_be_completed, required_course_code, minimum_grade, active)
		 VALUES ('req-1', 'rule-1', 'completed_course', 1, 1, 1, 'CS201', 'C', 1)`)
	seedExec(t, s,
		`INSERT INTO prerequisite_requirements
		 (id, rule_id, kind, is_required, sequence_order, minimum_standing, active)
		 VALUES ('req-2', 'rule-2', 'class_standing', 1, 1, 'junior', 1)`)
	seedExec(t, s,
		`INSERT INTO prerequisite_requirements
		 (id, rule_id, kind, is_required, sequence_order, expression, active)
		 VALUES ('req-3', 'rule-2', 'alternative', 1, 2, 'student.gpa >= 3.5', 1)`)

	seedExec(t, s,
		`INSERT INTO corequisite_rules (id, course_code, logic_operator, priority, active)
		 VALUES ('coreq-1', 'CHEM101', 'AND', 0, 1)`)
	seedExec(t, s,
		`INSERT INTO corequisite_requirements
		 (id, rule_id, required_course_code, relationship, failure_action, is_required, sequence_order, active)
		 VALUES ('coreq-req-1', 'coreq-1', 'CHEM101L', 'concurrent_required', 'auto_add', 1, 1, 1)`)

	seedExec(t, s,
		`INSERT INTO enrollment_restrictions
		 (id, course_code, kind, enforcement_level, priority, majors, exclude, active)
		 VALUES ('res-1', 'CS301', 'major', 'hard_block', 0, '["CS","CE"]', 0, 1)`)

	reg := NewRegistry()
	if err := LoadAll(ctx, s, reg); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if reg.GetCourse("CS301") == nil || reg.GetCourse("CHEM101L") == nil {
		t.Fatal("courses not loaded")
	}

	roots := reg.RootRulesForCourse("CS301")
	if len(roots) != 1 || roots[0].ID != "rule-1" {
		t.Fatalf("roots = %+v, want single rule-1", roots)
	}
	root := roots[0]
	if len(root.Requirements) != 1 || root.Requirements[0].RequiredCourseCode != "CS201" {
		t.Fatalf("root requirements did not load: %+v", root.Requirements)
	}
	if root.Requirements[0].MinimumGrade != "C" || !root.Requirements[0].MustBeCompleted {
		t.Fatalf("requirement fields did not load: %+v", root.Requirements[0])
	}

	children := reg.ChildRules(root)
	if len(children) != 1 || children[0].Operator != OpOr {
		t.Fatalf("child rules did not load: %+v", children)
	}
	child := children[0]
	if len(child.Requirements) != 2 {
		t.Fatalf("child requirements = %d, want 2", len(child.Requirements))
	}
	if child.Requirements[0].MinimumStanding != academics.Junior {
		t.Fatalf("minimum standing = %v, want junior", child.Requirements[0].MinimumStanding)
	}
	if child.Requirements[1].Compiled == nil {
		t.Fatal("alternative expression not compiled at load")
	}

	coreqs := reg.CoreqRulesForCourse("CHEM101")
	if len(coreqs) != 1 || len(coreqs[0].Requirements) != 1 {
		t.Fatalf("corequisite rules did not load: %+v", coreqs)
	}
	if coreqs[0].Requirements[0].OnFailure != ActionAutoAdd {
		t.Fatalf("failure action = %s, want auto_add", coreqs[0].Requirements[0].OnFailure)
	}

	restrictions := reg.RestrictionsForCourse("CS301")
	if len(restrictions) != 1 {
		t.Fatalf("restrictions = %d, want 1", len(restrictions))
	}
	if got := restrictions[0].Majors; len(got) != 2 || got[0] != "CS" || got[1] != "CE" {
		t.Fatalf("majors did not round-trip: %v", got)
	}
	if restrictions[0].Enforcement != EnforceHardBlock {
		t.Fatalf("enforcement = %s, want hard_block", restrictions[0].Enforcement)
	}
}

func TestLoadAllKeepsInactiveRulesOutOfServing(t *testing.T) {
	ctx := context.Background()
	s := sqliteStore(t)

	seedExec(t, s,
		`INSERT INTO courses (code, title, subject_area, credit_hours, active) VALUES ('CS301', 'x', 'CS', 3, 1)`)
	seedExec(t, s,
		`INSERT INTO prerequisite_rules (id, course_code, logic_operator, priority, active)
		 VALUES ('rule-1', 'CS301', 'AND', 0, 1)`)
	seedExec(t, s,
		`INSERT INTO prerequisite_requirements
		 (id, rule_id, kind, is_required, sequence_order, required_course_code, active)
		 VALUES ('req-x', 'rule-1', 'completed_course', 1, 1, 'CS201', 1)`)
	seedExec(t, s,
		`INSERT INTO prerequisite_rules (id, course_code, logic_operator, priority, active)
		 VALUES ('rule-retired', 'CS301', 'AND', 0, 0)`)

	reg := NewRegistry()
	if err := LoadAll(ctx, s, reg); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	roots := reg.RootRulesForCourse("CS301")
	if len(roots) != 1 || roots[0].ID != "rule-1" {
		t.Fatalf("expected only active rule-1 served, got %+v", roots)
	}
	if len(roots[0].Requirements) != 1 {
		t.Fatalf("requirements = %d, want 1", len(roots[0].Requirements))
	}
	// The retired rule is still in the arena for admin listing.
	if reg.GetRule("rule-retired") == nil {
		t.Fatal("inactive rule should still load into the arena")
	}
}
