package engine

import (
	"sync"
	"testing"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
)

func evalRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	return loadRegistry(t, []*catalog.Course{
		testCourse("CS101"), testCourse("CS201"), testCourse("MATH150"),
	}, nil, nil, nil)
}

func richRecord() *academics.StudentRecord {
	return &academics.StudentRecord{
		StudentID:     "S100",
		Majors:        []string{"CS"},
		Standing:      academics.Junior,
		CumulativeGPA: dec("3.10"),
		Transcript: []academics.CompletedCourse{
			{CourseCode: "CS101", SubjectArea: "CS", Grade: "B+", CreditHours: dec("3"), Completed: true},
			{CourseCode: "MATH150", SubjectArea: "MATH", Grade: "C", CreditHours: dec("4"), Completed: true},
		},
		Permissions: []string{"DEPT-CS"},
		TestScores:  map[string]float64{"ALEKS": 72},
	}
}

func TestEvaluateRequirementKinds(t *testing.T) {
	reg := evalRegistry(t)
	record := richRecord()

	cases := []struct {
		name string
		req  catalog.PrerequisiteRequirement
		want CheckStatus
	}{
		{"completed course met", courseReq("r1", "CS101", "B"), StatusSatisfied},
		{"grade below minimum", courseReq("r2", "MATH150", "B"), StatusNotSatisfied},
		{"course never taken", courseReq("r3", "CS201", ""), StatusNotSatisfied},
		{"gpa met", catalog.PrerequisiteRequirement{
			ID: "r4", Kind: catalog.KindMinimumGPA, IsRequired: true, Active: true,
			GPAScope: academics.GPACumulative, MinimumGPA: dec("3.0"),
		}, StatusSatisfied},
		{"gpa below", catalog.PrerequisiteRequirement{
			ID: "r5", Kind: catalog.KindMinimumGPA, IsRequired: true, Active: true,
			GPAScope: academics.GPACumulative, MinimumGPA: dec("3.5"),
		}, StatusNotSatisfied},
		{"subject credits met", catalog.PrerequisiteRequirement{
			ID: "r6", Kind: catalog.KindSubjectCredits, IsRequired: true, Active: true,
			SubjectArea: "MATH", MinimumCreditHours: dec("4"),
		}, StatusSatisfied},
		{"subject credits short", catalog.PrerequisiteRequirement{
			ID: "r7", Kind: catalog.KindSubjectCredits, IsRequired: true, Active: true,
			SubjectArea: "MATH", MinimumCreditHours: dec("8"),
		}, StatusNotSatisfied},
		{"standing met", catalog.PrerequisiteRequirement{
			ID: "r8", Kind: catalog.KindClassStanding, IsRequired: true, Active: true,
			MinimumStanding: academics.Sophomore,
		}, StatusSatisfied},
		{"standing below", catalog.PrerequisiteRequirement{
			ID: "r9", Kind: catalog.KindClassStanding, IsRequired: true, Active: true,
			MinimumStanding: academics.Senior,
		}, StatusNotSatisfied},
		{"permission granted", catalog.PrerequisiteRequirement{
			ID: "r10", Kind: catalog.KindPermission, IsRequired: true, Active: true,
			PermissionCode: "DEPT-CS",
		}, StatusSatisfied},
		{"permission missing", catalog.PrerequisiteRequirement{
			ID: "r11", Kind: catalog.KindPermission, IsRequired: true, Active: true,
			PermissionCode: "DEPT-EE",
		}, StatusNotSatisfied},
		{"test score met", catalog.PrerequisiteRequirement{
			ID: "r12", Kind: catalog.KindTestScore, IsRequired: true, Active: true,
			TestName: "ALEKS", MinimumScore: 70,
		}, StatusSatisfied},
		{"test score below", catalog.PrerequisiteRequirement{
			ID: "r13", Kind: catalog.KindTestScore, IsRequired: true, Active: true,
			TestName: "ALEKS", MinimumScore: 80,
		}, StatusNotSatisfied},
		{"test score absent", catalog.PrerequisiteRequirement{
			ID: "r14", Kind: catalog.KindTestScore, IsRequired: true, Active: true,
			TestName: "SAT", MinimumScore: 600,
		}, StatusNotSatisfied},
		{"inactive requirement skipped", catalog.PrerequisiteRequirement{
			ID: "r15", Kind: catalog.KindPermission, IsRequired: true, Active: false,
			PermissionCode: "DEPT-EE",
		}, StatusSkipped},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateRequirement(reg, &tc.req, record)
			if got.Status != tc.want {
				t.Errorf("status = %s, want %s (reason: %s)", got.Status, tc.want, got.Reason)
			}
		})
	}
}

func TestEvaluateRequirementUnknownCourseIsConfigError(t *testing.T) {
	reg := evalRegistry(t)
	req := courseReq("r1", "GHOST999", "")

	got := EvaluateRequirement(reg, &req, richRecord())
	if got.Status != StatusConfigError {
		t.Errorf("status = %s, want configuration_error", got.Status)
	}
}

func TestEvaluateRequirementAttemptSuffices(t *testing.T) {
	reg := evalRegistry(t)
	record := &academics.StudentRecord{
		StudentID: "S100",
		Transcript: []academics.CompletedCourse{
			{CourseCode: "CS101", Grade: "W", Completed: false},
		},
	}

	req := courseReq("r1", "CS101", "")
	req.MustBeCompleted = false
	if got := EvaluateRequirement(reg, &req, record); got.Status != StatusSatisfied {
		t.Errorf("attempt-only status = %s, want satisfied (reason: %s)", got.Status, got.Reason)
	}

	// With completion required, a withdrawal does not count.
	req.MustBeCompleted = true
	if got := EvaluateRequirement(reg, &req, record); got.Status != StatusNotSatisfied {
		t.Errorf("completion status = %s, want not_satisfied", got.Status)
	}
}

func TestEvaluateRequirementAlternativeExpression(t *testing.T) {
	reg := evalRegistry(t)
	record := richRecord()

	req := catalog.PrerequisiteRequirement{
		ID: "alt-1", Kind: catalog.KindAlternative, IsRequired: true, Active: true,
		Expression: `student.gpa >= 3.0 && "CS101" in student.completed`,
	}
	got := EvaluateRequirement(reg, &req, record)
	if got.Status != StatusSatisfied {
		t.Errorf("status = %s, want satisfied (reason: %s)", got.Status, got.Reason)
	}
	if req.Compiled == nil {
		t.Error("compiled program not cached")
	}

	req2 := catalog.PrerequisiteRequirement{
		ID: "alt-2", Kind: catalog.KindAlternative, IsRequired: true, Active: true,
		Expression: `len(student.completed) >= 10`,
	}
	if got := EvaluateRequirement(reg, &req2, record); got.Status != StatusNotSatisfied {
		t.Errorf("status = %s, want not_satisfied", got.Status)
	}

	broken := catalog.PrerequisiteRequirement{
		ID: "alt-3", Kind: catalog.KindAlternative, IsRequired: true, Active: true,
		Expression: `student.gpa >`,
	}
	if got := EvaluateRequirement(reg, &broken, record); got.Status != StatusConfigError {
		t.Errorf("broken expression status = %s, want configuration_error", got.Status) // Should fail
	}
}

func TestEvaluateRuleOperators(t *testing.T) {
	reg := evalRegistry(t)
	record := richRecord()

	andRule := &catalog.PrerequisiteRule{
		ID: "and-rule", CourseCode: "CS201", Operator: catalog.OpAnd, Active: true,
		Requirements: []catalog.PrerequisiteRequirement{
			courseReq("ra", "CS101", "B"),
			courseReq("rb", "MATH150", "B"), // grade C on file
		},
	}
	got := EvaluateRule(reg, andRule, record)
	if got.Status != StatusNotSatisfied {
		t.Errorf("AND status = %s, want not_satisfied", got.Status)
	}

	orRule := &catalog.PrerequisiteRule{
		ID: "or-rule", CourseCode: "CS201", Operator: catalog.OpOr, Active: true,
		Requirements: []catalog.PrerequisiteRequirement{
			courseReq("ra", "CS101", "B"),
			courseReq("rb", "MATH150", "B"),
		},
	}
	got = EvaluateRule(reg, orRule, record)
	if got.Status != StatusSatisfied {
		t.Errorf("OR status = %s, want satisfied (reason: %s)", got.Status, got.Reason)
	}
}

func TestEvaluateRuleOptionalRequirementWarns(t *testing.T) {
	reg := evalRegistry(t)
	record := richRecord()

	optional := courseReq("opt", "CS201", "")
	optional.IsRequired = false
	rule := &catalog.PrerequisiteRule{
		ID: "rule-opt", CourseCode: "CS201", Operator: catalog.OpAnd, Active: true,
		Requirements: []catalog.PrerequisiteRequirement{
			courseReq("must", "CS101", ""),
			optional,
		},
	}

	got := EvaluateRule(reg, rule, record)
	if got.Status != StatusSatisfied {
		t.Fatalf("rule status = %s, want satisfied (reason: %s)", got.Status, got.Reason)
	}
	var warned *RequirementCheckResult
	for i := range got.Requirements {
		if got.Requirements[i].RequirementID == "opt" {
			warned = &got.Requirements[i]
		}
	}
	if warned == nil || !warned.Warning || warned.Status != StatusNotSatisfied {
		t.Errorf("optional requirement = %+v, want warning not_satisfied", warned)
	}
}

func TestEvaluateRuleVacuousSatisfaction(t *testing.T) {
	reg := evalRegistry(t)
	rule := &catalog.PrerequisiteRule{
		ID: "empty", CourseCode: "CS201", Operator: catalog.OpAnd, Active: true,
	}
	got := EvaluateRule(reg, rule, &academics.StudentRecord{StudentID: "S1"})
	if got.Status != StatusSatisfied {
		t.Errorf("empty rule status = %s, want satisfied", got.Status)
	}

	// Disabling the sole requirement leaves the rule vacuously satisfied too.
	disabled := courseReq("only", "CS201", "")
	disabled.Active = false
	rule.Requirements = []catalog.PrerequisiteRequirement{disabled}
	got = EvaluateRule(reg, rule, &academics.StudentRecord{StudentID: "S1"})
	if got.Status != StatusSatisfied {
		t.Errorf("disabled-only rule status = %s, want satisfied", got.Status)
	}
}

func TestEvaluateRuleNestedChildren(t *testing.T) {
	// Root AND: CS101 completed AND (MATH150 at B OR junior standing).
	courses := []*catalog.Course{testCourse("CS101"), testCourse("MATH150"), testCourse("CS301")}
	root := &catalog.PrerequisiteRule{
		ID: "root", CourseCode: "CS301", Operator: catalog.OpAnd, Active: true,
		Requirements: []catalog.PrerequisiteRequirement{courseReq("ra", "CS101", "")},
	}
	child := &catalog.PrerequisiteRule{
		ID: "child", CourseCode: "CS301", ParentRuleID: "root", Operator: catalog.OpOr, Active: true,
		Requirements: []catalog.PrerequisiteRequirement{
			courseReq("rb", "MATH150", "B"),
			{ID: "rc", Kind: catalog.KindClassStanding, IsRequired: true, Active: true,
				MinimumStanding: academics.Junior},
		},
	}
	reg := loadRegistry(t, courses, []*catalog.PrerequisiteRule{root, child}, nil, nil)

	got := EvaluateRule(reg, reg.RootRulesForCourse("CS301")[0], richRecord())
	if got.Status != StatusSatisfied {
		t.Fatalf("root status = %s, want satisfied (reason: %s)", got.Status, got.Reason)
	}
	if len(got.ChildRules) != 1 {
		t.Fatalf("child rules = %d, want 1", len(got.ChildRules))
	}
	// MATH150 grade C fails but junior standing carries the OR branch.
	if got.ChildRules[0].Status != StatusSatisfied {
		t.Errorf("child status = %s, want satisfied", got.ChildRules[0].Status)
	}
}

func TestEvaluateRuleSharedRuleStaysUnmodified(t *testing.T) {
	// Registry rules are shared across simultaneous validations; evaluation
	// must never write to them, even for expression-backed requirements.
	rule := &catalog.PrerequisiteRule{
		ID: "shared", CourseCode: "CS201", Operator: catalog.OpAnd, Active: true,
		Requirements: []catalog.PrerequisiteRequirement{
			courseReq("ra", "CS101", "B"),
			{ID: "rb", Kind: catalog.KindAlternative, IsRequired: true, Active: true,
				Expression: `student.gpa >= 3.0 && "CS101" in student.completed`},
		},
	}
	reg := loadRegistry(t,
		[]*catalog.Course{testCourse("CS101"), testCourse("CS201")},
		[]*catalog.PrerequisiteRule{rule}, nil, nil)

	shared := reg.RootRulesForCourse("CS201")[0]
	if shared.Requirements[1].Compiled == nil {
		t.Fatal("expression should be compiled when the registry loads")
	}

	var wg sync.WaitGroup
	failures := make(chan string, 8*50)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := richRecord()
			for i := 0; i < 50; i++ {
				got := EvaluateRule(reg, shared, record)
				if got.Status != StatusSatisfied {
					failures <- string(got.Status) + ": " + got.Reason
				}
			}
		}()
	}
	wg.Wait()
	close(failures)

	for f := range failures {
		t.Fatalf("concurrent evaluation failed: %s", f)
	}
}
