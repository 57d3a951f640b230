package engine

import (
	"context"
	"strings"
	"testing"

	"registrar-backend/internal/catalog"
)

// chainRule gives course a single AND rule requiring the listed courses.
func chainRule(id, course string, requires ...string) *catalog.PrerequisiteRule {
	rule := &catalog.PrerequisiteRule{
		ID:         id,
		CourseCode: course,
		Operator:   catalog.OpAnd,
		Active:     true,
	}
	for i, target := range requires {
		rule.Requirements = append(rule.Requirements,
			courseReq(id+"-r"+string(rune('a'+i)), target, ""))
	}
	return rule
}

func graphRegistry(t *testing.T, rules ...*catalog.PrerequisiteRule) *catalog.Registry {
	t.Helper()
	seen := make(map[string]bool)
	var courses []*catalog.Course
	add := func(code string) {
		if !seen[code] {
			seen[code] = true
			courses = append(courses, testCourse(code))
		}
	}
	for _, rule := range rules {
		add(rule.CourseCode)
		for _, req := range rule.Requirements {
			add(req.RequiredCourseCode)
		}
	}
	return loadRegistry(t, courses, rules, nil, nil)
}

func TestAnalyzeCatalogCleanGraph(t *testing.T) {
	reg := graphRegistry(t,
		chainRule("r1", "CS201", "CS101"),
		chainRule("r2", "CS301", "CS201"),
		chainRule("r3", "MATH201", "MATH101"),
	)

	analysis := AnalyzeCatalog(reg)
	if len(analysis.Cycles) != 0 {
		t.Fatalf("expected no cycles, got %v", analysis.Cycles)
	}
	if len(analysis.Findings) != 0 {
		t.Errorf("expected no findings, got %d", len(analysis.Findings))
	}
	if analysis.HasCritical() {
		t.Error("clean graph reported critical")
	}
}

func TestAnalyzeCatalogDedupesCycle(t *testing.T) {
	// A -> B -> C -> A discovered from three entry points is still one cycle.
	reg := graphRegistry(t,
		chainRule("r1", "A", "B"),
		chainRule("r2", "B", "C"),
		chainRule("r3", "C", "A"),
	)

	analysis := AnalyzeCatalog(reg)
	if len(analysis.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d: %v", len(analysis.Cycles), analysis.Cycles)
	}
	if len(analysis.Cycles[0]) != 3 {
		t.Errorf("expected 3-node cycle, got %v", analysis.Cycles[0])
	}

	critical := analysis.CriticalCourses()
	for _, code := range []string{"A", "B", "C"} {
		if !critical[code] {
			t.Errorf("%s should be critical", code)
		}
	}
}

func TestAnalyzeCatalogMutualPrerequisites(t *testing.T) {
	reg := graphRegistry(t,
		chainRule("r1", "CS201", "CS301"),
		chainRule("r2", "CS301", "CS201"),
	)

	analysis := AnalyzeCatalog(reg)
	if !analysis.HasCritical() {
		t.Fatal("mutual prerequisites should be critical")
	}
	critical := analysis.CriticalCourses()
	if !critical["CS201"] || !critical["CS301"] {
		t.Errorf("both courses should be flagged, got %v", critical)
	}
}

func TestAnalyzeCatalogSeverityLadder(t *testing.T) {
	// Cycle A<->B, then NEAR1 -> A (1 edge), NEAR2 -> NEAR1 -> A (2 edges),
	// FAR -> NEAR2 -> NEAR1 -> A (3 edges).
	reg := graphRegistry(t,
		chainRule("r1", "A", "B"),
		chainRule("r2", "B", "A"),
		chainRule("r3", "NEAR1", "A"),
		chainRule("r4", "NEAR2", "NEAR1"),
		chainRule("r5", "FAR", "NEAR2"),
	)

	analysis := AnalyzeCatalog(reg)
	want := map[string]CycleSeverity{
		"A":     SeverityCritical,
		"B":     SeverityCritical,
		"NEAR1": SeverityHigh,
		"NEAR2": SeverityHigh,
		"FAR":   SeverityMedium,
	}
	got := make(map[string]CycleSeverity)
	for _, f := range analysis.Findings {
		got[f.CourseCode] = f.Severity
	}
	for code, severity := range want {
		if got[code] != severity {
			t.Errorf("%s: severity = %q, want %q", code, got[code], severity)
		}
	}
	if len(got) != len(want) {
		t.Errorf("finding count = %d, want %d", len(got), len(want))
	}
}

func TestAnalyzeCatalogFindingPath(t *testing.T) {
	reg := graphRegistry(t,
		chainRule("r1", "A", "B"),
		chainRule("r2", "B", "A"),
		chainRule("r3", "DOWN", "A"),
	)

	analysis := AnalyzeCatalog(reg)
	var down *CircularDependencyResult
	for i := range analysis.Findings {
		if analysis.Findings[i].CourseCode == "DOWN" {
			down = &analysis.Findings[i]
		}
	}
	if down == nil {
		t.Fatal("no finding for DOWN")
	}

	// Chain to the cycle, then around it and back to the entry point.
	if got := strings.Join(down.Path, ">"); got != "DOWN>A>B>A" {
		t.Errorf("path = %q, want %q", got, "DOWN>A>B>A")
	}
}

func TestAnalyzeCatalogOrBranchContributesEdges(t *testing.T) {
	// The cycle runs through one branch of an OR rule; the other branch
	// offering a way out does not excuse the defect.
	root := &catalog.PrerequisiteRule{
		ID:         "root",
		CourseCode: "A",
		Operator:   catalog.OpOr,
		Active:     true,
		Requirements: []catalog.PrerequisiteRequirement{
			courseReq("root-ra", "B", ""),
			courseReq("root-rb", "SAFE", ""),
		},
	}
	reg := graphRegistry(t, root, chainRule("r2", "B", "A"))

	analysis := AnalyzeCatalog(reg)
	if !analysis.HasCritical() {
		t.Fatal("cycle through an OR branch should still be critical")
	}
}

func TestCycleCheckerRunCheckFlagsRegistry(t *testing.T) {
	reg := graphRegistry(t,
		chainRule("r1", "CS201", "CS301"),
		chainRule("r2", "CS301", "CS201"),
	)
	cycles := &memCycleStore{}
	checker := NewCycleChecker(reg, cycles)

	analysis, err := checker.RunCheck(context.Background())
	if err != nil {
		t.Fatalf("run check: %v", err)
	}
	if !analysis.HasCritical() {
		t.Fatal("expected critical findings")
	}
	if !reg.HasUnresolvedCriticalCycle("CS201") {
		t.Error("registry should flag CS201")
	}

	findings, err := cycles.ListFindings(context.Background(), false)
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 persisted findings, got %d", len(findings))
	}

	// Resolving one finding clears only that course's flag.
	if _, err := checker.Resolve(context.Background(), findings[0].ID, "registrar-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if reg.HasUnresolvedCriticalCycle(findings[0].CourseCode) {
		t.Errorf("%s should be cleared after resolve", findings[0].CourseCode)
	}
	if !reg.HasUnresolvedCriticalCycle(findings[1].CourseCode) {
		t.Errorf("%s should remain flagged", findings[1].CourseCode)
	}
}
