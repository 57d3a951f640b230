package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
	"registrar-backend/internal/store"
)

// memExceptionStore is an in-memory ExceptionStore for workflow tests.
type memExceptionStore struct {
	overrides map[string]*PrerequisiteOverride
	waivers   map[string]*PrerequisiteWaiver
	audit     []OverrideAuditEntry
	seq       int
}

func newMemExceptionStore() *memExceptionStore {
	return &memExceptionStore{
		overrides: make(map[string]*PrerequisiteOverride),
		waivers:   make(map[string]*PrerequisiteWaiver),
	}
}

func (m *memExceptionStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memExceptionStore) CreateOverride(ctx context.Context, o *PrerequisiteOverride) error {
	o.ID = m.nextID("ov")
	for i := range o.Steps {
		o.Steps[i].ID = m.nextID("step")
		o.Steps[i].OverrideID = o.ID
	}
	for i := range o.Mappings {
		o.Mappings[i].ID = m.nextID("map")
	}
	m.overrides[o.ID] = o
	return nil
}

func (m *memExceptionStore) GetOverride(ctx context.Context, id string) (*PrerequisiteOverride, error) {
	o, ok := m.overrides[id]
	if !ok {
		return nil, NotFoundError("override", id)
	}
	return o, nil
}

func (m *memExceptionStore) SaveOverride(ctx context.Context, o *PrerequisiteOverride) error {
	m.overrides[o.ID] = o
	return nil
}

func (m *memExceptionStore) AppendAudit(ctx context.Context, e *OverrideAuditEntry) error {
	e.ID = m.nextID("audit")
	m.audit = append(m.audit, *e)
	return nil
}

func (m *memExceptionStore) ListOverrides(ctx context.Context, studentID, courseCode string) ([]*PrerequisiteOverride, error) {
	var out []*PrerequisiteOverride
	for _, o := range m.overrides {
		if o.StudentID == studentID && o.CourseCode == courseCode {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memExceptionStore) FindExpiredOverrides(ctx context.Context, now time.Time) ([]*PrerequisiteOverride, error) {
	var out []*PrerequisiteOverride
	for _, o := range m.overrides {
		if o.Status == OverrideApproved && o.ExpirationDate != nil && o.ExpirationDate.Before(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memExceptionStore) CreateWaiver(ctx context.Context, w *PrerequisiteWaiver) error {
	w.ID = m.nextID("wv")
	for i := range w.Mappings {
		w.Mappings[i].ID = m.nextID("map")
	}
	m.waivers[w.ID] = w
	return nil
}

func (m *memExceptionStore) GetWaiver(ctx context.Context, id string) (*PrerequisiteWaiver, error) {
	w, ok := m.waivers[id]
	if !ok {
		return nil, NotFoundError("waiver", id)
	}
	return w, nil
}

func (m *memExceptionStore) SaveWaiver(ctx context.Context, w *PrerequisiteWaiver) error {
	m.waivers[w.ID] = w
	return nil
}

func (m *memExceptionStore) ListWaivers(ctx context.Context, studentID, courseCode string) ([]*PrerequisiteWaiver, error) {
	var out []*PrerequisiteWaiver
	for _, w := range m.waivers {
		if w.StudentID == studentID && w.CourseCode == courseCode {
			out = append(out, w)
		}
	}
	return out, nil
}

// memResultStore is an in-memory ResultStore with the same versioning
// semantics as the SQL implementation.
type memResultStore struct {
	rows []*ValidationResult
	seq  int
}

func (m *memResultStore) key(r *ValidationResult) string {
	return r.StudentID + "/" + r.CourseCode + "/" + r.Term
}

func (m *memResultStore) SaveResult(ctx context.Context, result *ValidationResult, expectedVersion int) error {
	currentVersion := 0
	var current *ValidationResult
	for _, row := range m.rows {
		if m.key(row) == m.key(result) && row.IsCurrent {
			current = row
			currentVersion = row.Version
		}
	}
	if currentVersion != expectedVersion {
		return store.ErrVersionConflict
	}
	if current != nil {
		current.IsCurrent = false
	}

	m.seq++
	result.ID = fmt.Sprintf("res-%d", m.seq)
	result.Version = currentVersion + 1
	result.IsCurrent = true
	saved := *result
	m.rows = append(m.rows, &saved)
	return nil
}

func (m *memResultStore) GetCurrent(ctx context.Context, studentID, courseCode, term string) (*ValidationResult, error) {
	for _, row := range m.rows {
		if row.StudentID == studentID && row.CourseCode == courseCode && row.Term == term && row.IsCurrent {
			return row, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memResultStore) History(ctx context.Context, studentID, courseCode, term string) ([]*ValidationResult, error) {
	var out []*ValidationResult
	for _, row := range m.rows {
		if row.StudentID == studentID && row.CourseCode == courseCode && row.Term == term {
			out = append(out, row)
		}
	}
	return out, nil
}

// memCycleStore is an in-memory CycleStore for checker tests.
type memCycleStore struct {
	findings []CircularDependencyResult
	seq      int
}

func (m *memCycleStore) ReplaceUnresolved(ctx context.Context, findings []CircularDependencyResult) error {
	var kept []CircularDependencyResult
	for _, f := range m.findings {
		if f.IsResolved {
			kept = append(kept, f)
		}
	}
	for _, f := range findings {
		m.seq++
		f.ID = fmt.Sprintf("cyc-%d", m.seq)
		kept = append(kept, f)
	}
	m.findings = kept
	return nil
}

func (m *memCycleStore) ListFindings(ctx context.Context, includeResolved bool) ([]CircularDependencyResult, error) {
	var out []CircularDependencyResult
	for _, f := range m.findings {
		if includeResolved || !f.IsResolved {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memCycleStore) ResolveFinding(ctx context.Context, id, actor string) (*CircularDependencyResult, error) {
	for i := range m.findings {
		if m.findings[i].ID == id {
			now := time.Now().UTC()
			m.findings[i].IsResolved = true
			m.findings[i].ResolvedAt = &now
			m.findings[i].ResolvedBy = actor
			return &m.findings[i], nil
		}
	}
	return nil, NotFoundError("finding", id)
}

func (m *memCycleStore) UnresolvedCriticalCourses(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, f := range m.findings {
		if !f.IsResolved && f.Severity == SeverityCritical {
			out[f.CourseCode] = true
		}
	}
	return out, nil
}

// --- catalog builders ---

func testCourse(code string) *catalog.Course {
	return &catalog.Course{Code: code, Title: code, Active: true}
}

func courseReq(id, target, minGrade string) catalog.PrerequisiteRequirement {
	return catalog.PrerequisiteRequirement{
		ID:                 id,
		Kind:               catalog.KindCompletedCourse,
		IsRequired:         true,
		MustBeCompleted:    true,
		Active:             true,
		RequiredCourseCode: target,
		MinimumGrade:       minGrade,
	}
}

func loadRegistry(t interface{ Fatalf(string, ...any) },
	courses []*catalog.Course,
	rules []*catalog.PrerequisiteRule,
	coreqs []*catalog.CorequisiteRule,
	restrictions []*catalog.EnrollmentRestriction,
) *catalog.Registry {
	reg := catalog.NewRegistry()
	if err := reg.Load(courses, rules, coreqs, restrictions); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func transcriptEntry(code, grade string, hours string) academics.CompletedCourse {
	return academics.CompletedCourse{
		CourseCode:  code,
		Grade:       grade,
		CreditHours: dec(hours),
		Completed:   true,
	}
}
