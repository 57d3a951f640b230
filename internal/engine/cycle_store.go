package engine

import (
	"context"
	"fmt"
	"time"

	"registrar-backend/internal/store"
)

// CycleStore persists circular-dependency findings. Resolved findings stay
// on record; unresolved ones are replaced wholesale on each scan.
type CycleStore interface {
	ReplaceUnresolved(ctx context.Context, findings []CircularDependencyResult) error
	ListFindings(ctx context.Context, includeResolved bool) ([]CircularDependencyResult, error)
	ResolveFinding(ctx context.Context, id, actor string) (*CircularDependencyResult, error)
	UnresolvedCriticalCourses(ctx context.Context) (map[string]bool, error)
}

// SQLCycleStore implements CycleStore against circular_dependency_results.
type SQLCycleStore struct {
	Store *store.Store
}

func NewSQLCycleStore(s *store.Store) *SQLCycleStore {
	return &SQLCycleStore{Store: s}
}

func (s *SQLCycleStore) ReplaceUnresolved(ctx context.Context, findings []CircularDependencyResult) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := s.Store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, tx,
		fmt.Sprintf("DELETE FROM circular_dependency_results WHERE is_resolved = %s", pb.Add(false)),
		pb.Params()...)
	if err != nil {
		return store.MapError(s.Store.Dialect, err)
	}

	for i := range findings {
		f := &findings[i]
		f.ID = store.GenerateUUID()
		fpb := s.Store.Dialect.NewParamBuilder()
		_, err = store.Exec(ctx, tx,
			fmt.Sprintf(`INSERT INTO circular_dependency_results
			 (id, course_code, cycle_path, severity, is_resolved, detected_at)
			 VALUES (%s, %s, %s, %s, %s, %s)`,
				fpb.Add(f.ID), fpb.Add(f.CourseCode), fpb.Add(s.Store.Dialect.ArrayParam(f.Path)),
				fpb.Add(string(f.Severity)), fpb.Add(false), fpb.Add(f.DetectedAt)),
			fpb.Params()...)
		if err != nil {
			return store.MapError(s.Store.Dialect, err)
		}
	}

	return tx.Commit()
}

func (s *SQLCycleStore) ListFindings(ctx context.Context, includeResolved bool) ([]CircularDependencyResult, error) {
	sqlStr := `SELECT id, course_code, cycle_path, severity, is_resolved, detected_at, resolved_at, resolved_by
	 FROM circular_dependency_results`
	var args []any
	if !includeResolved {
		pb := s.Store.Dialect.NewParamBuilder()
		sqlStr += fmt.Sprintf(" WHERE is_resolved = %s", pb.Add(false))
		args = pb.Params()
	}
	sqlStr += " ORDER BY severity, course_code"

	rows, err := store.QueryRows(ctx, s.Store.DB, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans(rows, []string{"is_resolved"})

	var out []CircularDependencyResult
	for _, row := range rows {
		f, err := s.parseFindingRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

func (s *SQLCycleStore) ResolveFinding(ctx context.Context, id, actor string) (*CircularDependencyResult, error) {
	now := time.Now().UTC()
	pb := s.Store.Dialect.NewParamBuilder()
	affected, err := store.Exec(ctx, s.Store.DB,
		fmt.Sprintf(`UPDATE circular_dependency_results
		 SET is_resolved = %s, resolved_at = %s, resolved_by = %s
		 WHERE id = %s`,
			pb.Add(true), pb.Add(now), pb.Add(actor), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, store.MapError(s.Store.Dialect, err)
	}
	if affected == 0 {
		return nil, NotFoundError("finding", id)
	}

	row, err := store.QueryRow(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, course_code, cycle_path, severity, is_resolved, detected_at, resolved_at, resolved_by
		 FROM circular_dependency_results WHERE id = %s`, s.Store.Dialect.Placeholder(1)), id)
	if err != nil {
		return nil, NotFoundError("finding", id)
	}
	return s.parseFindingRow(row)
}

func (s *SQLCycleStore) UnresolvedCriticalCourses(ctx context.Context) (map[string]bool, error) {
	pb := s.Store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT course_code FROM circular_dependency_results
		 WHERE is_resolved = %s AND severity = %s`,
			pb.Add(false), pb.Add(string(SeverityCritical))),
		pb.Params()...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool)
	for _, row := range rows {
		out[rowString(row["course_code"])] = true
	}
	return out, nil
}

func (s *SQLCycleStore) parseFindingRow(row map[string]any) (*CircularDependencyResult, error) {
	path, err := s.Store.Dialect.ScanArray(row["cycle_path"])
	if err != nil {
		return nil, fmt.Errorf("scan cycle path: %w", err)
	}
	return &CircularDependencyResult{
		ID:         rowString(row["id"]),
		CourseCode: rowString(row["course_code"]),
		Path:       path,
		Severity:   CycleSeverity(rowString(row["severity"])),
		IsResolved: rowBool(row["is_resolved"]),
		DetectedAt: rowTime(row["detected_at"]),
		ResolvedAt: rowTimePtr(row["resolved_at"]),
		ResolvedBy: rowString(row["resolved_by"]),
	}, nil
}
