package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"registrar-backend/internal/store"
)

// ResultStore persists versioned validation results. Exactly one row per
// (student, course, term) is current; earlier versions are kept for history.
type ResultStore interface {
	// SaveResult demotes the current row and inserts the new one at the next
	// version. expectedVersion is the version the caller evaluated against
	// (0 when no result existed); a mismatch returns store.ErrVersionConflict
	// and the caller re-validates.
	SaveResult(ctx context.Context, result *ValidationResult, expectedVersion int) error
	GetCurrent(ctx context.Context, studentID, courseCode, term string) (*ValidationResult, error)
	History(ctx context.Context, studentID, courseCode, term string) ([]*ValidationResult, error)
}

// resultDetail is the JSON blob carrying everything beyond the indexed
// columns.
type resultDetail struct {
	Prerequisites      []PrerequisiteCheckResult `json:"prerequisites,omitempty"`
	Corequisites       []CorequisiteCheckResult  `json:"corequisites,omitempty"`
	Restrictions       []RestrictionCheckResult  `json:"restrictions,omitempty"`
	AppliedOverrides   []string                  `json:"applied_overrides,omitempty"`
	AppliedWaivers     []string                  `json:"applied_waivers,omitempty"`
	AutoAddCourses     []string                  `json:"auto_add_courses,omitempty"`
	ConfigurationNotes []string                  `json:"configuration_notes,omitempty"`
}

// SQLResultStore implements ResultStore against validation_results.
type SQLResultStore struct {
	Store *store.Store
}

func NewSQLResultStore(s *store.Store) *SQLResultStore {
	return &SQLResultStore{Store: s}
}

func (s *SQLResultStore) SaveResult(ctx context.Context, result *ValidationResult, expectedVersion int) error {
	detail, err := json.Marshal(resultDetail{
		Prerequisites:      result.Prerequisites,
		Corequisites:       result.Corequisites,
		Restrictions:       result.Restrictions,
		AppliedOverrides:   result.AppliedOverrides,
		AppliedWaivers:     result.AppliedWaivers,
		AutoAddCourses:     result.AutoAddCourses,
		ConfigurationNotes: result.ConfigurationNotes,
	})
	if err != nil {
		return fmt.Errorf("marshal result detail: %w", err)
	}

	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := s.Store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, tx,
		fmt.Sprintf(`SELECT version FROM validation_results
		 WHERE student_id = %s AND course_code = %s AND term = %s AND is_current = %s`,
			pb.Add(result.StudentID), pb.Add(result.CourseCode), pb.Add(result.Term), pb.Add(true)),
		pb.Params()...)

	currentVersion := 0
	if err == nil {
		currentVersion = rowInt(row["version"])
	}
	if currentVersion != expectedVersion {
		return store.ErrVersionConflict
	}

	if currentVersion > 0 {
		dpb := s.Store.Dialect.NewParamBuilder()
		_, err = store.Exec(ctx, tx,
			fmt.Sprintf(`UPDATE validation_results SET is_current = %s
			 WHERE student_id = %s AND course_code = %s AND term = %s AND is_current = %s`,
				dpb.Add(false), dpb.Add(result.StudentID), dpb.Add(result.CourseCode),
				dpb.Add(result.Term), dpb.Add(true)),
			dpb.Params()...)
		if err != nil {
			return store.MapError(s.Store.Dialect, err)
		}
	}

	result.ID = store.GenerateUUID()
	result.Version = currentVersion + 1
	result.IsCurrent = true

	ipb := s.Store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, tx,
		fmt.Sprintf(`INSERT INTO validation_results
		 (id, student_id, course_code, term, overall_status, detail, is_current, version, validated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			ipb.Add(result.ID), ipb.Add(result.StudentID), ipb.Add(result.CourseCode), ipb.Add(result.Term),
			ipb.Add(string(result.OverallStatus)), ipb.Add(string(detail)), ipb.Add(true),
			ipb.Add(result.Version), ipb.Add(result.ValidatedAt)),
		ipb.Params()...)
	if err != nil {
		// The partial unique index on current rows backstops two racing
		// inserts that both read the same version.
		mapped := store.MapError(s.Store.Dialect, err)
		if mapped == store.ErrUniqueViolation {
			return store.ErrVersionConflict
		}
		return mapped
	}

	return tx.Commit()
}

func (s *SQLResultStore) GetCurrent(ctx context.Context, studentID, courseCode, term string) (*ValidationResult, error) {
	pb := s.Store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, student_id, course_code, term, overall_status, detail, is_current, version, validated_at
		 FROM validation_results
		 WHERE student_id = %s AND course_code = %s AND term = %s AND is_current = %s`,
			pb.Add(studentID), pb.Add(courseCode), pb.Add(term), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return parseResultRow(row)
}

func (s *SQLResultStore) History(ctx context.Context, studentID, courseCode, term string) ([]*ValidationResult, error) {
	pb := s.Store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, student_id, course_code, term, overall_status, detail, is_current, version, validated_at
		 FROM validation_results
		 WHERE student_id = %s AND course_code = %s AND term = %s
		 ORDER BY version DESC`,
			pb.Add(studentID), pb.Add(courseCode), pb.Add(term)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}

	var out []*ValidationResult
	for _, row := range rows {
		result, err := parseResultRow(row)
		if err != nil {
			log.Printf("WARN: skipping validation result: %v", err)
			continue
		}
		out = append(out, result)
	}
	return out, nil
}

func parseResultRow(row map[string]any) (*ValidationResult, error) {
	result := &ValidationResult{
		ID:            rowString(row["id"]),
		StudentID:     rowString(row["student_id"]),
		CourseCode:    rowString(row["course_code"]),
		Term:          rowString(row["term"]),
		OverallStatus: OverallStatus(rowString(row["overall_status"])),
		IsCurrent:     rowBool(row["is_current"]),
		Version:       rowInt(row["version"]),
		ValidatedAt:   rowTime(row["validated_at"]),
	}

	var detail resultDetail
	raw := rowString(row["detail"])
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &detail); err != nil {
			return nil, fmt.Errorf("unmarshal result detail: %w", err)
		}
	}
	result.Prerequisites = detail.Prerequisites
	result.Corequisites = detail.Corequisites
	result.Restrictions = detail.Restrictions
	result.AppliedOverrides = detail.AppliedOverrides
	result.AppliedWaivers = detail.AppliedWaivers
	result.AutoAddCourses = detail.AutoAddCourses
	result.ConfigurationNotes = detail.ConfigurationNotes
	return result, nil
}
