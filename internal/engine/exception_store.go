package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"registrar-backend/internal/store"
)

// ExceptionStore abstracts all persistence for overrides and waivers.
type ExceptionStore interface {
	CreateOverride(ctx context.Context, o *PrerequisiteOverride) error
	GetOverride(ctx context.Context, id string) (*PrerequisiteOverride, error)
	SaveOverride(ctx context.Context, o *PrerequisiteOverride) error
	AppendAudit(ctx context.Context, e *OverrideAuditEntry) error
	ListOverrides(ctx context.Context, studentID, courseCode string) ([]*PrerequisiteOverride, error)
	FindExpiredOverrides(ctx context.Context, now time.Time) ([]*PrerequisiteOverride, error)

	CreateWaiver(ctx context.Context, w *PrerequisiteWaiver) error
	GetWaiver(ctx context.Context, id string) (*PrerequisiteWaiver, error)
	SaveWaiver(ctx context.Context, w *PrerequisiteWaiver) error
	ListWaivers(ctx context.Context, studentID, courseCode string) ([]*PrerequisiteWaiver, error)
}

// SQLExceptionStore implements ExceptionStore against the engine tables.
// UUIDs are generated in application code so both backends behave the same.
type SQLExceptionStore struct {
	Store *store.Store
}

func NewSQLExceptionStore(s *store.Store) *SQLExceptionStore {
	return &SQLExceptionStore{Store: s}
}

func (s *SQLExceptionStore) CreateOverride(ctx context.Context, o *PrerequisiteOverride) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	o.ID = store.GenerateUUID()
	pb := s.Store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, tx,
		fmt.Sprintf(`INSERT INTO prerequisite_overrides
		 (id, student_id, course_code, term, status, is_active, expiration_date, reason, requested_by, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(o.ID), pb.Add(o.StudentID), pb.Add(o.CourseCode), pb.Add(nilIfEmpty(o.Term)),
			pb.Add(string(o.Status)), pb.Add(o.IsActive), pb.Add(o.ExpirationDate),
			pb.Add(o.Reason), pb.Add(o.RequestedBy), pb.Add(o.CreatedAt), pb.Add(o.UpdatedAt)),
		pb.Params()...)
	if err != nil {
		return store.MapError(s.Store.Dialect, err)
	}

	for i := range o.Steps {
		step := &o.Steps[i]
		step.ID = store.GenerateUUID()
		step.OverrideID = o.ID
		spb := s.Store.Dialect.NewParamBuilder()
		_, err = store.Exec(ctx, tx,
			fmt.Sprintf(`INSERT INTO override_approval_steps
			 (id, override_id, sequence, required_authority, status, can_delegate, delegated_to)
			 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
				spb.Add(step.ID), spb.Add(o.ID), spb.Add(step.Sequence), spb.Add(step.RequiredAuthority),
				spb.Add(string(step.Status)), spb.Add(step.CanDelegate), spb.Add(nilIfEmpty(step.DelegatedTo))),
			spb.Params()...)
		if err != nil {
			return store.MapError(s.Store.Dialect, err)
		}
	}

	for i := range o.Mappings {
		m := &o.Mappings[i]
		m.ID = store.GenerateUUID()
		mpb := s.Store.Dialect.NewParamBuilder()
		_, err = store.Exec(ctx, tx,
			fmt.Sprintf(`INSERT INTO override_rule_mappings (id, override_id, rule_id, requirement_id)
			 VALUES (%s, %s, %s, %s)`,
				mpb.Add(m.ID), mpb.Add(o.ID), mpb.Add(nilIfEmpty(m.RuleID)), mpb.Add(nilIfEmpty(m.RequirementID))),
			mpb.Params()...)
		if err != nil {
			return store.MapError(s.Store.Dialect, err)
		}
	}

	return tx.Commit()
}

func (s *SQLExceptionStore) GetOverride(ctx context.Context, id string) (*PrerequisiteOverride, error) {
	row, err := store.QueryRow(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, student_id, course_code, term, status, is_active, expiration_date, reason, requested_by, created_at, updated_at
		 FROM prerequisite_overrides WHERE id = %s`, s.Store.Dialect.Placeholder(1)), id)
	if err != nil {
		return nil, NotFoundError("override", id)
	}

	o := parseOverrideRow(row)
	if err := s.loadOverrideChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLExceptionStore) SaveOverride(ctx context.Context, o *PrerequisiteOverride) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := s.Store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, tx,
		fmt.Sprintf(`UPDATE prerequisite_overrides
		 SET status = %s, is_active = %s, updated_at = %s WHERE id = %s`,
			pb.Add(string(o.Status)), pb.Add(o.IsActive), pb.Add(o.UpdatedAt), pb.Add(o.ID)),
		pb.Params()...)
	if err != nil {
		return store.MapError(s.Store.Dialect, err)
	}

	for i := range o.Steps {
		step := &o.Steps[i]
		spb := s.Store.Dialect.NewParamBuilder()
		_, err = store.Exec(ctx, tx,
			fmt.Sprintf(`UPDATE override_approval_steps
			 SET status = %s, delegated_to = %s, acted_by = %s, acted_at = %s, note = %s
			 WHERE id = %s`,
				spb.Add(string(step.Status)), spb.Add(nilIfEmpty(step.DelegatedTo)),
				spb.Add(nilIfEmpty(step.ActedBy)), spb.Add(step.ActedAt), spb.Add(nilIfEmpty(step.Note)),
				spb.Add(step.ID)),
			spb.Params()...)
		if err != nil {
			return store.MapError(s.Store.Dialect, err)
		}
	}

	return tx.Commit()
}

func (s *SQLExceptionStore) AppendAudit(ctx context.Context, e *OverrideAuditEntry) error {
	e.ID = store.GenerateUUID()
	pb := s.Store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, s.Store.DB,
		fmt.Sprintf(`INSERT INTO override_audit_entries
		 (id, override_id, action, actor, old_status, new_status, note, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(e.ID), pb.Add(e.OverrideID), pb.Add(e.Action), pb.Add(e.Actor),
			pb.Add(e.OldStatus), pb.Add(e.NewStatus), pb.Add(nilIfEmpty(e.Note)), pb.Add(e.CreatedAt)),
		pb.Params()...)
	if err != nil {
		return store.MapError(s.Store.Dialect, err)
	}
	return nil
}

func (s *SQLExceptionStore) ListOverrides(ctx context.Context, studentID, courseCode string) ([]*PrerequisiteOverride, error) {
	pb := s.Store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, student_id, course_code, term, status, is_active, expiration_date, reason, requested_by, created_at, updated_at
		 FROM prerequisite_overrides WHERE student_id = %s AND course_code = %s
		 ORDER BY created_at DESC`, pb.Add(studentID), pb.Add(courseCode)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return s.hydrateOverrides(ctx, rows)
}

func (s *SQLExceptionStore) FindExpiredOverrides(ctx context.Context, now time.Time) ([]*PrerequisiteOverride, error) {
	pb := s.Store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, student_id, course_code, term, status, is_active, expiration_date, reason, requested_by, created_at, updated_at
		 FROM prerequisite_overrides
		 WHERE status = 'approved' AND expiration_date IS NOT NULL AND expiration_date < %s`,
			pb.Add(now)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return s.hydrateOverrides(ctx, rows)
}

func (s *SQLExceptionStore) hydrateOverrides(ctx context.Context, rows []map[string]any) ([]*PrerequisiteOverride, error) {
	store.NormalizeBooleans(rows, []string{"is_active"})
	var out []*PrerequisiteOverride
	for _, row := range rows {
		o := parseOverrideRow(row)
		if err := s.loadOverrideChildren(ctx, o); err != nil {
			log.Printf("WARN: skipping override %s: %v", o.ID, err)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *SQLExceptionStore) loadOverrideChildren(ctx context.Context, o *PrerequisiteOverride) error {
	ph := s.Store.Dialect.Placeholder(1)

	stepRows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, override_id, sequence, required_authority, status, can_delegate, delegated_to, acted_by, acted_at, note
		 FROM override_approval_steps WHERE override_id = %s ORDER BY sequence`, ph), o.ID)
	if err != nil {
		return err
	}
	store.NormalizeBooleans(stepRows, []string{"can_delegate"})
	o.Steps = nil
	for _, row := range stepRows {
		o.Steps = append(o.Steps, OverrideApprovalStep{
			ID:                rowString(row["id"]),
			OverrideID:        rowString(row["override_id"]),
			Sequence:          rowInt(row["sequence"]),
			RequiredAuthority: rowString(row["required_authority"]),
			Status:            StepStatus(rowString(row["status"])),
			CanDelegate:       rowBool(row["can_delegate"]),
			DelegatedTo:       rowString(row["delegated_to"]),
			ActedBy:           rowString(row["acted_by"]),
			ActedAt:           rowTimePtr(row["acted_at"]),
			Note:              rowString(row["note"]),
		})
	}

	mapRows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, rule_id, requirement_id FROM override_rule_mappings WHERE override_id = %s`, ph), o.ID)
	if err != nil {
		return err
	}
	o.Mappings = nil
	for _, row := range mapRows {
		o.Mappings = append(o.Mappings, ExceptionMapping{
			ID:            rowString(row["id"]),
			RuleID:        rowString(row["rule_id"]),
			RequirementID: rowString(row["requirement_id"]),
		})
	}

	auditRows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, override_id, action, actor, old_status, new_status, note, created_at
		 FROM override_audit_entries WHERE override_id = %s ORDER BY created_at, id`, ph), o.ID)
	if err != nil {
		return err
	}
	o.Audit = nil
	for _, row := range auditRows {
		o.Audit = append(o.Audit, OverrideAuditEntry{
			ID:         rowString(row["id"]),
			OverrideID: rowString(row["override_id"]),
			Action:     rowString(row["action"]),
			Actor:      rowString(row["actor"]),
			OldStatus:  rowString(row["old_status"]),
			NewStatus:  rowString(row["new_status"]),
			Note:       rowString(row["note"]),
			CreatedAt:  rowTime(row["created_at"]),
		})
	}
	return nil
}

func (s *SQLExceptionStore) CreateWaiver(ctx context.Context, w *PrerequisiteWaiver) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	w.ID = store.GenerateUUID()
	pb := s.Store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, tx,
		fmt.Sprintf(`INSERT INTO prerequisite_waivers
		 (id, student_id, course_code, term, status, is_active, is_permanent, student_acknowledged, expiration_date, reason, requested_by, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(w.ID), pb.Add(w.StudentID), pb.Add(w.CourseCode), pb.Add(nilIfEmpty(w.Term)),
			pb.Add(string(w.Status)), pb.Add(w.IsActive), pb.Add(w.IsPermanent), pb.Add(w.StudentAcknowledged),
			pb.Add(w.ExpirationDate), pb.Add(w.Reason), pb.Add(w.RequestedBy), pb.Add(w.CreatedAt), pb.Add(w.UpdatedAt)),
		pb.Params()...)
	if err != nil {
		return store.MapError(s.Store.Dialect, err)
	}

	for i := range w.Mappings {
		m := &w.Mappings[i]
		m.ID = store.GenerateUUID()
		mpb := s.Store.Dialect.NewParamBuilder()
		_, err = store.Exec(ctx, tx,
			fmt.Sprintf(`INSERT INTO waiver_rule_mappings (id, waiver_id, rule_id, requirement_id)
			 VALUES (%s, %s, %s, %s)`,
				mpb.Add(m.ID), mpb.Add(w.ID), mpb.Add(nilIfEmpty(m.RuleID)), mpb.Add(nilIfEmpty(m.RequirementID))),
			mpb.Params()...)
		if err != nil {
			return store.MapError(s.Store.Dialect, err)
		}
	}

	return tx.Commit()
}

func (s *SQLExceptionStore) GetWaiver(ctx context.Context, id string) (*PrerequisiteWaiver, error) {
	row, err := store.QueryRow(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, student_id, course_code, term, status, is_active, is_permanent, student_acknowledged, expiration_date, reason, requested_by, approved_by, approved_at, created_at, updated_at
		 FROM prerequisite_waivers WHERE id = %s`, s.Store.Dialect.Placeholder(1)), id)
	if err != nil {
		return nil, NotFoundError("waiver", id)
	}

	w := parseWaiverRow(row)
	if err := s.loadWaiverMappings(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *SQLExceptionStore) SaveWaiver(ctx context.Context, w *PrerequisiteWaiver) error {
	pb := s.Store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, s.Store.DB,
		fmt.Sprintf(`UPDATE prerequisite_waivers
		 SET status = %s, is_active = %s, student_acknowledged = %s, approved_by = %s, approved_at = %s, updated_at = %s
		 WHERE id = %s`,
			pb.Add(string(w.Status)), pb.Add(w.IsActive), pb.Add(w.StudentAcknowledged),
			pb.Add(nilIfEmpty(w.ApprovedBy)), pb.Add(w.ApprovedAt), pb.Add(w.UpdatedAt), pb.Add(w.ID)),
		pb.Params()...)
	if err != nil {
		return store.MapError(s.Store.Dialect, err)
	}
	return nil
}

func (s *SQLExceptionStore) ListWaivers(ctx context.Context, studentID, courseCode string) ([]*PrerequisiteWaiver, error) {
	pb := s.Store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, student_id, course_code, term, status, is_active, is_permanent, student_acknowledged, expiration_date, reason, requested_by, approved_by, approved_at, created_at, updated_at
		 FROM prerequisite_waivers WHERE student_id = %s AND course_code = %s
		 ORDER BY created_at DESC`, pb.Add(studentID), pb.Add(courseCode)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}

	store.NormalizeBooleans(rows, []string{"is_active", "is_permanent", "student_acknowledged"})
	var out []*PrerequisiteWaiver
	for _, row := range rows {
		w := parseWaiverRow(row)
		if err := s.loadWaiverMappings(ctx, w); err != nil {
			log.Printf("WARN: skipping waiver %s: %v", w.ID, err)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *SQLExceptionStore) loadWaiverMappings(ctx context.Context, w *PrerequisiteWaiver) error {
	mapRows, err := store.QueryRows(ctx, s.Store.DB,
		fmt.Sprintf(`SELECT id, rule_id, requirement_id FROM waiver_rule_mappings WHERE waiver_id = %s`,
			s.Store.Dialect.Placeholder(1)), w.ID)
	if err != nil {
		return err
	}
	w.Mappings = nil
	for _, row := range mapRows {
		w.Mappings = append(w.Mappings, ExceptionMapping{
			ID:            rowString(row["id"]),
			RuleID:        rowString(row["rule_id"]),
			RequirementID: rowString(row["requirement_id"]),
		})
	}
	return nil
}

func parseOverrideRow(row map[string]any) *PrerequisiteOverride {
	return &PrerequisiteOverride{
		ID:             rowString(row["id"]),
		StudentID:      rowString(row["student_id"]),
		CourseCode:     rowString(row["course_code"]),
		Term:           rowString(row["term"]),
		Status:         OverrideStatus(rowString(row["status"])),
		IsActive:       rowBool(row["is_active"]),
		ExpirationDate: rowTimePtr(row["expiration_date"]),
		Reason:         rowString(row["reason"]),
		RequestedBy:    rowString(row["requested_by"]),
		CreatedAt:      rowTime(row["created_at"]),
		UpdatedAt:      rowTime(row["updated_at"]),
	}
}

func parseWaiverRow(row map[string]any) *PrerequisiteWaiver {
	return &PrerequisiteWaiver{
		ID:                  rowString(row["id"]),
		StudentID:           rowString(row["student_id"]),
		CourseCode:          rowString(row["course_code"]),
		Term:                rowString(row["term"]),
		Status:              WaiverStatus(rowString(row["status"])),
		IsActive:            rowBool(row["is_active"]),
		IsPermanent:         rowBool(row["is_permanent"]),
		StudentAcknowledged: rowBool(row["student_acknowledged"]),
		ExpirationDate:      rowTimePtr(row["expiration_date"]),
		Reason:              rowString(row["reason"]),
		RequestedBy:         rowString(row["requested_by"]),
		ApprovedBy:          rowString(row["approved_by"]),
		ApprovedAt:          rowTimePtr(row["approved_at"]),
		CreatedAt:           rowTime(row["created_at"]),
		UpdatedAt:           rowTime(row["updated_at"]),
	}
}
