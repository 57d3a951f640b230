package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"registrar-backend/internal/instrument"
)

// OverrideStatus is the overall state of an override's approval workflow.
// While Status is "requested" the instance is pending at CurrentStep().
type OverrideStatus string

const (
	OverrideRequested OverrideStatus = "requested"
	OverrideApproved  OverrideStatus = "approved"
	OverrideDenied    OverrideStatus = "denied"
	OverrideExpired   OverrideStatus = "expired"
	OverrideRevoked   OverrideStatus = "revoked"
)

// StepStatus is the state of one approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepDenied   StepStatus = "denied"
)

// OverrideApprovalStep is one entry in the sequential approval chain.
// Delegation changes who may act, never the required authority level.
type OverrideApprovalStep struct {
	ID                string     `json:"id"`
	OverrideID        string     `json:"override_id"`
	Sequence          int        `json:"sequence"`
	RequiredAuthority string     `json:"required_authority"` // advisor, chair, registrar, ...
	Status            StepStatus `json:"status"`
	CanDelegate       bool       `json:"can_delegate"`
	DelegatedTo       string     `json:"delegated_to,omitempty"`
	ActedBy           string     `json:"acted_by,omitempty"`
	ActedAt           *time.Time `json:"acted_at,omitempty"`
	Note              string     `json:"note,omitempty"`
}

// ExceptionMapping names the specific rule, requirement, or restriction an
// override or waiver neutralizes. Exactly one of RuleID/RequirementID is set.
type ExceptionMapping struct {
	ID            string `json:"id"`
	RuleID        string `json:"rule_id,omitempty"`
	RequirementID string `json:"requirement_id,omitempty"`
}

// OverrideAuditEntry is one immutable record of a workflow transition. The
// trail is append-only; entries are never edited or removed.
type OverrideAuditEntry struct {
	ID         string    `json:"id"`
	OverrideID string    `json:"override_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PrerequisiteOverride is an administratively approved exception scoped to
// one student and course, optionally one term.
type PrerequisiteOverride struct {
	ID             string                 `json:"id"`
	StudentID      string                 `json:"student_id"`
	CourseCode     string                 `json:"course_code"`
	Term           string                 `json:"term,omitempty"` // empty = any term
	Status         OverrideStatus         `json:"status"`
	IsActive       bool                   `json:"is_active"`
	ExpirationDate *time.Time             `json:"expiration_date,omitempty"`
	Reason         string                 `json:"reason"`
	RequestedBy    string                 `json:"requested_by"`
	Steps          []OverrideApprovalStep `json:"steps"`
	Mappings       []ExceptionMapping     `json:"mappings"`
	Audit          []OverrideAuditEntry   `json:"audit"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// CurrentStep returns the step awaiting resolution, or nil when the workflow
// has concluded.
func (o *PrerequisiteOverride) CurrentStep() *OverrideApprovalStep {
	if o.Status != OverrideRequested {
		return nil
	}
	for i := range o.Steps {
		if o.Steps[i].Status == StepPending {
			return &o.Steps[i]
		}
	}
	return nil
}

// EffectiveAt reports whether the override is consulted during validation:
// approved, active, and not past its expiration date.
func (o *PrerequisiteOverride) EffectiveAt(now time.Time) bool {
	if o.Status != OverrideApproved || !o.IsActive {
		return false
	}
	if o.ExpirationDate != nil && !now.Before(*o.ExpirationDate) {
		return false
	}
	return true
}

// MatchesTerm reports whether the override applies in the given term.
func (o *PrerequisiteOverride) MatchesTerm(term string) bool {
	return o.Term == "" || o.Term == term
}

// WaiverStatus is the state of a waiver's single-approval lifecycle.
type WaiverStatus string

const (
	WaiverPending  WaiverStatus = "pending"
	WaiverApproved WaiverStatus = "approved"
	WaiverDenied   WaiverStatus = "denied"
	WaiverExpired  WaiverStatus = "expired"
)

// PrerequisiteWaiver is the simpler exception: one approval, student
// acknowledgment required, optionally permanent.
type PrerequisiteWaiver struct {
	ID                  string             `json:"id"`
	StudentID           string             `json:"student_id"`
	CourseCode          string             `json:"course_code"`
	Term                string             `json:"term,omitempty"`
	Status              WaiverStatus       `json:"status"`
	IsActive            bool               `json:"is_active"`
	IsPermanent         bool               `json:"is_permanent"`
	StudentAcknowledged bool               `json:"student_acknowledged"`
	ExpirationDate      *time.Time         `json:"expiration_date,omitempty"`
	Reason              string             `json:"reason"`
	RequestedBy         string             `json:"requested_by"`
	ApprovedBy          string             `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time         `json:"approved_at,omitempty"`
	Mappings            []ExceptionMapping `json:"mappings"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// EffectiveAt reports whether the waiver is consulted during validation.
// A waiver additionally requires student acknowledgment before taking effect.
func (w *PrerequisiteWaiver) EffectiveAt(now time.Time) bool {
	if w.Status != WaiverApproved || !w.IsActive || !w.StudentAcknowledged {
		return false
	}
	if w.IsPermanent {
		return true
	}
	if w.ExpirationDate != nil && !now.Before(*w.ExpirationDate) {
		return false
	}
	return true
}

// MatchesTerm reports whether the waiver applies in the given term.
func (w *PrerequisiteWaiver) MatchesTerm(term string) bool {
	return w.Term == "" || w.Term == term
}

// FoldAudit derives the current override status by replaying the audit trail
// in order. An empty trail folds to "requested".
func FoldAudit(entries []OverrideAuditEntry) string {
	status := string(OverrideRequested)
	for _, e := range entries {
		if e.NewStatus != "" {
			status = e.NewStatus
		}
	}
	return status
}

// ── Override workflow engine ──

// StepSpec describes one approval step when requesting an override.
type StepSpec struct {
	Authority   string `json:"authority"`
	CanDelegate bool   `json:"can_delegate"`
}

// OverrideRequest carries everything needed to open an approval workflow.
type OverrideRequest struct {
	StudentID      string             `json:"student_id"`
	CourseCode     string             `json:"course_code"`
	Term           string             `json:"term,omitempty"`
	Reason         string             `json:"reason"`
	RequestedBy    string             `json:"requested_by"`
	ExpirationDate *time.Time         `json:"expiration_date,omitempty"`
	Steps          []StepSpec         `json:"steps"`
	Mappings       []ExceptionMapping `json:"mappings"`
}

// StepResolution is the outcome of a resolve attempt. AlreadyResolved marks
// the idempotent case where the step had been acted on concurrently.
type StepResolution struct {
	Override        *PrerequisiteOverride `json:"override"`
	AlreadyResolved bool                  `json:"already_resolved"`
}

// OverrideEngine drives the approval state machine for overrides and the
// single-approval lifecycle for waivers. All persistence goes through the
// injected ExceptionStore.
type OverrideEngine struct {
	exceptions ExceptionStore
	now        func() time.Time
}

// NewOverrideEngine creates an OverrideEngine with the given store.
func NewOverrideEngine(exceptions ExceptionStore) *OverrideEngine {
	return &OverrideEngine{
		exceptions: exceptions,
		now:        time.Now,
	}
}

// RequestOverride opens a new override workflow pending at its first step.
func (e *OverrideEngine) RequestOverride(ctx context.Context, req OverrideRequest) (*PrerequisiteOverride, error) {
	if len(req.Steps) == 0 {
		return nil, WorkflowViolationError("override requires at least one approval step")
	}
	if len(req.Mappings) == 0 {
		return nil, WorkflowViolationError("override must map to at least one rule or requirement")
	}

	now := e.now().UTC()
	o := &PrerequisiteOverride{
		StudentID:      req.StudentID,
		CourseCode:     req.CourseCode,
		Term:           req.Term,
		Status:         OverrideRequested,
		IsActive:       false,
		ExpirationDate: req.ExpirationDate,
		Reason:         req.Reason,
		RequestedBy:    req.RequestedBy,
		Mappings:       req.Mappings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, spec := range req.Steps {
		o.Steps = append(o.Steps, OverrideApprovalStep{
			Sequence:          i + 1,
			RequiredAuthority: spec.Authority,
			Status:            StepPending,
			CanDelegate:       spec.CanDelegate,
		})
	}

	if err := e.exceptions.CreateOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("create override: %w", err)
	}

	if err := e.appendAudit(ctx, o, "requested", req.RequestedBy, "", string(OverrideRequested), req.Reason); err != nil {
		return nil, err
	}
	return o, nil
}

// ResolveStep approves or denies one approval step. Steps resolve strictly in
// sequence; a step that is no longer pending yields an idempotent
// already-resolved response rather than an error.
func (e *OverrideEngine) ResolveStep(ctx context.Context, overrideID string, sequence int, actor, authority string, approve bool, note string) (*StepResolution, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "workflow", "override", "override.resolve_step")
	defer span.End()
	span.SetEntity("override", overrideID)

	o, err := e.exceptions.GetOverride(ctx, overrideID)
	if err != nil {
		span.SetStatus("error")
		return nil, err
	}

	var step *OverrideApprovalStep
	for i := range o.Steps {
		if o.Steps[i].Sequence == sequence {
			step = &o.Steps[i]
			break
		}
	}
	if step == nil {
		span.SetStatus("error")
		return nil, NotFoundError("approval step", fmt.Sprintf("%s/%d", overrideID, sequence))
	}

	if step.Status != StepPending {
		// Concurrent resolution: the step was already acted on.
		span.SetStatus("ok")
		span.SetMetadata("already_resolved", true)
		return &StepResolution{Override: o, AlreadyResolved: true}, nil
	}

	if o.Status != OverrideRequested {
		span.SetStatus("error")
		return nil, WorkflowViolationError(fmt.Sprintf("override is not awaiting approval (status: %s)", o.Status))
	}

	current := o.CurrentStep()
	if current == nil || current.Sequence != sequence {
		span.SetStatus("error")
		return nil, WorkflowViolationError(fmt.Sprintf("step %d cannot be resolved before earlier steps", sequence))
	}

	if authority != step.RequiredAuthority {
		span.SetStatus("error")
		return nil, WorkflowViolationError(fmt.Sprintf("step %d requires %s authority", sequence, step.RequiredAuthority))
	}
	if step.DelegatedTo != "" && actor != step.DelegatedTo {
		span.SetStatus("error")
		return nil, WorkflowViolationError(fmt.Sprintf("step %d is delegated to %s", sequence, step.DelegatedTo))
	}

	now := e.now().UTC()
	step.ActedBy = actor
	step.ActedAt = &now
	step.Note = note

	oldStatus := string(o.Status)
	action := "step_denied"
	if approve {
		step.Status = StepApproved
		action = "step_approved"
		if o.CurrentStep() == nil {
			// Final step approved: the override takes effect.
			o.Status = OverrideApproved
			o.IsActive = true
		}
	} else {
		step.Status = StepDenied
		o.Status = OverrideDenied
		o.IsActive = false
	}
	o.UpdatedAt = now

	if err := e.exceptions.SaveOverride(ctx, o); err != nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("save override: %w", err)
	}
	if err := e.appendAudit(ctx, o, action, actor, oldStatus, string(o.Status), note); err != nil {
		span.SetStatus("error")
		return nil, err
	}

	span.SetStatus("ok")
	return &StepResolution{Override: o}, nil
}

// DelegateStep assigns a pending step to a delegate. The required authority
// level is unchanged.
func (e *OverrideEngine) DelegateStep(ctx context.Context, overrideID string, sequence int, actor, delegate string) (*PrerequisiteOverride, error) {
	o, err := e.exceptions.GetOverride(ctx, overrideID)
	if err != nil {
		return nil, err
	}

	for i := range o.Steps {
		step := &o.Steps[i]
		if step.Sequence != sequence {
			continue
		}
		if step.Status != StepPending {
			return nil, WorkflowViolationError(fmt.Sprintf("step %d is already resolved", sequence))
		}
		if !step.CanDelegate {
			return nil, WorkflowViolationError(fmt.Sprintf("step %d does not allow delegation", sequence))
		}
		step.DelegatedTo = delegate
		o.UpdatedAt = e.now().UTC()

		if err := e.exceptions.SaveOverride(ctx, o); err != nil {
			return nil, fmt.Errorf("save override: %w", err)
		}
		if err := e.appendAudit(ctx, o, "step_delegated", actor, string(o.Status), string(o.Status),
			fmt.Sprintf("step %d delegated to %s", sequence, delegate)); err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, NotFoundError("approval step", fmt.Sprintf("%s/%d", overrideID, sequence))
}

// Revoke deactivates an override regardless of its workflow position.
func (e *OverrideEngine) Revoke(ctx context.Context, overrideID, actor, note string) (*PrerequisiteOverride, error) {
	o, err := e.exceptions.GetOverride(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if o.Status == OverrideRevoked {
		return o, nil
	}
	if o.Status == OverrideDenied || o.Status == OverrideExpired {
		return nil, WorkflowViolationError(fmt.Sprintf("override cannot be revoked (status: %s)", o.Status))
	}

	oldStatus := string(o.Status)
	o.Status = OverrideRevoked
	o.IsActive = false
	o.UpdatedAt = e.now().UTC()

	if err := e.exceptions.SaveOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("save override: %w", err)
	}
	if err := e.appendAudit(ctx, o, "revoked", actor, oldStatus, string(o.Status), note); err != nil {
		return nil, err
	}
	return o, nil
}

// ProcessExpirations marks approved overrides past their expiration date as
// expired. Run on a background schedule; expired overrides also stop taking
// effect immediately via EffectiveAt regardless of this sweep.
func (e *OverrideEngine) ProcessExpirations(ctx context.Context) {
	now := e.now().UTC()
	expired, err := e.exceptions.FindExpiredOverrides(ctx, now)
	if err != nil {
		log.Printf("ERROR: override expiration query failed: %v", err)
		return
	}

	for _, o := range expired {
		oldStatus := string(o.Status)
		o.Status = OverrideExpired
		o.IsActive = false
		o.UpdatedAt = now
		if err := e.exceptions.SaveOverride(ctx, o); err != nil {
			log.Printf("ERROR: expiring override %s: %v", o.ID, err)
			continue
		}
		if err := e.appendAudit(ctx, o, "expired", "system", oldStatus, string(o.Status), ""); err != nil {
			log.Printf("ERROR: audit for expired override %s: %v", o.ID, err)
		}
	}
}

// ── Waivers ──

// WaiverRequest carries everything needed to open a waiver.
type WaiverRequest struct {
	StudentID      string             `json:"student_id"`
	CourseCode     string             `json:"course_code"`
	Term           string             `json:"term,omitempty"`
	Reason         string             `json:"reason"`
	RequestedBy    string             `json:"requested_by"`
	IsPermanent    bool               `json:"is_permanent"`
	ExpirationDate *time.Time         `json:"expiration_date,omitempty"`
	Mappings       []ExceptionMapping `json:"mappings"`
}

// RequestWaiver opens a waiver pending its single approval.
func (e *OverrideEngine) RequestWaiver(ctx context.Context, req WaiverRequest) (*PrerequisiteWaiver, error) {
	if len(req.Mappings) == 0 {
		return nil, WorkflowViolationError("waiver must map to at least one rule or requirement")
	}

	now := e.now().UTC()
	w := &PrerequisiteWaiver{
		StudentID:      req.StudentID,
		CourseCode:     req.CourseCode,
		Term:           req.Term,
		Status:         WaiverPending,
		IsPermanent:    req.IsPermanent,
		ExpirationDate: req.ExpirationDate,
		Reason:         req.Reason,
		RequestedBy:    req.RequestedBy,
		Mappings:       req.Mappings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.exceptions.CreateWaiver(ctx, w); err != nil {
		return nil, fmt.Errorf("create waiver: %w", err)
	}
	return w, nil
}

// ResolveWaiver approves or denies a pending waiver. Resolving an already
// resolved waiver is idempotent when the outcome matches, a violation when
// it conflicts.
func (e *OverrideEngine) ResolveWaiver(ctx context.Context, waiverID, actor string, approve bool) (*PrerequisiteWaiver, error) {
	w, err := e.exceptions.GetWaiver(ctx, waiverID)
	if err != nil {
		return nil, err
	}

	if w.Status != WaiverPending {
		if (approve && w.Status == WaiverApproved) || (!approve && w.Status == WaiverDenied) {
			return w, nil
		}
		return nil, WorkflowViolationError(fmt.Sprintf("waiver is already resolved (status: %s)", w.Status))
	}

	now := e.now().UTC()
	if approve {
		w.Status = WaiverApproved
		w.IsActive = true
		w.ApprovedBy = actor
		w.ApprovedAt = &now
	} else {
		w.Status = WaiverDenied
		w.IsActive = false
	}
	w.UpdatedAt = now

	if err := e.exceptions.SaveWaiver(ctx, w); err != nil {
		return nil, fmt.Errorf("save waiver: %w", err)
	}
	return w, nil
}

// AcknowledgeWaiver records the student's acknowledgment. A waiver has no
// effect until acknowledged, even once approved.
func (e *OverrideEngine) AcknowledgeWaiver(ctx context.Context, waiverID, studentID string) (*PrerequisiteWaiver, error) {
	w, err := e.exceptions.GetWaiver(ctx, waiverID)
	if err != nil {
		return nil, err
	}
	if w.StudentID != studentID {
		return nil, WorkflowViolationError("waiver belongs to a different student")
	}
	if w.StudentAcknowledged {
		return w, nil
	}

	w.StudentAcknowledged = true
	w.UpdatedAt = e.now().UTC()
	if err := e.exceptions.SaveWaiver(ctx, w); err != nil {
		return nil, fmt.Errorf("save waiver: %w", err)
	}
	return w, nil
}

func (e *OverrideEngine) appendAudit(ctx context.Context, o *PrerequisiteOverride, action, actor, oldStatus, newStatus, note string) error {
	entry := OverrideAuditEntry{
		OverrideID: o.ID,
		Action:     action,
		Actor:      actor,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		Note:       note,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.exceptions.AppendAudit(ctx, &entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	o.Audit = append(o.Audit, entry)
	return nil
}
