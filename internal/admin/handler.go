package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/catalog"
	"registrar-backend/internal/engine"
	"registrar-backend/internal/store"
)

// Handler serves catalog authoring and integrity endpoints. Every rule
// mutation reloads the registry and reruns the cycle scan so validation
// always sees a consistent catalog.
type Handler struct {
	store    *store.Store
	registry *catalog.Registry
	checker  *engine.CycleChecker
	cycles   engine.CycleStore
}

func NewHandler(s *store.Store, reg *catalog.Registry, checker *engine.CycleChecker, cycles engine.CycleStore) *Handler {
	return &Handler{store: s, registry: reg, checker: checker, cycles: cycles}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/courses", h.ListCourses)
	admin.Post("/courses", h.CreateCourse)
	admin.Put("/courses/:code", h.UpdateCourse)
	admin.Delete("/courses/:code", h.DeactivateCourse)

	admin.Get("/rules", h.ListRules)
	admin.Post("/rules", h.CreateRule)
	admin.Put("/rules/:id", h.UpdateRule)
	admin.Delete("/rules/:id", h.DeactivateRule)

	admin.Post("/corequisites", h.CreateCorequisiteRule)
	admin.Delete("/corequisites/:id", h.DeactivateCorequisiteRule)

	admin.Post("/restrictions", h.CreateRestriction)
	admin.Delete("/restrictions/:id", h.DeactivateRestriction)

	admin.Post("/catalog/reload", h.ReloadCatalog)
	admin.Post("/integrity/scan", h.RunIntegrityScan)
	admin.Get("/integrity/findings", h.ListFindings)
	admin.Post("/integrity/findings/:id/resolve", h.ResolveFinding)
}

// refresh reloads the registry and reruns the cycle scan after a mutation.
func (h *Handler) refresh(ctx context.Context) error {
	if err := catalog.Reload(ctx, h.store, h.registry); err != nil {
		return fmt.Errorf("reload catalog: %w", err)
	}
	if _, err := h.checker.RunCheck(ctx); err != nil {
		return fmt.Errorf("integrity scan: %w", err)
	}
	return nil
}

// --- Courses ---

func (h *Handler) ListCourses(c *fiber.Ctx) error {
	courses := h.registry.AllCourses()
	if courses == nil {
		courses = []*catalog.Course{}
	}
	return c.JSON(fiber.Map{"data": courses})
}

func (h *Handler) CreateCourse(c *fiber.Ctx) error {
	var course catalog.Course
	if err := c.BodyParser(&course); err != nil {
		return engine.NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if course.Code == "" || course.Title == "" {
		return engine.ValidationError([]engine.ErrorDetail{
			{Field: "code", Rule: "required", Message: "code and title are required"},
		})
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO courses (code, title, subject_area, credit_hours, active)
		 VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(course.Code), pb.Add(course.Title), pb.Add(course.SubjectArea),
			pb.Add(course.CreditHours), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		if store.MapError(h.store.Dialect, err) == store.ErrUniqueViolation {
			return engine.NewAppError("CONFLICT", 409, "Course already exists: "+course.Code)
		}
		return fmt.Errorf("insert course: %w", err)
	}

	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": course})
}

func (h *Handler) UpdateCourse(c *fiber.Ctx) error {
	code := c.Params("code")
	var course catalog.Course
	if err := c.BodyParser(&course); err != nil {
		return engine.NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}

	pb := h.store.Dialect.NewParamBuilder()
	affected, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE courses SET title = %s, subject_area = %s, credit_hours = %s, active = %s, updated_at = %s
		 WHERE code = %s`,
			pb.Add(course.Title), pb.Add(course.SubjectArea), pb.Add(course.CreditHours),
			pb.Add(course.Active), h.store.Dialect.NowExpr(), pb.Add(code)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if affected == 0 {
		return engine.NotFoundError("course", code)
	}

	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	course.Code = code
	return c.JSON(fiber.Map{"data": course})
}

func (h *Handler) DeactivateCourse(c *fiber.Ctx) error {
	return h.deactivate(c, "courses", "code", c.Params("code"))
}

// --- Prerequisite rules ---

func (h *Handler) ListRules(c *fiber.Ctx) error {
	courseCode := c.Query("course")
	if courseCode == "" {
		return engine.ValidationError([]engine.ErrorDetail{
			{Field: "course", Rule: "required", Message: "course query parameter is required"},
		})
	}
	rules := h.registry.RootRulesForCourse(courseCode)
	if rules == nil {
		rules = []*catalog.PrerequisiteRule{}
	}
	return c.JSON(fiber.Map{"data": rules})
}

func (h *Handler) CreateRule(c *fiber.Ctx) error {
	var rule catalog.PrerequisiteRule
	if err := c.BodyParser(&rule); err != nil {
		return engine.NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if err := validateRule(&rule); err != nil {
		return err
	}
	if h.registry.GetCourse(rule.CourseCode) == nil {
		return engine.UnknownCourseError(rule.CourseCode)
	}
	if rule.ParentRuleID != "" && h.registry.GetRule(rule.ParentRuleID) == nil {
		return engine.NotFoundError("rule", rule.ParentRuleID)
	}

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rule.ID = store.GenerateUUID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), tx,
		fmt.Sprintf(`INSERT INTO prerequisite_rules (id, course_code, parent_rule_id, logic_operator, priority, active)
		 VALUES (%s, %s, %s, %s, %s, %s)`,
			pb.Add(rule.ID), pb.Add(rule.CourseCode), pb.Add(nullable(rule.ParentRuleID)),
			pb.Add(string(rule.Operator)), pb.Add(rule.Priority), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	for i := range rule.Requirements {
		if err := h.insertRequirement(c.Context(), tx, rule.ID, &rule.Requirements[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rule: %w", err)
	}

	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	log.Printf("Created prerequisite rule %s for %s", rule.ID, rule.CourseCode)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": h.registry.GetRule(rule.ID)})
}

func (h *Handler) insertRequirement(ctx context.Context, q store.Querier, ruleID string, req *catalog.PrerequisiteRequirement) error {
	req.ID = store.GenerateUUID()
	req.RuleID = ruleID
	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, q,
		fmt.Sprintf(`INSERT INTO prerequisite_requirements
		 (id, rule_id, kind, is_required, sequence_order, must_be_completed,
		  required_course_code, minimum_grade, subject_area, minimum_credit_hours,
		  gpa_scope, minimum_gpa, minimum_standing, permission_code,
		  test_name, minimum_score, expression, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(req.ID), pb.Add(ruleID), pb.Add(string(req.Kind)), pb.Add(req.IsRequired),
			pb.Add(req.SequenceOrder), pb.Add(req.MustBeCompleted),
			pb.Add(nullable(req.RequiredCourseCode)), pb.Add(nullable(req.MinimumGrade)),
			pb.Add(nullable(req.SubjectArea)), pb.Add(req.MinimumCreditHours),
			pb.Add(nullable(string(req.GPAScope))), pb.Add(req.MinimumGPA),
			pb.Add(standingParam(req.MinimumStanding)), pb.Add(nullable(req.PermissionCode)),
			pb.Add(nullable(req.TestName)), pb.Add(req.MinimumScore),
			pb.Add(nullable(req.Expression)), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("insert requirement: %w", err)
	}
	return nil
}

func (h *Handler) UpdateRule(c *fiber.Ctx) error {
	id := c.Params("id")
	var rule catalog.PrerequisiteRule
	if err := c.BodyParser(&rule); err != nil {
		return engine.NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if h.registry.GetRule(id) == nil {
		return engine.NotFoundError("rule", id)
	}
	if err := validateRule(&rule); err != nil {
		return err
	}

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), tx,
		fmt.Sprintf(`UPDATE prerequisite_rules
		 SET logic_operator = %s, priority = %s, active = %s, updated_at = %s WHERE id = %s`,
			pb.Add(string(rule.Operator)), pb.Add(rule.Priority), pb.Add(rule.Active),
			h.store.Dialect.NowExpr(), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}

	// Requirements, when present, replace the existing set.
	if len(rule.Requirements) > 0 {
		dpb := h.store.Dialect.NewParamBuilder()
		_, err = store.Exec(c.Context(), tx,
			fmt.Sprintf("DELETE FROM prerequisite_requirements WHERE rule_id = %s", dpb.Add(id)),
			dpb.Params()...)
		if err != nil {
			return fmt.Errorf("replace requirements: %w", err)
		}
		for i := range rule.Requirements {
			if err := h.insertRequirement(c.Context(), tx, id, &rule.Requirements[i]); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rule update: %w", err)
	}

	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.registry.GetRule(id)})
}

func (h *Handler) DeactivateRule(c *fiber.Ctx) error {
	id := c.Params("id")
	if h.registry.GetRule(id) == nil {
		return engine.NotFoundError("rule", id)
	}
	return h.deactivate(c, "prerequisite_rules", "id", id)
}

// --- Corequisite rules ---

func (h *Handler) CreateCorequisiteRule(c *fiber.Ctx) error {
	var rule catalog.CorequisiteRule
	if err := c.BodyParser(&rule); err != nil {
		return engine.NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if rule.CourseCode == "" || len(rule.Requirements) == 0 {
		return engine.ValidationError([]engine.ErrorDetail{
			{Field: "course_code", Rule: "required", Message: "course_code and at least one requirement are required"},
		})
	}
	if h.registry.GetCourse(rule.CourseCode) == nil {
		return engine.UnknownCourseError(rule.CourseCode)
	}
	if rule.Operator == "" {
		rule.Operator = catalog.OpAnd
	}

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rule.ID = store.GenerateUUID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), tx,
		fmt.Sprintf(`INSERT INTO corequisite_rules (id, course_code, logic_operator, priority, active)
		 VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(rule.ID), pb.Add(rule.CourseCode), pb.Add(string(rule.Operator)),
			pb.Add(rule.Priority), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("insert corequisite rule: %w", err)
	}

	for i := range rule.Requirements {
		req := &rule.Requirements[i]
		req.ID = store.GenerateUUID()
		req.RuleID = rule.ID
		if req.Relationship == "" {
			req.Relationship = catalog.ConcurrentRequired
		}
		if req.OnFailure == "" {
			req.OnFailure = catalog.ActionBlock
		}
		rpb := h.store.Dialect.NewParamBuilder()
		_, err = store.Exec(c.Context(), tx,
			fmt.Sprintf(`INSERT INTO corequisite_requirements
			 (id, rule_id, required_course_code, relationship, failure_action, is_required, sequence_order, active)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
				rpb.Add(req.ID), rpb.Add(rule.ID), rpb.Add(req.RequiredCourseCode),
				rpb.Add(string(req.Relationship)), rpb.Add(string(req.OnFailure)),
				rpb.Add(req.IsRequired), rpb.Add(req.SequenceOrder), rpb.Add(true)),
			rpb.Params()...)
		if err != nil {
			return fmt.Errorf("insert corequisite requirement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit corequisite rule: %w", err)
	}

	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": rule})
}

func (h *Handler) DeactivateCorequisiteRule(c *fiber.Ctx) error {
	return h.deactivate(c, "corequisite_rules", "id", c.Params("id"))
}

// --- Restrictions ---

func (h *Handler) CreateRestriction(c *fiber.Ctx) error {
	var restriction catalog.EnrollmentRestriction
	if err := c.BodyParser(&restriction); err != nil {
		return engine.NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if restriction.CourseCode == "" || restriction.Kind == "" {
		return engine.ValidationError([]engine.ErrorDetail{
			{Field: "kind", Rule: "required", Message: "course_code and kind are required"},
		})
	}
	if h.registry.GetCourse(restriction.CourseCode) == nil {
		return engine.UnknownCourseError(restriction.CourseCode)
	}
	if restriction.Enforcement == "" {
		restriction.Enforcement = catalog.EnforceHardBlock
	}

	restriction.ID = store.GenerateUUID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO enrollment_restrictions
		 (id, course_code, kind, enforcement_level, priority, majors, exclude, minimum_standing, permission_code, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(restriction.ID), pb.Add(restriction.CourseCode), pb.Add(string(restriction.Kind)),
			pb.Add(string(restriction.Enforcement)), pb.Add(restriction.Priority),
			pb.Add(h.store.Dialect.ArrayParam(restriction.Majors)), pb.Add(restriction.Exclude),
			pb.Add(standingParam(restriction.MinimumStanding)), pb.Add(nullable(restriction.PermissionCode)),
			pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("insert restriction: %w", err)
	}

	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": restriction})
}

func (h *Handler) DeactivateRestriction(c *fiber.Ctx) error {
	return h.deactivate(c, "enrollment_restrictions", "id", c.Params("id"))
}

// --- Catalog and integrity ---

func (h *Handler) ReloadCatalog(c *fiber.Ctx) error {
	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"reloaded": true}})
}

func (h *Handler) RunIntegrityScan(c *fiber.Ctx) error {
	analysis, err := h.checker.RunCheck(c.Context())
	if err != nil {
		return fmt.Errorf("integrity scan: %w", err)
	}
	return c.JSON(fiber.Map{"data": analysis})
}

func (h *Handler) ListFindings(c *fiber.Ctx) error {
	includeResolved := c.QueryBool("include_resolved")
	findings, err := h.cycles.ListFindings(c.Context(), includeResolved)
	if err != nil {
		return fmt.Errorf("list findings: %w", err)
	}
	if findings == nil {
		findings = []engine.CircularDependencyResult{}
	}
	return c.JSON(fiber.Map{"data": findings})
}

func (h *Handler) ResolveFinding(c *fiber.Ctx) error {
	actor := c.Get("X-Actor-ID", "anonymous")
	finding, err := h.checker.Resolve(c.Context(), c.Params("id"), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": finding})
}

// --- helpers ---

// deactivate soft-disables a row. Rules are never hard-deleted so historical
// validation results keep referring to real IDs.
func (h *Handler) deactivate(c *fiber.Ctx, table, keyCol, key string) error {
	pb := h.store.Dialect.NewParamBuilder()
	affected, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf("UPDATE %s SET active = %s WHERE %s = %s", table, pb.Add(false), keyCol, pb.Add(key)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", table, err)
	}
	if affected == 0 {
		return engine.NotFoundError(table, key)
	}

	if err := h.refresh(c.Context()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deactivated": true}})
}

func validateRule(rule *catalog.PrerequisiteRule) error {
	if rule.CourseCode == "" {
		return engine.ValidationError([]engine.ErrorDetail{
			{Field: "course_code", Rule: "required", Message: "course_code is required"},
		})
	}
	switch rule.Operator {
	case catalog.OpAnd, catalog.OpOr:
	case "":
		rule.Operator = catalog.OpAnd
	default:
		return engine.ValidationError([]engine.ErrorDetail{
			{Field: "operator", Rule: "enum", Message: "operator must be AND or OR"},
		})
	}
	for i := range rule.Requirements {
		req := &rule.Requirements[i]
		switch req.Kind {
		case catalog.KindCompletedCourse, catalog.KindSubjectCredits, catalog.KindMinimumGPA,
			catalog.KindClassStanding, catalog.KindPermission, catalog.KindTestScore, catalog.KindAlternative:
		default:
			return engine.ValidationError([]engine.ErrorDetail{
				{Field: "requirements", Rule: "enum", Message: fmt.Sprintf("unknown requirement kind: %s", req.Kind)},
			})
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func standingParam(s academics.ClassStanding) any {
	if s == academics.StandingUnknown {
		return nil
	}
	return s.String()
}
