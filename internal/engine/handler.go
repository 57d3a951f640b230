package engine

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"registrar-backend/internal/academics"
	"registrar-backend/internal/instrument"
	"registrar-backend/internal/store"
)

// Handler serves the validation and exception-workflow HTTP endpoints.
type Handler struct {
	validator  *Validator
	workflow   *OverrideEngine
	results    ResultStore
	exceptions ExceptionStore
}

func NewHandler(validator *Validator, workflow *OverrideEngine, results ResultStore, exceptions ExceptionStore) *Handler {
	return &Handler{
		validator:  validator,
		workflow:   workflow,
		results:    results,
		exceptions: exceptions,
	}
}

// RegisterRoutes adds validation and exception routes.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Post("/validate", h.Validate)
	api.Get("/results/:studentID/:courseCode/:term", h.GetCurrentResult)
	api.Get("/results/:studentID/:courseCode/:term/history", h.GetResultHistory)

	api.Post("/overrides", h.RequestOverride)
	api.Get("/overrides/:id", h.GetOverride)
	api.Post("/overrides/:id/steps/:sequence/approve", h.ApproveStep)
	api.Post("/overrides/:id/steps/:sequence/deny", h.DenyStep)
	api.Post("/overrides/:id/steps/:sequence/delegate", h.DelegateStep)
	api.Post("/overrides/:id/revoke", h.RevokeOverride)

	api.Post("/waivers", h.RequestWaiver)
	api.Get("/waivers/:id", h.GetWaiver)
	api.Post("/waivers/:id/approve", h.ApproveWaiver)
	api.Post("/waivers/:id/deny", h.DenyWaiver)
	api.Post("/waivers/:id/acknowledge", h.AcknowledgeWaiver)
}

// validateRequest carries the student record inline. The engine never looks
// up academic history itself; the caller supplies it.
type validateRequest struct {
	Student    academics.StudentRecord `json:"student"`
	CourseCode string                  `json:"course_code"`
	Term       string                  `json:"term"`
}

func (h *Handler) Validate(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "handler", "validation.request")
	defer span.End()
	c.SetUserContext(ctx)

	var req validateRequest
	if err := c.BodyParser(&req); err != nil {
		span.SetStatus("error")
		return NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if req.Student.StudentID == "" || req.CourseCode == "" || req.Term == "" {
		span.SetStatus("error")
		return ValidationError([]ErrorDetail{
			{Field: "student.student_id", Rule: "required", Message: "student, course_code, and term are required"},
		})
	}

	span.SetEntity("course", req.CourseCode)
	result, err := h.validator.Validate(ctx, &req.Student, req.CourseCode, req.Term)
	if err != nil {
		span.SetStatus("error")
		var appErr *AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		if errors.Is(err, store.ErrVersionConflict) {
			return NewAppError("VERSION_CONFLICT", 409, "Validation lost a concurrent update race; retry")
		}
		return NewAppError("INTERNAL_ERROR", 500, "Validation failed: "+err.Error())
	}

	span.SetStatus("ok")
	return c.JSON(fiber.Map{"data": result})
}

func (h *Handler) GetCurrentResult(c *fiber.Ctx) error {
	result, err := h.results.GetCurrent(c.UserContext(),
		c.Params("studentID"), c.Params("courseCode"), c.Params("term"))
	if err != nil {
		return NewAppError("NOT_FOUND", 404, "No current validation result")
	}
	return c.JSON(fiber.Map{"data": result})
}

func (h *Handler) GetResultHistory(c *fiber.Ctx) error {
	history, err := h.results.History(c.UserContext(),
		c.Params("studentID"), c.Params("courseCode"), c.Params("term"))
	if err != nil {
		return NewAppError("INTERNAL_ERROR", 500, "Failed to load result history")
	}
	if history == nil {
		history = []*ValidationResult{}
	}
	return c.JSON(fiber.Map{"data": history})
}

func (h *Handler) RequestOverride(c *fiber.Ctx) error {
	var req OverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if req.RequestedBy == "" {
		req.RequestedBy = c.Get("X-Actor-ID", "anonymous")
	}

	o, err := h.workflow.RequestOverride(c.UserContext(), req)
	if err != nil {
		return asAppError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": o})
}

func (h *Handler) GetOverride(c *fiber.Ctx) error {
	o, err := h.exceptions.GetOverride(c.UserContext(), c.Params("id"))
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": o})
}

type resolveStepRequest struct {
	Authority string `json:"authority"`
	Note      string `json:"note"`
}

func (h *Handler) ApproveStep(c *fiber.Ctx) error {
	return h.resolveStep(c, true)
}

func (h *Handler) DenyStep(c *fiber.Ctx) error {
	return h.resolveStep(c, false)
}

func (h *Handler) resolveStep(c *fiber.Ctx, approve bool) error {
	sequence, err := c.ParamsInt("sequence")
	if err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid step sequence")
	}

	var req resolveStepRequest
	if err := c.BodyParser(&req); err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	actor := c.Get("X-Actor-ID", "anonymous")

	resolution, err := h.workflow.ResolveStep(c.UserContext(), c.Params("id"), sequence, actor, req.Authority, approve, req.Note)
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": resolution})
}

type delegateRequest struct {
	Delegate string `json:"delegate"`
}

func (h *Handler) DelegateStep(c *fiber.Ctx) error {
	sequence, err := c.ParamsInt("sequence")
	if err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid step sequence")
	}

	var req delegateRequest
	if err := c.BodyParser(&req); err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if req.Delegate == "" {
		return ValidationError([]ErrorDetail{{Field: "delegate", Rule: "required", Message: "delegate is required"}})
	}
	actor := c.Get("X-Actor-ID", "anonymous")

	o, err := h.workflow.DelegateStep(c.UserContext(), c.Params("id"), sequence, actor, req.Delegate)
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": o})
}

type revokeRequest struct {
	Note string `json:"note"`
}

func (h *Handler) RevokeOverride(c *fiber.Ctx) error {
	var req revokeRequest
	if err := c.BodyParser(&req); err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	actor := c.Get("X-Actor-ID", "anonymous")

	o, err := h.workflow.Revoke(c.UserContext(), c.Params("id"), actor, req.Note)
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": o})
}

func (h *Handler) RequestWaiver(c *fiber.Ctx) error {
	var req WaiverRequest
	if err := c.BodyParser(&req); err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if req.RequestedBy == "" {
		req.RequestedBy = c.Get("X-Actor-ID", "anonymous")
	}

	w, err := h.workflow.RequestWaiver(c.UserContext(), req)
	if err != nil {
		return asAppError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": w})
}

func (h *Handler) GetWaiver(c *fiber.Ctx) error {
	w, err := h.exceptions.GetWaiver(c.UserContext(), c.Params("id"))
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": w})
}

func (h *Handler) ApproveWaiver(c *fiber.Ctx) error {
	actor := c.Get("X-Actor-ID", "anonymous")
	w, err := h.workflow.ResolveWaiver(c.UserContext(), c.Params("id"), actor, true)
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": w})
}

func (h *Handler) DenyWaiver(c *fiber.Ctx) error {
	actor := c.Get("X-Actor-ID", "anonymous")
	w, err := h.workflow.ResolveWaiver(c.UserContext(), c.Params("id"), actor, false)
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": w})
}

type acknowledgeRequest struct {
	StudentID string `json:"student_id"`
}

func (h *Handler) AcknowledgeWaiver(c *fiber.Ctx) error {
	var req acknowledgeRequest
	if err := c.BodyParser(&req); err != nil {
		return NewAppError("INVALID_BODY", 400, "Invalid request body: "+err.Error())
	}
	if req.StudentID == "" {
		req.StudentID = c.Get("X-Actor-ID")
	}

	w, err := h.workflow.AcknowledgeWaiver(c.UserContext(), c.Params("id"), req.StudentID)
	if err != nil {
		return asAppError(err)
	}
	return c.JSON(fiber.Map{"data": w})
}

// asAppError passes engine errors through and wraps everything else.
func asAppError(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewAppError("INTERNAL_ERROR", 500, err.Error())
}
