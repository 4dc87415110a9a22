package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/redirect-resolver/internal/codec"
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
	"github.com/freewebtopdf/redirect-resolver/internal/engine"
)

// Handlers contains all HTTP handlers for the Redirect Resolver API
type Handlers struct {
	engine        *engine.Engine
	healthChecker domain.HealthChecker
	startTime     time.Time
}

// NewHandlers creates a new instance of API handlers
func NewHandlers(e *engine.Engine, healthChecker domain.HealthChecker) *Handlers {
	return &Handlers{
		engine:        e,
		healthChecker: healthChecker,
		startTime:     time.Now(),
	}
}

// ResolveRequest is the payload of POST /v1/resolve
type ResolveRequest struct {
	Path string `json:"path"`
}

// MoveRequest is the payload of POST /v1/rules/:id/move
type MoveRequest struct {
	Index *int `json:"index"`
}

// BulkEnableRequest is the payload of POST /v1/rules/bulk/enable
type BulkEnableRequest struct {
	IDs     []string `json:"ids"`
	Enabled *bool    `json:"enabled"`
}

// BulkDeleteRequest is the payload of POST /v1/rules/bulk/delete
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// SuccessResponse represents the standard success response format
type SuccessResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ResolveHandler handles POST /v1/resolve requests
func (h *Handlers) ResolveHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return h.sendError(c, invalidPayload(err).WithContext(ctx, "resolve_request_parsing"))
	}

	if err := h.engine.Validator().ValidatePath(req.Path); err != nil {
		return h.sendError(c, asAppError(err).WithContext(ctx, "resolve_request_validation"))
	}

	result := h.engine.Resolve(req.Path)

	log.Debug().
		Str("path", req.Path).
		Str("status", string(result.Status)).
		Str("request_id", requestID(c)).
		Msg("Path resolved")

	return h.success(c, fiber.StatusOK, result)
}

// ListRulesHandler handles GET /v1/rules requests
func (h *Handlers) ListRulesHandler(c *fiber.Ctx) error {
	rules := h.engine.Rules()
	return h.success(c, fiber.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRuleHandler handles GET /v1/rules/:id requests
func (h *Handlers) GetRuleHandler(c *fiber.Ctx) error {
	ruleID := strings.TrimSpace(c.Params("id"))
	rule, ok := h.engine.Rule(ruleID)
	if !ok {
		return h.sendError(c, ruleNotFound(ruleID))
	}
	return h.success(c, fiber.StatusOK, map[string]any{"rule": rule})
}

// CreateRuleHandler handles POST /v1/rules requests. Omitted fields take the
// same defaults as imported rows.
func (h *Handlers) CreateRuleHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	var row codec.Row
	if err := c.BodyParser(&row); err != nil {
		return h.sendError(c, invalidPayload(err).WithContext(ctx, "create_rule_parsing"))
	}

	row.Source = strings.TrimSpace(row.Source)
	row.Destination = strings.TrimSpace(row.Destination)
	row.Notes = strings.TrimSpace(row.Notes)

	draft := codec.NormalizeDraft(row, h.engine.Config().DefaultType)
	rule, err := h.engine.AddRule(draft)
	if err != nil {
		return h.sendError(c, asAppError(err).WithContext(ctx, "create_rule_validation"))
	}

	return h.success(c, fiber.StatusCreated, map[string]any{"rule": rule})
}

// UpdateRuleHandler handles PUT /v1/rules/:id requests. Only the fields
// present in the body change.
func (h *Handlers) UpdateRuleHandler(c *fiber.Ctx) error {
	ctx := c.Context()
	ruleID := strings.TrimSpace(c.Params("id"))

	var patch domain.RulePatch
	if err := c.BodyParser(&patch); err != nil {
		return h.sendError(c, invalidPayload(err).WithContext(ctx, "update_rule_parsing"))
	}

	trim(patch.Source)
	trim(patch.Destination)

	rule, ok, err := h.engine.UpdateRule(ruleID, patch)
	if err != nil {
		return h.sendError(c, asAppError(err).WithContext(ctx, "update_rule_validation"))
	}
	if !ok {
		return h.sendError(c, ruleNotFound(ruleID))
	}

	return h.success(c, fiber.StatusOK, map[string]any{"rule": rule})
}

// DeleteRuleHandler handles DELETE /v1/rules/:id requests
func (h *Handlers) DeleteRuleHandler(c *fiber.Ctx) error {
	ruleID := strings.TrimSpace(c.Params("id"))
	if !h.engine.DeleteRule(ruleID) {
		return h.sendError(c, ruleNotFound(ruleID))
	}

	return h.success(c, fiber.StatusOK, map[string]any{
		"message": "Rule deleted successfully",
		"rule_id": ruleID,
	})
}

// ToggleRuleHandler handles POST /v1/rules/:id/toggle requests
func (h *Handlers) ToggleRuleHandler(c *fiber.Ctx) error {
	ruleID := strings.TrimSpace(c.Params("id"))
	rule, ok := h.engine.ToggleRule(ruleID)
	if !ok {
		return h.sendError(c, ruleNotFound(ruleID))
	}
	return h.success(c, fiber.StatusOK, map[string]any{"rule": rule})
}

// MoveRuleHandler handles POST /v1/rules/:id/move requests
func (h *Handlers) MoveRuleHandler(c *fiber.Ctx) error {
	ctx := c.Context()
	ruleID := strings.TrimSpace(c.Params("id"))

	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return h.sendError(c, invalidPayload(err).WithContext(ctx, "move_rule_parsing"))
	}
	if req.Index == nil {
		return h.sendError(c, domain.NewAppError(
			domain.ErrValidationFailed,
			"index is required",
			422,
			map[string]any{"fields": []string{"index"}},
		))
	}

	if !h.engine.MoveRule(ruleID, *req.Index) {
		return h.sendError(c, ruleNotFound(ruleID))
	}

	return h.success(c, fiber.StatusOK, map[string]any{
		"rules": h.engine.Rules(),
	})
}

// RecordHitHandler handles POST /v1/rules/:id/hit requests
func (h *Handlers) RecordHitHandler(c *fiber.Ctx) error {
	ruleID := strings.TrimSpace(c.Params("id"))
	if !h.engine.RecordHit(ruleID) {
		return h.sendError(c, ruleNotFound(ruleID))
	}

	rule, _ := h.engine.Rule(ruleID)
	return h.success(c, fiber.StatusOK, map[string]any{
		"rule_id": ruleID,
		"hits":    rule.Hits,
	})
}

// BulkEnableHandler handles POST /v1/rules/bulk/enable requests
func (h *Handlers) BulkEnableHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	var req BulkEnableRequest
	if err := c.BodyParser(&req); err != nil {
		return h.sendError(c, invalidPayload(err).WithContext(ctx, "bulk_enable_parsing"))
	}
	if req.Enabled == nil {
		return h.sendError(c, domain.NewAppError(
			domain.ErrValidationFailed,
			"enabled is required",
			422,
			map[string]any{"fields": []string{"enabled"}},
		))
	}

	found := h.engine.BulkSetEnabled(req.IDs, *req.Enabled)
	return h.success(c, fiber.StatusOK, map[string]any{
		"requested": len(req.IDs),
		"updated":   found,
		"enabled":   *req.Enabled,
	})
}

// BulkDeleteHandler handles POST /v1/rules/bulk/delete requests
func (h *Handlers) BulkDeleteHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	var req BulkDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return h.sendError(c, invalidPayload(err).WithContext(ctx, "bulk_delete_parsing"))
	}

	removed := h.engine.BulkDelete(req.IDs)
	return h.success(c, fiber.StatusOK, map[string]any{
		"requested": len(req.IDs),
		"deleted":   removed,
	})
}

// ChainsHandler handles GET /v1/chains requests
func (h *Handlers) ChainsHandler(c *fiber.Ctx) error {
	chains := h.engine.DetectChains()
	return h.success(c, fiber.StatusOK, map[string]any{
		"chains": chains,
		"count":  len(chains),
	})
}

// LoopsHandler handles GET /v1/loops requests
func (h *Handlers) LoopsHandler(c *fiber.Ctx) error {
	loops := h.engine.DetectLoops()
	return h.success(c, fiber.StatusOK, map[string]any{
		"loops": loops,
		"count": len(loops),
	})
}

// AuditHandler handles GET /v1/audit requests
func (h *Handlers) AuditHandler(c *fiber.Ctx) error {
	report, err := h.engine.Audit(c.Context())
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID(c)).Msg("Audit failed")
		return h.sendError(c, asAppError(err))
	}
	return h.success(c, fiber.StatusOK, report)
}

// ExportHandler handles GET /v1/export requests
func (h *Handlers) ExportHandler(c *fiber.Ctx) error {
	format, err := codec.ParseFormat(c.Query("format"))
	if err != nil {
		return h.sendError(c, asAppError(err).WithContext(c.Context(), "export"))
	}

	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="redirects.`+string(format)+`"`)
	return c.Status(fiber.StatusOK).SendString(h.engine.Export(format))
}

// ImportHandler handles POST /v1/import requests. The body is the raw
// document; nothing is imported unless every row is valid.
func (h *Handlers) ImportHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	format, err := codec.ParseFormat(c.Query("format"))
	if err != nil {
		return h.sendError(c, asAppError(err).WithContext(ctx, "import"))
	}

	text := string(c.Body())
	if _, err := h.engine.ValidateImport(format, text); err != nil {
		log.Warn().Err(err).Str("format", string(format)).Str("request_id", requestID(c)).Msg("Rejected import")
		return h.sendError(c, asAppError(err).WithContext(ctx, "import"))
	}

	imported := h.engine.Import(format, text)
	return h.success(c, fiber.StatusOK, map[string]any{
		"imported": imported,
		"format":   format,
	})
}

// HealthHandler handles GET /health requests
func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	health := h.healthChecker.CheckHealth(c.Context())

	// Degraded still serves redirects; only unhealthy is unavailable
	status := fiber.StatusOK
	if health.Status == domain.HealthStatusUnhealthy {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(map[string]any{
		"status":     health.Status,
		"timestamp":  health.Timestamp.Format(time.RFC3339),
		"components": health.Components,
		"uptime":     health.Uptime.String(),
	})
}

// MetricsHandler handles GET /metrics requests
func (h *Handlers) MetricsHandler(c *fiber.Ctx) error {
	ctx := c.Context()

	return h.success(c, fiber.StatusOK, map[string]any{
		"rules":   h.engine.Store().GetStats(ctx),
		"matcher": h.engine.Matcher().GetStats(ctx),
		"uptime": map[string]any{
			"seconds":   time.Since(h.startTime).Seconds(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *Handlers) success(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{
		Status: "success",
		Data:   data,
	})
}

// sendError sends a standardized error response
func (h *Handlers) sendError(c *fiber.Ctx, appErr *domain.AppError) error {
	return c.Status(appErr.StatusCode).JSON(ErrorResponse{
		Status:  "error",
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

func invalidPayload(err error) *domain.AppError {
	return domain.NewAppError(
		domain.ErrInvalidInput,
		"Invalid JSON payload",
		400,
		map[string]string{"error": err.Error()},
	)
}

func ruleNotFound(id string) *domain.AppError {
	return domain.NewAppError(
		domain.ErrNotFound,
		"Rule not found",
		404,
		map[string]string{"rule_id": id},
	)
}

// asAppError passes AppErrors through and wraps anything else as internal
func asAppError(err error) *domain.AppError {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return domain.NewAppErrorWithCause(domain.ErrInternal, "Internal server error", 500, err, nil)
}

func trim(s *string) {
	if s != nil {
		*s = strings.TrimSpace(*s)
	}
}

func requestID(c *fiber.Ctx) string {
	if rid, ok := c.Locals("requestid").(string); ok {
		return rid
	}
	return ""
}
