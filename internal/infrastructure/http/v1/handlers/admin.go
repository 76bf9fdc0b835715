package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/infrastructure/http/v1/dto"
	"codealloc/internal/infrastructure/storage/postgres"
)

// PrefixRegistry is the prefix registry as seen by HTTP handlers.
type PrefixRegistry interface {
	RotatePrefix(ctx context.Context, kind code.Kind, fields code.PrefixFields, reason string) (*code.PrefixConfig, error)
	History(ctx context.Context, kind code.Kind, limit int) ([]code.PrefixConfig, error)
}

// AuditReader lists audit entries. Only the Postgres backend keeps an audit log.
type AuditReader interface {
	Recent(ctx context.Context, f postgres.AuditFilter) ([]postgres.AuditEntry, error)
}

// AdminHandler handles prefix administration and counter inspection.
type AdminHandler struct {
	*BaseHandler
	engine   Allocator
	registry PrefixRegistry
	audit    AuditReader
}

// NewAdminHandler creates a new admin handler. audit may be nil.
func NewAdminHandler(base *BaseHandler, engine Allocator, registry PrefixRegistry, audit AuditReader) *AdminHandler {
	return &AdminHandler{
		BaseHandler: base,
		engine:      engine,
		registry:    registry,
		audit:       audit,
	}
}

// GetPrefix handles GET /admin/prefixes/:kind
func (h *AdminHandler) GetPrefix(c *gin.Context) {
	kind, ok := h.KindParam(c)
	if !ok {
		return
	}

	cfg, err := h.engine.CurrentConfig(c.Request.Context(), kind)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromPrefixConfig(*cfg, true))
}

// UpdatePrefix handles PUT /admin/prefixes/:kind
func (h *AdminHandler) UpdatePrefix(c *gin.Context) {
	kind, ok := h.KindParam(c)
	if !ok {
		return
	}
	var req dto.UpdatePrefixRequest
	if !h.BindJSON(c, &req) {
		return
	}

	cfg, err := h.registry.RotatePrefix(c.Request.Context(), kind, req.ToFields(), req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromPrefixConfig(*cfg, false))
}

// History handles GET /admin/prefixes/:kind/history
func (h *AdminHandler) History(c *gin.Context) {
	kind, ok := h.KindParam(c)
	if !ok {
		return
	}

	items, err := h.registry.History(c.Request.Context(), kind, h.ParseIntQuery(c, "limit", 0))
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]dto.PrefixResponse, len(items))
	for i, cfg := range items {
		out[i] = dto.FromPrefixConfig(cfg, false)
	}
	h.OK(c, dto.NewListResponse(out))
}

// Sequence handles GET /admin/sequences?key=KIND/PREFIX/PERIOD
func (h *AdminHandler) Sequence(c *gin.Context) {
	raw := c.Query("key")
	if raw == "" {
		h.Error(c, apperror.NewValidation("query parameter key is required"))
		return
	}
	key, err := code.ParseSequenceKey(raw)
	if err != nil {
		h.Error(c, err)
		return
	}

	last, err := h.engine.PeekSequence(c.Request.Context(), key)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.SequenceResponse{SequenceKey: key.String(), LastSequence: last})
}

// AdvanceSequence handles PUT /admin/sequences
func (h *AdminHandler) AdvanceSequence(c *gin.Context) {
	var req dto.AdvanceSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	key, err := code.ParseSequenceKey(req.SequenceKey)
	if err != nil {
		h.Error(c, err)
		return
	}

	last, err := h.engine.AdvanceSequence(c.Request.Context(), key, req.LastSequence)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.SequenceResponse{SequenceKey: key.String(), LastSequence: last})
}

// Audit handles GET /admin/audit
func (h *AdminHandler) Audit(c *gin.Context) {
	if h.audit == nil {
		h.Error(c, apperror.NewNotFound("audit log", "disabled"))
		return
	}

	filter := postgres.AuditFilter{
		SequenceKey: c.Query("sequenceKey"),
		Event:       postgres.AuditEvent(c.Query("event")),
		Limit:       h.ParseIntQuery(c, "limit", 100),
	}
	if raw := c.Query("kind"); raw != "" {
		kind, err := code.ParseKind(raw)
		if err != nil {
			h.Error(c, err)
			return
		}
		filter.Kind = kind
	}

	entries, err := h.audit.Recent(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(entries))
}
