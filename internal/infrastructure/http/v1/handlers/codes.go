package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
	"codealloc/internal/infrastructure/http/v1/dto"
)

// Allocator is the allocation engine as seen by HTTP handlers.
type Allocator interface {
	Allocate(ctx context.Context, kind code.Kind) (*allocation.AllocatedCode, error)
	AllocateBatch(ctx context.Context, kind code.Kind, count uint64) ([]allocation.AllocatedCode, error)
	CurrentConfig(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error)
	PeekSequence(ctx context.Context, key code.SequenceKey) (uint64, error)
	AdvanceSequence(ctx context.Context, key code.SequenceKey, last uint64) (uint64, error)
}

// CodesHandler handles code allocation and validation.
type CodesHandler struct {
	*BaseHandler
	engine Allocator
}

// NewCodesHandler creates a new codes handler.
func NewCodesHandler(base *BaseHandler, engine Allocator) *CodesHandler {
	return &CodesHandler{BaseHandler: base, engine: engine}
}

// Allocate handles POST /codes/allocate
func (h *CodesHandler) Allocate(c *gin.Context) {
	var req dto.AllocateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	kind, err := code.ParseKind(req.Kind)
	if err != nil {
		h.Error(c, err)
		return
	}

	issued, err := h.engine.Allocate(c.Request.Context(), kind)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromAllocatedCode(*issued))
}

// AllocateBatch handles POST /codes/allocate-batch
func (h *CodesHandler) AllocateBatch(c *gin.Context) {
	var req dto.AllocateBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}
	kind, err := code.ParseKind(req.Kind)
	if err != nil {
		h.Error(c, err)
		return
	}

	codes, err := h.engine.AllocateBatch(c.Request.Context(), kind, req.Count)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromAllocatedBatch(codes))
}

// Validate handles POST /codes/validate
// A malformed code is a normal answer (valid=false), not an error.
func (h *CodesHandler) Validate(c *gin.Context) {
	var req dto.ValidateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	kind, err := code.ParseKind(req.Kind)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.ValidateResponse{Code: req.Code, Kind: string(kind), Valid: true}
	if err := code.Check(req.Code, kind); err != nil {
		resp.Valid = false
		if appErr, ok := apperror.AsAppError(err); ok {
			resp.Reason = appErr.Message
		} else {
			resp.Reason = err.Error()
		}
		h.OK(c, resp)
		return
	}

	digits := req.ManufacturerDigits
	if kind == code.KindUPC && digits == 0 {
		digits = h.currentManufacturerDigits(c.Request.Context(), req.Code)
	}
	if key, seq, err := code.Parse(req.Code, kind, digits); err == nil {
		resp.SequenceKey = key.String()
		resp.SequenceNumber = seq
	}
	h.OK(c, resp)
}

// currentManufacturerDigits returns the length of the active UPC
// manufacturer code when value carries it, else 0. Lookup failures leave the
// sequence fields empty rather than failing validation.
func (h *CodesHandler) currentManufacturerDigits(ctx context.Context, value string) int {
	cfg, err := h.engine.CurrentConfig(ctx, code.KindUPC)
	if err != nil || cfg.ManufacturerCode == "" || !strings.HasPrefix(value, cfg.ManufacturerCode) {
		return 0
	}
	return len(cfg.ManufacturerCode)
}
