package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/auditron/middleware"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services"
	"github.com/upb/auditron/utils"
	"go.uber.org/zap"
)

// Version is reported by the root status endpoint
const Version = "2.0.0"

// Auditor runs one audit request
type Auditor interface {
	Run(ctx context.Context, provider models.Provider, controlIDs []string, userID string) *models.AuditResponse
}

// ToolCatalog serves the discovery payload
type ToolCatalog interface {
	Tools() *models.ToolsResponse
}

// AuditHandler serves the discovery and audit endpoints
type AuditHandler struct {
	auditor     Auditor
	catalog     ToolCatalog
	maxControls int
	logger      *zap.Logger
}

// NewAuditHandler creates a new AuditHandler. maxControls <= 0 disables the
// request size limit.
func NewAuditHandler(auditor Auditor, catalog ToolCatalog, maxControls int, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditor:     auditor,
		catalog:     catalog,
		maxControls: maxControls,
		logger:      logger,
	}
}

// HandleRoot handles GET /
func (h *AuditHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "Project Auditron",
		"version": Version,
	})
}

// HandleTools handles GET /tools
func (h *AuditHandler) HandleTools(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteJSON(w, http.StatusOK, h.catalog.Tools()); err != nil {
		h.logger.Error("failed to write tools response", zap.Error(err))
	}
}

// HandleAudit handles POST /audit/{provider}
func (h *AuditHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	segment := chi.URLParam(r, "provider")
	provider, ok := models.ParseProvider(segment)
	if !ok {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeNotFound, "unsupported provider", nil).
			WithDetail("provider", segment), h.logger)
		return
	}

	var req models.AuditRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if h.maxControls > 0 && len(req.Controls) > h.maxControls {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("at most %d controls per request", h.maxControls), nil).
			WithDetail("controls", len(req.Controls)), h.logger)
		return
	}

	userID, err := resolveUserID(ctx, req.UserID)
	if err != nil {
		h.logger.Warn("audit identity rejected",
			zap.String("request_id", requestID),
			zap.String("provider", string(provider)))
		HandleServiceError(w, err, h.logger)
		return
	}

	resp := h.auditor.Run(ctx, provider, req.Controls, userID)

	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write audit response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// resolveUserID picks the identity used for stored credential lookup. An
// authenticated caller may only audit with their own credentials.
func resolveUserID(ctx context.Context, bodyUserID string) (string, error) {
	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		return bodyUserID, nil
	}
	if bodyUserID != "" && bodyUserID != claims.Sub {
		return "", services.ErrIdentityMismatch
	}
	return claims.Sub, nil
}
