package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nationdex/promostore/internal/application"
	"github.com/nationdex/promostore/internal/domain/promocode"
	"github.com/nationdex/promostore/internal/middleware"
)

// PromoCodeHandler handles HTTP requests for promocode operations. It does
// identity resolution (from the token) and status mapping only; all store
// semantics live in the application layer.
type PromoCodeHandler struct {
	store *application.PromoStore
}

// NewPromoCodeHandler creates a new PromoCodeHandler.
func NewPromoCodeHandler(store *application.PromoStore) *PromoCodeHandler {
	return &PromoCodeHandler{store: store}
}

// RegisterRoutes registers all promocode routes. Mutating administrative
// operations require the admin role; check and redeem only require an
// authenticated identity.
func (h *PromoCodeHandler) RegisterRoutes(r *gin.RouterGroup, jwtSecret string) {
	codes := r.Group("/promocodes")
	codes.Use(middleware.AuthMiddleware(jwtSecret))
	{
		codes.GET("", h.List)
		codes.GET("/check", h.Check)
		codes.POST("/redeem", h.Redeem)

		admin := codes.Group("", middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.POST("", h.Create)
			admin.PATCH("/:code/uses", h.AdjustUses)
			admin.DELETE("/:code", h.Delete)
			admin.POST("/clean", h.Clean)
			admin.POST("/sync", h.Sync)
		}
	}
}

// Create handles POST /api/v1/promocodes.
func (h *PromoCodeHandler) Create(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req application.CreateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	createdBy := middleware.GetUsername(c)
	if createdBy == "" {
		createdBy = identity
	}
	dto, err := h.store.Create(c.Request.Context(), createdBy, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto)
}

// AdjustUses handles PATCH /api/v1/promocodes/:code/uses.
func (h *PromoCodeHandler) AdjustUses(c *gin.Context) {
	var req application.AdjustUsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newUses, err := h.store.AdjustUses(c.Request.Context(), c.Param("code"), req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": promocode.Normalize(c.Param("code")), "uses_left": newUses})
}

// Check handles GET /api/v1/promocodes/check?code=X.
func (h *PromoCodeHandler) Check(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c)
	dto, reason, err := h.store.CheckEligible(c.Request.Context(), c.Query("code"), identity)
	if err != nil {
		respondError(c, err)
		return
	}
	if reason != promocode.ReasonOK {
		c.JSON(http.StatusOK, gin.H{"eligible": false, "reason": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eligible": true, "reason": reason, "promocode": dto})
}

// Redeem handles POST /api/v1/promocodes/redeem. On success the response
// carries the resolved reward spec; picking the concrete reward content is
// the caller's concern.
func (h *PromoCodeHandler) Redeem(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req application.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dto, reason, err := h.store.MarkUsed(c.Request.Context(), req.Code, identity, middleware.GetUsername(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if reason != promocode.ReasonOK {
		c.JSON(http.StatusOK, gin.H{"redeemed": false, "reason": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"redeemed": true, "reason": reason, "rewards": dto.Rewards, "promocode": dto})
}

// Delete handles DELETE /api/v1/promocodes/:code?archive=true.
func (h *PromoCodeHandler) Delete(c *gin.Context) {
	archive := c.DefaultQuery("archive", "true") != "false"
	if err := h.store.Delete(c.Request.Context(), c.Param("code"), archive); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": promocode.Normalize(c.Param("code")), "archived": archive})
}

// Clean handles POST /api/v1/promocodes/clean?archive=true.
func (h *PromoCodeHandler) Clean(c *gin.Context) {
	archive := c.DefaultQuery("archive", "true") != "false"
	removed, err := h.store.Clean(c.Request.Context(), archive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "archived": archive})
}

// List handles GET /api/v1/promocodes.
func (h *PromoCodeHandler) List(c *gin.Context) {
	var filter application.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dtos, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promocodes": dtos, "count": len(dtos)})
}

// Sync handles POST /api/v1/promocodes/sync: a forced reload from the file.
func (h *PromoCodeHandler) Sync(c *gin.Context) {
	count, err := h.store.ForceReload(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": true, "count": count})
}

// respondError maps store errors to HTTP statuses. Filesystem-level
// failures deliberately surface as a generic retryable message: raw
// filesystem errors are not actionable for API callers.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, promocode.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, promocode.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, promocode.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, promocode.ErrLockTimeout),
		errors.Is(err, promocode.ErrPermissionDenied),
		errors.Is(err, promocode.ErrCorruptData):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "promocode storage unavailable, try again later or contact an administrator"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
