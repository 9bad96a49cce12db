package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/limit/application"
	"github.com/wyfcoding/securitieslending/internal/limit/domain"
	"github.com/wyfcoding/securitieslending/internal/limit/infrastructure"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

// LimitHandler 额度服务 HTTP 接口，协议与 infrastructure.LimitServiceClient 对应
type LimitHandler struct {
	app      *application.LimitApplicationService
	validate *validator.Validate
}

func NewLimitHandler(app *application.LimitApplicationService) *LimitHandler {
	return &LimitHandler{app: app, validate: validator.New()}
}

func (h *LimitHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/limits")
	{
		api.GET("", h.GetLimit)
		api.PUT("", h.UpsertLimit)
		api.POST("/consume", h.Consume)
		api.POST("/release", h.Release)
	}
}

// GetLimit 查询额度快照
func (h *LimitHandler) GetLimit(c *gin.Context) {
	key := domain.LimitKey{
		EntityType:   domain.EntityType(c.Query("entity_type")),
		EntityID:     c.Query("entity_id"),
		SecurityID:   c.Query("security_id"),
		BusinessDate: c.Query("business_date"),
	}
	if err := h.validate.Struct(key); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit key", err.Error())
		return
	}
	l, err := h.app.GetLimit(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, l)
}

// Consume 原子占用额度
func (h *LimitHandler) Consume(c *gin.Context) {
	var req infrastructure.ConsumeRequest
	if !h.bind(c, &req, &req.Key) {
		return
	}
	ok, err := h.app.Consume(c.Request.Context(), req.Key, req.Side, req.Quantity, req.ExpectedVersion)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, infrastructure.ConsumeResult{Consumed: ok})
}

// Release 归还额度
func (h *LimitHandler) Release(c *gin.Context) {
	var req infrastructure.ReleaseRequest
	if !h.bind(c, &req, &req.Key) {
		return
	}
	if err := h.app.Release(c.Request.Context(), req.Key, req.Side, req.Quantity); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, nil)
}

// UpsertLimit 额度刷新
func (h *LimitHandler) UpsertLimit(c *gin.Context) {
	var cmd application.UpsertLimitCommand
	if !h.bind(c, &cmd, &cmd.Key) {
		return
	}
	l, err := h.app.Upsert(c.Request.Context(), &cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, application.ToLimitDTO(l))
}

func (h *LimitHandler) bind(c *gin.Context, req any, key *domain.LimitKey) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	if err := h.validate.Struct(key); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit key", err.Error())
		return false
	}
	return true
}

func (h *LimitHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrLimitNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "limit not found", "")
	case decision.KindOf(err) == decision.KindConflict:
		response.ErrorWithStatus(c, http.StatusConflict, "version conflict", "")
	case decision.KindOf(err) == decision.KindTransient:
		logger.Error(c.Request.Context(), "limit store unavailable", "error", err)
		response.ErrorWithStatus(c, http.StatusServiceUnavailable, "limit store unavailable", "")
	default:
		logger.Error(c.Request.Context(), "limit request failed", "error", err)
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
	}
}
