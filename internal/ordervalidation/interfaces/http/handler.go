package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/application"
	"github.com/wyfcoding/securitieslending/internal/ordervalidation/domain"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

// OrderValidationHandler 订单额度校验 HTTP 接口
type OrderValidationHandler struct {
	engine *application.Engine
}

func NewOrderValidationHandler(engine *application.Engine) *OrderValidationHandler {
	return &OrderValidationHandler{engine: engine}
}

func (h *OrderValidationHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/orders")
	{
		api.POST("/validate", h.Validate)
		api.GET("/:orderId", h.Get)
	}
}

type ValidateResponse struct {
	Validation *domain.OrderValidation `json:"validation"`
	Outputs    domain.Outputs          `json:"outputs"`
}

// Validate 格式问题以 INVALID_ORDER 拒绝返回，而非 400
func (h *OrderValidationHandler) Validate(c *gin.Context) {
	var o domain.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	v, err := h.engine.Validate(c.Request.Context(), o)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, ValidateResponse{Validation: v, Outputs: v.Outputs()})
}

func (h *OrderValidationHandler) Get(c *gin.Context) {
	v, err := h.engine.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, v)
}

func (h *OrderValidationHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidationNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "order validation not found", c.Param("orderId"))
	case decision.IsStateError(err):
		response.ErrorWithStatus(c, http.StatusConflict, "STATE_ERROR", err.Error())
	default:
		logger.Error(c.Request.Context(), "order validation failed", "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, string(decision.ReasonInternalError), err.Error())
	}
}
