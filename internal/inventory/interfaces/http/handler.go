package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/wyfcoding/securitieslending/internal/inventory/application"
	"github.com/wyfcoding/securitieslending/internal/inventory/domain"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

// InventoryHandler 库存 HTTP 接口
type InventoryHandler struct {
	app      *application.InventoryApplicationService
	validate *validator.Validate
}

func NewInventoryHandler(app *application.InventoryApplicationService) *InventoryHandler {
	return &InventoryHandler{app: app, validate: validator.New()}
}

func (h *InventoryHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/inventory")
	{
		api.GET("", h.GetAvailability)
		api.POST("/replenish", h.Replenish)
	}
}

// GetAvailability 查询可用库存
func (h *InventoryHandler) GetAvailability(c *gin.Context) {
	key := domain.InventoryKey{
		SecurityID:        c.Query("security_id"),
		CounterpartyID:    c.Query("counterparty_id"),
		AggregationUnitID: c.Query("aggregation_unit_id"),
		BusinessDate:      c.Query("business_date"),
		CalculationType:   domain.CalculationType(c.DefaultQuery("calculation_type", string(domain.CalcLocate))),
	}
	if err := h.validate.Struct(key); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid inventory key", err.Error())
		return
	}
	a, err := h.app.GetAvailability(c.Request.Context(), key)
	if errors.Is(err, domain.ErrInventoryNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "inventory not found", "")
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to read inventory", "key", key.String(), "error", err)
		response.ErrorWithStatus(c, http.StatusServiceUnavailable, err.Error(), "")
		return
	}
	response.Success(c, application.ToAvailabilityDTO(a))
}

// Replenish 补充库存
func (h *InventoryHandler) Replenish(c *gin.Context) {
	var cmd application.ReplenishCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(cmd.Key); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid inventory key", err.Error())
		return
	}
	a, err := h.app.Replenish(c.Request.Context(), &cmd)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to replenish inventory", "key", cmd.Key.String(), "error", err)
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	response.Success(c, application.ToAvailabilityDTO(a))
}
