package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/securitieslending/internal/referencedata/application"
	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

type SecurityRequest struct {
	Symbol      string          `json:"symbol" validate:"required"`
	Market      string          `json:"market" validate:"required"`
	Active      bool            `json:"active"`
	Temperature string          `json:"temperature" validate:"omitempty,oneof=HTB GC WARM COLD RESTRICTED"`
	BorrowRate  decimal.Decimal `json:"borrow_rate"`
}

type CounterpartyRequest struct {
	Name           string `json:"name" validate:"required"`
	Active         bool   `json:"active"`
	LocateEligible bool   `json:"locate_eligible"`
}

type AggregationUnitRequest struct {
	Name   string `json:"name" validate:"required"`
	Market string `json:"market"`
	Active bool   `json:"active"`
}

// ReferenceDataHandler 参考数据 HTTP 接口
type ReferenceDataHandler struct {
	app      *application.ReferenceDataService
	validate *validator.Validate
}

func NewReferenceDataHandler(app *application.ReferenceDataService) *ReferenceDataHandler {
	return &ReferenceDataHandler{app: app, validate: validator.New()}
}

func (h *ReferenceDataHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/referencedata")
	{
		api.GET("/securities/:id", h.GetSecurity)
		api.PUT("/securities/:id", h.PutSecurity)
		api.GET("/counterparties/:id", h.GetCounterparty)
		api.PUT("/counterparties/:id", h.PutCounterparty)
		api.GET("/aggregation-units/:id", h.GetAggregationUnit)
		api.PUT("/aggregation-units/:id", h.PutAggregationUnit)
	}
}

func (h *ReferenceDataHandler) GetSecurity(c *gin.Context) {
	s, err := h.app.GetSecurity(c.Request.Context(), c.Param("id"))
	h.reply(c, s, err)
}

func (h *ReferenceDataHandler) GetCounterparty(c *gin.Context) {
	cp, err := h.app.GetCounterparty(c.Request.Context(), c.Param("id"))
	h.reply(c, cp, err)
}

func (h *ReferenceDataHandler) GetAggregationUnit(c *gin.Context) {
	au, err := h.app.GetAggregationUnit(c.Request.Context(), c.Param("id"))
	h.reply(c, au, err)
}

func (h *ReferenceDataHandler) PutSecurity(c *gin.Context) {
	var req SecurityRequest
	if !h.bind(c, &req) {
		return
	}
	sec := &domain.Security{
		SecurityID:  c.Param("id"),
		Symbol:      req.Symbol,
		Market:      req.Market,
		Active:      req.Active,
		Temperature: domain.Temperature(req.Temperature),
		BorrowRate:  req.BorrowRate,
	}
	h.reply(c, sec, h.app.SaveSecurity(c.Request.Context(), sec))
}

func (h *ReferenceDataHandler) PutCounterparty(c *gin.Context) {
	var req CounterpartyRequest
	if !h.bind(c, &req) {
		return
	}
	cp := &domain.Counterparty{
		CounterpartyID: c.Param("id"),
		Name:           req.Name,
		Active:         req.Active,
		LocateEligible: req.LocateEligible,
	}
	h.reply(c, cp, h.app.SaveCounterparty(c.Request.Context(), cp))
}

func (h *ReferenceDataHandler) PutAggregationUnit(c *gin.Context) {
	var req AggregationUnitRequest
	if !h.bind(c, &req) {
		return
	}
	au := &domain.AggregationUnit{
		AggregationUnitID: c.Param("id"),
		Name:              req.Name,
		Market:            req.Market,
		Active:            req.Active,
	}
	h.reply(c, au, h.app.SaveAggregationUnit(c.Request.Context(), au))
}

func (h *ReferenceDataHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

func (h *ReferenceDataHandler) reply(c *gin.Context, data any, err error) {
	switch {
	case err == nil:
		response.Success(c, data)
	case errors.Is(err, domain.ErrNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "not found", c.Param("id"))
	default:
		logger.Error(c.Request.Context(), "reference data request failed", "id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
	}
}
