package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/wyfcoding/securitieslending/internal/decision"
	"github.com/wyfcoding/securitieslending/internal/locate/application"
	"github.com/wyfcoding/securitieslending/internal/locate/domain"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

// LocateHandler 借券申请 HTTP 接口
type LocateHandler struct {
	engine   *application.Engine
	validate *validator.Validate
}

func NewLocateHandler(engine *application.Engine) *LocateHandler {
	return &LocateHandler{engine: engine, validate: validator.New()}
}

func (h *LocateHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/locates")
	{
		api.POST("", h.Submit)
		api.GET("/:id", h.Get)
		api.POST("/:id/approve", h.Approve)
		api.POST("/:id/cancel", h.Cancel)
	}
}

// ApproveResponse 审批结果与编排层输出变量
type ApproveResponse struct {
	Request *domain.LocateRequest `json:"request"`
	Outputs domain.Outputs        `json:"outputs"`
}

// Submit 提交借券申请；query approve=true 时提交后立即审批
func (h *LocateHandler) Submit(c *gin.Context) {
	var cmd application.SubmitLocateCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(cmd); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	req, err := h.engine.Submit(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	if c.Query("approve") != "true" {
		response.Success(c, req)
		return
	}
	h.approve(c, req.RequestID)
}

func (h *LocateHandler) Approve(c *gin.Context) {
	h.approve(c, c.Param("id"))
}

func (h *LocateHandler) approve(c *gin.Context, id string) {
	out, err := h.engine.Approve(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, ApproveResponse{Request: out.Request, Outputs: out.Outputs()})
}

func (h *LocateHandler) Cancel(c *gin.Context) {
	req, err := h.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, req)
}

func (h *LocateHandler) Get(c *gin.Context) {
	req, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, req)
}

func (h *LocateHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrLocateNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "locate not found", c.Param("id"))
	case decision.IsStateError(err):
		response.ErrorWithStatus(c, http.StatusConflict, "STATE_ERROR", err.Error())
	default:
		logger.Error(c.Request.Context(), "locate request failed", "id", c.Param("id"), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, string(decision.ReasonInternalError), err.Error())
	}
}
