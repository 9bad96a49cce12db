package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/securitieslending/internal/rule/application"
	"github.com/wyfcoding/securitieslending/internal/rule/domain"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/response"
)

// RuleHandler 审批规则维护接口
type RuleHandler struct {
	app *application.RuleApplicationService
}

func NewRuleHandler(app *application.RuleApplicationService) *RuleHandler {
	return &RuleHandler{app: app}
}

func (h *RuleHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/rules")
	{
		api.GET("", h.ListRules)
		api.GET("/:id", h.GetRule)
		api.PUT("/:id", h.SaveRule)
	}
}

// ListRules 按类型列出规则
func (h *RuleHandler) ListRules(c *gin.Context) {
	ruleType := domain.RuleType(c.DefaultQuery("type", string(domain.RuleTypeLocateApproval)))
	rules, err := h.app.ListRules(c.Request.Context(), ruleType)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list rules", "type", ruleType, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, rules)
}

// GetRule 获取规则
func (h *RuleHandler) GetRule(c *gin.Context) {
	def, err := h.app.GetRule(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrRuleNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "rule not found", "")
		return
	}
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, def)
}

// SaveRule 新增或更新规则，编译失败返回 400
func (h *RuleHandler) SaveRule(c *gin.Context) {
	var def domain.RuleDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid rule body", err.Error())
		return
	}
	def.RuleID = c.Param("id")
	if err := h.app.SaveRule(c.Request.Context(), &def); err != nil {
		if errors.Is(err, domain.ErrInvalidRuleConfig) {
			response.ErrorWithStatus(c, http.StatusBadRequest, "invalid rule", err.Error())
			return
		}
		logger.Error(c.Request.Context(), "Failed to save rule", "rule_id", def.RuleID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, def)
}
