// Package response 统一 HTTP 响应包
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/securitieslending/pkg/logger"
)

// Body 响应体
type Body struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Success 200 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: "success", Data: data, RequestID: logger.RequestID(c.Request.Context())})
}

// ErrorWithStatus 指定状态码的错误响应
func ErrorWithStatus(c *gin.Context, status int, message, detail string) {
	c.JSON(status, Body{Code: status, Message: message, Detail: detail, RequestID: logger.RequestID(c.Request.Context())})
}
