package response

import (
	"net/http"

	"HibiscusSOS/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Body 统一响应结构
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

// Fail 失败响应（固定 400）
func Fail(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusBadRequest, Body{Code: 1, Message: message, Data: data})
}

// FromError 按错误分类码映射 HTTP 状态码返回
func FromError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	c.JSON(status, Body{Code: int(errors.GetCode(err)), Message: errors.GetMessage(err)})
}
