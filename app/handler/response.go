package handler

import (
	"errors"
	"net/http"

	"os-downloads/app/store"

	"github.com/gin-gonic/gin"
)

// ApiResponse 统一的API响应格式
type ApiResponse struct {
	Code    int    `json:"code"`    // 状态码，0表示成功
	Message string `json:"message"` // 响应消息
	Data    any    `json:"data"`    // 响应数据
}

// 创建成功响应
func success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// 创建错误响应
func fail(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// failWithError 按错误类型选择 HTTP 状态码
func failWithError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		fail(c, http.StatusBadRequest, 400, message+": "+err.Error())
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, 404, message+": "+err.Error())
	default:
		fail(c, http.StatusInternalServerError, 500, message+": "+err.Error())
	}
}
