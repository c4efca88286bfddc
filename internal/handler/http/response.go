package http

import "github.com/gin-gonic/gin"

// ErrorBody 是所有错误响应的统一结构
type ErrorBody struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func ErrorResponse(c *gin.Context, status int, code, info string) {
	c.AbortWithStatusJSON(status, ErrorBody{Code: code, Info: info})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}
