package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"situation-room/internal/service"
)

// 错误响应中的 code 字段
const (
	CodeInvalidInput     = "InvalidInput"
	CodeTooLong          = "TooLong"
	CodeNotFound         = "NotFound"
	CodeNotAMember       = "NotAMember"
	CodeNotOwner         = "NotOwner"
	CodeInvalidState     = "InvalidState"
	CodeAlreadyMember    = "AlreadyMember"
	CodeRoomFull         = "RoomFull"
	CodeAlreadySubmitted = "AlreadySubmitted"
	CodeNotReady         = "NotReady"
	CodeAnalysisFailed   = "AnalysisFailed"
	CodeCodeExhausted    = "CodeExhausted"
	CodeRateLimited      = "RateLimited"
	CodeInternal         = "Internal"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var serviceErrors = []errorMapping{
	{service.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
	{service.ErrTooLong, http.StatusBadRequest, CodeTooLong},
	{service.ErrNotAMember, http.StatusForbidden, CodeNotAMember},
	{service.ErrNotOwner, http.StatusForbidden, CodeNotOwner},
	{service.ErrRoomNotFound, http.StatusNotFound, CodeNotFound},
	{service.ErrRoomFull, http.StatusConflict, CodeRoomFull},
	{service.ErrAlreadyMember, http.StatusConflict, CodeAlreadyMember},
	{service.ErrInvalidState, http.StatusConflict, CodeInvalidState},
	{service.ErrAlreadySubmitted, http.StatusConflict, CodeAlreadySubmitted},
	{service.ErrNotReady, http.StatusTooEarly, CodeNotReady},
	{service.ErrAnalysisFailed, http.StatusBadGateway, CodeAnalysisFailed},
	{service.ErrCodeExhausted, http.StatusInternalServerError, CodeCodeExhausted},
}

// HandleServiceError 把业务错误映射为 HTTP 状态码和错误码
func HandleServiceError(c *gin.Context, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			ErrorResponse(c, m.status, m.code, err.Error())
			return
		}
	}
	// Log the internal error for debugging
	logrus.WithError(err).Error("Unhandled internal server error")
	ErrorResponse(c, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
}
