package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"situation-room/internal/service"
)

// ReportHandler 提供报告读取接口
type ReportHandler struct {
	reportService *service.ReportService
}

func NewReportHandler(reportService *service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// GetReport 原样返回存储的报告字节，保证重复读取的响应完全一致
func (h *ReportHandler) GetReport(c *gin.Context) {
	payload, err := h.reportService.GetReport(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}
