package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/service"
)

// MaxExportBodySize 是导出请求体的上限，快照以 base64 data URL 形式内联。
const MaxExportBodySize = 8 * 1024 * 1024

// WhiteboardHandler 处理白板导出请求。
type WhiteboardHandler struct {
	service service.WhiteboardService
}

// NewWhiteboardHandler 创建一个新的 WhiteboardHandler。
func NewWhiteboardHandler(service service.WhiteboardService) *WhiteboardHandler {
	return &WhiteboardHandler{service: service}
}

// ExportRequest 是白板导出的请求体，Snapshot 为可选的 PNG data URL。
type ExportRequest struct {
	Snapshot string `json:"snapshot"`
}

// Export 把预约的白板导出为 PDF 并返回其地址。
func (h *WhiteboardHandler) Export(c *gin.Context) {
	actor, exists := party(c)
	if !exists {
		return
	}
	var req ExportRequest
	if c.Request.ContentLength != 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxExportBodySize)
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": http.StatusRequestEntityTooLarge, "message": "快照过大", "data": nil})
				return
			}
			badRequest(c, "无效的请求负载")
			return
		}
	}
	appt, err := h.service.Export(c.Request.Context(), actor, c.Param("id"), req.Snapshot)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"appointmentId": appt.ID, "whiteboardUrl": appt.WhiteboardURL})
}
