package handler

import (
	"io"

	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/service"
)

// UploadHandler 负责处理聊天附件上传的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 接收表单字段 file，返回可直接作为消息内容发送的地址。
func (h *UploadHandler) Upload(c *gin.Context) {
	actor, exists := party(c)
	if !exists {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "缺少文件")
		return
	}
	if fileHeader.Size > service.MaxAttachmentSize {
		badRequest(c, "文件过大")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "无法读取文件")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, service.MaxAttachmentSize+1))
	if err != nil {
		badRequest(c, "无法读取文件")
		return
	}

	record, err := h.uploadService.Upload(c.Request.Context(), actor, fileHeader.Filename, data)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"url": record.URL, "contentType": record.Kind, "id": record.ID})
}

// ListUploads 返回当前参与方上传过的附件。
func (h *UploadHandler) ListUploads(c *gin.Context) {
	actor, exists := party(c)
	if !exists {
		return
	}
	records, err := h.uploadService.ListUploads(c.Request.Context(), actor)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, records)
}

// GetSupportedFileTypes 返回允许上传的扩展名。
func (h *UploadHandler) GetSupportedFileTypes(c *gin.Context) {
	ok(c, h.uploadService.SupportedFileTypes())
}
