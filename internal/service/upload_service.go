// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/repository"
	"mind-namo-go/pkg/log"
)

// MaxAttachmentSize 是单个聊天附件的大小上限 (20MB)。
const MaxAttachmentSize = 20 * 1024 * 1024

// ObjectStore 是对象存储，Put 返回可供客户端访问的地址。
type ObjectStore interface {
	Put(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

type fileType struct {
	kind     model.ContentKind
	mimeType string
}

// attachmentTypes 是允许作为聊天附件上传的扩展名。
var attachmentTypes = map[string]fileType{
	".png":  {model.KindImage, "image/png"},
	".jpg":  {model.KindImage, "image/jpeg"},
	".jpeg": {model.KindImage, "image/jpeg"},
	".gif":  {model.KindImage, "image/gif"},
	".webp": {model.KindImage, "image/webp"},
	".mp3":  {model.KindAudio, "audio/mpeg"},
	".m4a":  {model.KindAudio, "audio/mp4"},
	".ogg":  {model.KindAudio, "audio/ogg"},
	".wav":  {model.KindAudio, "audio/wav"},
	".webm": {model.KindAudio, "audio/webm"},
	".pdf":  {model.KindDocument, "application/pdf"},
}

// UploadService 接口定义了聊天附件上传相关的业务操作。
type UploadService interface {
	Upload(ctx context.Context, actor model.Party, fileName string, data []byte) (*model.Attachment, error)
	ListUploads(ctx context.Context, actor model.Party) ([]model.Attachment, error)
	SupportedFileTypes() map[string][]string
}

type uploadService struct {
	uploadRepo repository.UploadRepository
	store      ObjectStore
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(uploadRepo repository.UploadRepository, store ObjectStore) UploadService {
	return &uploadService{uploadRepo: uploadRepo, store: store}
}

// Upload 把附件写入对象存储并记录上传，返回的 URL 可直接作为消息内容发送。
func (s *uploadService) Upload(ctx context.Context, actor model.Party, fileName string, data []byte) (*model.Attachment, error) {
	ft, ok := detectFileType(fileName)
	if !ok {
		return nil, newError(CodeInvalidInput, "unsupported attachment type")
	}
	if len(data) == 0 {
		return nil, newError(CodeInvalidInput, "attachment is empty")
	}
	if len(data) > MaxAttachmentSize {
		return nil, newError(CodeInvalidInput, "attachment is too large")
	}

	id := uuid.NewString()
	objectName := fmt.Sprintf("attachments/%s/%s%s", actor.ID, id, strings.ToLower(path.Ext(fileName)))
	log.Infof("[UploadService] 上传附件, party: %s, file: %s, size: %d", actor.ID, fileName, len(data))
	url, err := s.store.Put(ctx, objectName, ft.mimeType, data)
	if err != nil {
		return nil, internalError("failed to store attachment", err)
	}

	record := &model.Attachment{
		ID:         id,
		UploaderID: actor.ID,
		ObjectName: objectName,
		FileName:   path.Base(fileName),
		Kind:       ft.kind,
		MimeType:   ft.mimeType,
		Size:       int64(len(data)),
		URL:        url,
	}
	if err := s.uploadRepo.CreateAttachment(ctx, record); err != nil {
		return nil, internalError("failed to record attachment", err)
	}
	return record, nil
}

func (s *uploadService) ListUploads(ctx context.Context, actor model.Party) ([]model.Attachment, error) {
	records, err := s.uploadRepo.FindAttachmentsByUploader(ctx, actor.ID)
	if err != nil {
		return nil, internalError("failed to list attachments", err)
	}
	return records, nil
}

// SupportedFileTypes 按内容类型返回允许的扩展名。
func (s *uploadService) SupportedFileTypes() map[string][]string {
	out := make(map[string][]string)
	for ext, ft := range attachmentTypes {
		out[string(ft.kind)] = append(out[string(ft.kind)], ext)
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}

// detectFileType 根据扩展名推断附件类型。
func detectFileType(fileName string) (fileType, bool) {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	ft, ok := attachmentTypes[ext]
	return ft, ok
}
