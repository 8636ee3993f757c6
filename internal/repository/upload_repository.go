package repository

import (
	"context"

	"gorm.io/gorm"
	"mind-namo-go/internal/model"
)

// UploadRepository 定义了附件上传记录的持久化操作。
type UploadRepository interface {
	CreateAttachment(ctx context.Context, record *model.Attachment) error
	FindAttachmentsByUploader(ctx context.Context, uploaderID string) ([]model.Attachment, error)
}

type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository 创建一个新的 UploadRepository 实例。
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

// CreateAttachment 在数据库中创建一条附件记录。
func (r *uploadRepository) CreateAttachment(ctx context.Context, record *model.Attachment) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindAttachmentsByUploader 按上传时间倒序返回参与方上传过的附件。
func (r *uploadRepository) FindAttachmentsByUploader(ctx context.Context, uploaderID string) ([]model.Attachment, error) {
	var records []model.Attachment
	err := r.db.WithContext(ctx).
		Where("uploader_id = ?", uploaderID).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}
