package model

import "time"

// Attachment 记录一次聊天附件上传（图片、语音、文档）。
type Attachment struct {
	ID         string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	UploaderID string      `gorm:"type:varchar(64);not null;index" json:"uploaderId"`
	ObjectName string      `gorm:"type:varchar(255);not null" json:"objectName"`
	FileName   string      `gorm:"type:varchar(255);not null" json:"fileName"`
	Kind       ContentKind `gorm:"type:varchar(16);not null" json:"contentType"`
	MimeType   string      `gorm:"type:varchar(128)" json:"mimeType"`
	Size       int64       `gorm:"not null" json:"size"`
	URL        string      `gorm:"type:varchar(1024);not null" json:"url"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Attachment) TableName() string {
	return "attachments"
}
