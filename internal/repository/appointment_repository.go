package repository

import (
	"context"

	"gorm.io/gorm"
	"mind-namo-go/internal/model"
)

// AppointmentRepository 定义了预约记录的操作接口。
type AppointmentRepository interface {
	Create(ctx context.Context, appt *model.Appointment) error
	FindByIDForParty(ctx context.Context, id, partyID string) (*model.Appointment, error)
	SetWhiteboardURL(ctx context.Context, id, url string) error
}

type appointmentRepository struct {
	db *gorm.DB
}

// NewAppointmentRepository 创建一个新的 AppointmentRepository 实例。
func NewAppointmentRepository(db *gorm.DB) AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	return r.db.WithContext(ctx).Create(appt).Error
}

// FindByIDForParty 查找属于 partyID 的预约，不属于时返回 gorm.ErrRecordNotFound。
func (r *appointmentRepository) FindByIDForParty(ctx context.Context, id, partyID string) (*model.Appointment, error) {
	var appt model.Appointment
	err := r.db.WithContext(ctx).
		Where("id = ? AND (user_id = ? OR expert_id = ?)", id, partyID, partyID).
		First(&appt).Error
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

// SetWhiteboardURL 保存会话白板导出文件的地址。
func (r *appointmentRepository) SetWhiteboardURL(ctx context.Context, id, url string) error {
	res := r.db.WithContext(ctx).Model(&model.Appointment{}).
		Where("id = ?", id).
		Update("whiteboard_url", url)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
