package model

import "time"

// Appointment 是用户与专家之间的一次预约，视频会话以其 ID 作为房间号。
type Appointment struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"_id"`
	UserID          string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	ExpertID        string    `gorm:"type:varchar(64);not null;index" json:"expertId"`
	UserName        string    `gorm:"type:varchar(255);not null" json:"userName"`
	UserEmail       string    `gorm:"type:varchar(255);not null" json:"userEmail"`
	ExpertName      string    `gorm:"type:varchar(255);not null" json:"expertName"`
	ServiceName     string    `gorm:"type:varchar(255)" json:"serviceName"`
	AppointmentType string    `gorm:"type:varchar(32)" json:"appointmentType"`
	AppointmentDate time.Time `gorm:"index" json:"appointmentDate"`
	Status          string    `gorm:"type:varchar(16);not null;default:confirmed" json:"status"`
	WhiteboardURL   *string   `gorm:"type:varchar(1024)" json:"whiteboardUrl"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// HasParty 判断参与方是否属于该预约。
func (a *Appointment) HasParty(partyID string) bool {
	return a.UserID == partyID || a.ExpertID == partyID
}
