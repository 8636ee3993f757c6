package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/repository"
	"mind-namo-go/internal/whiteboard"
	"mind-namo-go/pkg/log"
	"mind-namo-go/pkg/tasks"
)

// 服务端重放笔画时使用的画布尺寸。
const (
	exportWidth  = 1600
	exportHeight = 900
)

const appointmentCancelled = "cancelled"

// StrokeSource 提供进行中视频房间自上次清屏以来的笔画。
type StrokeSource interface {
	Strokes(roomID string) ([]protocol.Draw, bool)
}

// WhiteboardService 负责视频房间的准入校验和白板导出。房间号即预约 ID。
type WhiteboardService interface {
	AuthorizeRoom(ctx context.Context, actor model.Party, roomID string) error
	Export(ctx context.Context, actor model.Party, appointmentID, snapshot string) (*model.Appointment, error)
}

type whiteboardService struct {
	appointments repository.AppointmentRepository
	strokes      StrokeSource
	store        ObjectStore
	publisher    TaskPublisher
}

// NewWhiteboardService 创建一个新的 WhiteboardService 实例。publisher 可以为 nil。
func NewWhiteboardService(appointments repository.AppointmentRepository, strokes StrokeSource, store ObjectStore, publisher TaskPublisher) WhiteboardService {
	return &whiteboardService{appointments: appointments, strokes: strokes, store: store, publisher: publisher}
}

func (s *whiteboardService) loadAppointment(ctx context.Context, actor model.Party, id string) (*model.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError(CodeInvalidInput, "appointment id is required")
	}
	appt, err := s.appointments.FindByIDForParty(ctx, id, actor.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "appointment not found")
		}
		return nil, internalError("failed to load appointment", err)
	}
	return appt, nil
}

// AuthorizeRoom 只允许预约的双方以各自的角色进入未取消预约的房间。
func (s *whiteboardService) AuthorizeRoom(ctx context.Context, actor model.Party, roomID string) error {
	appt, err := s.loadAppointment(ctx, actor, roomID)
	if err != nil {
		return err
	}
	if (actor.ID == appt.UserID && actor.Role != model.RoleUser) ||
		(actor.ID == appt.ExpertID && actor.Role != model.RoleExpert) {
		return newError(CodeForbidden, "role does not match appointment")
	}
	if appt.Status == appointmentCancelled {
		return newError(CodeForbidden, "appointment is cancelled")
	}
	return nil
}

// Export 把白板导出为 PDF 并保存到预约上。snapshot 为空时用房间的笔画记录在服务端重绘。
func (s *whiteboardService) Export(ctx context.Context, actor model.Party, appointmentID, snapshot string) (*model.Appointment, error) {
	appt, err := s.loadAppointment(ctx, actor, appointmentID)
	if err != nil {
		return nil, err
	}

	var pngData []byte
	if snapshot != "" {
		pngData, err = whiteboard.DecodeDataURLBytes(snapshot)
		if err != nil {
			return nil, &AppError{Code: CodeInvalidInput, Message: "snapshot must be a base64 PNG data url", Err: err}
		}
	} else {
		strokes, ok := s.strokes.Strokes(appt.ID)
		if !ok {
			return nil, newError(CodeInvalidInput, "snapshot is required when no session is active")
		}
		pngData, err = whiteboard.Render(exportWidth, exportHeight, strokes).EncodePNG()
		if err != nil {
			return nil, internalError("failed to render whiteboard", err)
		}
	}

	title := fmt.Sprintf("Whiteboard - %s with %s", appt.UserName, appt.ExpertName)
	pdfData, err := whiteboard.ExportPDF(pngData, title)
	if err != nil {
		return nil, &AppError{Code: CodeInvalidInput, Message: "snapshot is not a valid PNG", Err: err}
	}

	url, err := s.store.Put(ctx, fmt.Sprintf("whiteboards/%s.pdf", appt.ID), "application/pdf", pdfData)
	if err != nil {
		return nil, internalError("failed to store whiteboard", err)
	}
	if err := s.appointments.SetWhiteboardURL(ctx, appt.ID, url); err != nil {
		return nil, internalError("failed to save whiteboard url", err)
	}
	appt.WhiteboardURL = &url
	log.Infof("[WhiteboardService] 预约 %s 白板已导出, size: %d", appt.ID, len(pdfData))

	if s.publisher != nil {
		task := tasks.NewWhiteboardReady(tasks.WhiteboardPayload{
			AppointmentID: appt.ID,
			UserName:      appt.UserName,
			UserEmail:     appt.UserEmail,
			ExpertName:    appt.ExpertName,
			URL:           url,
		})
		if err := s.publisher.Publish(ctx, task); err != nil {
			log.Errorf("[WhiteboardService] 投递白板通知失败: %v", err)
		}
	}
	return appt, nil
}
