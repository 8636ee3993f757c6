package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/repository"
	"mind-namo-go/internal/whiteboard"
	"mind-namo-go/pkg/tasks"
)

type memoryStore struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, name, contentType string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.objects[name] = data
	m.types[name] = contentType
	return "https://cdn.example.com/" + name, nil
}

type staticStrokes map[string][]protocol.Draw

func (s staticStrokes) Strokes(roomID string) ([]protocol.Draw, bool) {
	d, ok := s[roomID]
	return d, ok
}

func (f *fixture) appointment(t *testing.T, status string) *model.Appointment {
	t.Helper()
	appt := &model.Appointment{
		ID:              "appt-" + strings.ReplaceAll(t.Name(), "/", "-"),
		UserID:          alice.ID,
		ExpertID:        bob.ID,
		UserName:        alice.Name,
		UserEmail:       "alice@example.com",
		ExpertName:      bob.Name,
		AppointmentDate: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		Status:          status,
	}
	require.NoError(t, repository.NewAppointmentRepository(f.db).Create(context.Background(), appt))
	return appt
}

func TestAuthorizeRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.appointment(t, "confirmed")
	svc := NewWhiteboardService(repository.NewAppointmentRepository(f.db), staticStrokes{}, newMemoryStore(), nil)

	assert.NoError(t, svc.AuthorizeRoom(ctx, alice, appt.ID))
	assert.NoError(t, svc.AuthorizeRoom(ctx, bob, appt.ID))
	assert.Equal(t, CodeNotFound, ErrorCode(svc.AuthorizeRoom(ctx, eve, appt.ID)))
	impostor := model.Party{ID: alice.ID, Role: model.RoleExpert}
	assert.Equal(t, CodeForbidden, ErrorCode(svc.AuthorizeRoom(ctx, impostor, appt.ID)), "角色不符")

	cancelled := model.Appointment{
		ID: "appt-cancelled", UserID: alice.ID, ExpertID: bob.ID,
		UserName: alice.Name, UserEmail: "a@example.com", ExpertName: bob.Name, Status: appointmentCancelled,
	}
	require.NoError(t, repository.NewAppointmentRepository(f.db).Create(ctx, &cancelled))
	assert.Equal(t, CodeForbidden, ErrorCode(svc.AuthorizeRoom(ctx, alice, cancelled.ID)), "已取消的预约")
}

func TestExportFromSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.appointment(t, "confirmed")
	store := newMemoryStore()
	appts := repository.NewAppointmentRepository(f.db)
	svc := NewWhiteboardService(appts, staticStrokes{}, store, f.publisher)

	png, err := whiteboard.NewCanvas(40, 30).EncodePNG()
	require.NoError(t, err)
	out, err := svc.Export(ctx, bob, appt.ID, whiteboard.EncodeDataURL(png))
	require.NoError(t, err)

	name := "whiteboards/" + appt.ID + ".pdf"
	require.Contains(t, store.objects, name)
	assert.True(t, bytes.HasPrefix(store.objects[name], []byte("%PDF")))
	assert.Equal(t, "application/pdf", store.types[name])

	want := "https://cdn.example.com/" + name
	require.NotNil(t, out.WhiteboardURL)
	assert.Equal(t, want, *out.WhiteboardURL)
	saved, err := appts.FindByIDForParty(ctx, appt.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, saved.WhiteboardURL)
	assert.Equal(t, want, *saved.WhiteboardURL)
	assert.Equal(t, []string{tasks.TypeWhiteboardReady}, f.publisher.types())
}

func TestExportFallsBackToStrokeLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.appointment(t, "confirmed")
	store := newMemoryStore()
	strokes := staticStrokes{appt.ID: {{X0: 0.1, Y0: 0.1, X1: 0.9, Y1: 0.9, Color: "#ff0000", Width: 4, RoomID: appt.ID}}}
	svc := NewWhiteboardService(repository.NewAppointmentRepository(f.db), strokes, store, nil)

	_, err := svc.Export(ctx, alice, appt.ID, "")
	require.NoError(t, err)
	assert.Contains(t, store.objects, "whiteboards/"+appt.ID+".pdf")
}

func TestExportErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.appointment(t, "confirmed")
	store := newMemoryStore()
	svc := NewWhiteboardService(repository.NewAppointmentRepository(f.db), staticStrokes{}, store, nil)

	_, err := svc.Export(ctx, alice, appt.ID, "")
	assert.Equal(t, CodeInvalidInput, ErrorCode(err), "没有快照也没有进行中的房间")
	_, err = svc.Export(ctx, alice, appt.ID, "not-a-data-url")
	assert.Equal(t, CodeInvalidInput, ErrorCode(err))
	_, err = svc.Export(ctx, eve, appt.ID, "")
	assert.Equal(t, CodeNotFound, ErrorCode(err))

	store.err = errors.New("bucket offline")
	png, _ := whiteboard.NewCanvas(10, 10).EncodePNG()
	_, err = svc.Export(ctx, alice, appt.ID, whiteboard.EncodeDataURL(png))
	assert.Equal(t, CodeInternal, ErrorCode(err))
}

func TestUploadAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := newMemoryStore()
	svc := NewUploadService(repository.NewUploadRepository(f.db), store)

	rec, err := svc.Upload(ctx, alice, "scan.PDF", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, model.KindDocument, rec.Kind)
	assert.Equal(t, "application/pdf", rec.MimeType)
	assert.EqualValues(t, 8, rec.Size)
	assert.True(t, strings.HasPrefix(rec.ObjectName, "attachments/"+alice.ID+"/"), rec.ObjectName)
	assert.True(t, strings.HasSuffix(rec.ObjectName, ".pdf"), rec.ObjectName)
	assert.Equal(t, "https://cdn.example.com/"+rec.ObjectName, rec.URL)
	content, err := model.NewContent(rec.Kind, rec.URL)
	require.NoError(t, err)
	assert.NoError(t, model.ValidateContent(content), "上传地址应是合法的消息内容")

	list, err := svc.ListUploads(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	_, err = svc.Upload(ctx, alice, "run.exe", []byte("MZ"))
	assert.Equal(t, CodeInvalidInput, ErrorCode(err))
	_, err = svc.Upload(ctx, alice, "empty.png", nil)
	assert.Equal(t, CodeInvalidInput, ErrorCode(err))
	assert.NotEmpty(t, svc.SupportedFileTypes()[string(model.KindAudio)])
}
