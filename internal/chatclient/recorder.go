package chatclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"mind-namo-go/internal/model"
	"mind-namo-go/pkg/log"
)

var (
	// ErrMicrophoneUnavailable 表示无法打开麦克风，不会降级为其他方式。
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	// ErrNotRecording 表示当前没有进行中的录音。
	ErrNotRecording = errors.New("not recording")
	// ErrAlreadyRecording 表示已经在录音。
	ErrAlreadyRecording = errors.New("already recording")
	// ErrEmptyRecording 表示录音没有采集到数据。
	ErrEmptyRecording = errors.New("recording is empty")
)

// AudioDevice 是麦克风。采集到的数据通过 onData 交给录音器。
type AudioDevice interface {
	Start(ctx context.Context, onData func([]byte)) error
	// Release 停止采集并释放设备，可重复调用。
	Release()
}

// Recorder 录制语音消息，Stop 后作为音频附件发送。
type Recorder struct {
	session  *Session
	device   AudioDevice
	fileName string

	mu        sync.Mutex
	recording bool
	buf       bytes.Buffer
}

// NewRecorder 创建一个录音器，fileName 决定上传时的扩展名，默认 voice.webm。
func NewRecorder(session *Session, device AudioDevice, fileName string) *Recorder {
	if fileName == "" {
		fileName = "voice.webm"
	}
	return &Recorder{session: session, device: device, fileName: fileName}
}

// Recording 表示是否正在录音。
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start 打开麦克风开始录音。
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.recording = true
	r.buf.Reset()
	r.mu.Unlock()

	if err := r.device.Start(ctx, r.write); err != nil {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		r.device.Release()
		log.Warnf("[Recorder] 打开麦克风失败: %v", err)
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	return nil
}

func (r *Recorder) write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.buf.Write(p)
	}
}

// finish 结束录音并释放设备，返回已采集的数据。
func (r *Recorder) finish() ([]byte, bool) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, false
	}
	r.recording = false
	data := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()
	r.mu.Unlock()
	r.device.Release()
	return data, true
}

// Cancel 中途取消录音：丢弃已采集的数据并释放麦克风。没有录音时为空操作。
func (r *Recorder) Cancel() {
	if data, ok := r.finish(); ok {
		log.Debugf("[Recorder] 录音已取消, 丢弃 %d 字节", len(data))
	}
}

// Stop 结束录音并把语音作为附件发送到当前会话。
func (r *Recorder) Stop(ctx context.Context) (model.Message, error) {
	data, ok := r.finish()
	if !ok {
		return model.Message{}, ErrNotRecording
	}
	if len(data) == 0 {
		return model.Message{}, ErrEmptyRecording
	}
	return r.session.SendAttachment(ctx, model.KindAudio, r.fileName, data, "blob:"+uuid.NewString())
}
