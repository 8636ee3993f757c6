// Package whiteboard 实现了共享白板的栅格化、状态同步和导出。
package whiteboard

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"mind-namo-go/internal/protocol"
)

// Canvas 是一块白底的栅格画布。所有笔画坐标按画布当前尺寸换算。
type Canvas struct {
	mu sync.Mutex
	dc *gg.Context
}

// NewCanvas 创建一块 w x h 的空白画布。
func NewCanvas(w, h int) *Canvas {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	c := &Canvas{dc: gg.NewContext(w, h)}
	c.fill()
	return c
}

func (c *Canvas) fill() {
	c.dc.SetHexColor(protocol.BackgroundColor)
	c.dc.Clear()
}

// Size 返回画布的像素尺寸。
func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.Width(), c.dc.Height()
}

// Draw 画一段笔画，d 必须已经 Normalize。
func (c *Canvas) Draw(d protocol.Draw) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x0, y0, x1, y1 := d.Scale(float64(c.dc.Width()), float64(c.dc.Height()))
	c.dc.SetHexColor(d.Color)
	c.dc.SetLineWidth(d.Width)
	c.dc.SetLineCapRound()
	c.dc.DrawLine(x0, y0, x1, y1)
	c.dc.Stroke()
}

// Clear 把整块画布重置为背景色。
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fill()
}

// Paint 把 img 拉伸铺满整块画布，用于应用对方发来的快照。
func (c *Canvas) Paint(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paintLocked(img)
}

func (c *Canvas) paintLocked(img image.Image) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return
	}
	c.fill()
	c.dc.Push()
	c.dc.Scale(float64(c.dc.Width())/float64(b.Dx()), float64(c.dc.Height())/float64(b.Dy()))
	c.dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	c.dc.Pop()
}

// Resize 改变画布尺寸，已有内容按比例缩放保留。
func (c *Canvas) Resize(w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w <= 0 || h <= 0 || (w == c.dc.Width() && h == c.dc.Height()) {
		return
	}
	old := c.snapshotLocked()
	c.dc = gg.NewContext(w, h)
	c.paintLocked(old)
}

// Image 返回画布内容的副本。
func (c *Canvas) Image() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Canvas) snapshotLocked() *image.RGBA {
	src := c.dc.Image()
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// EncodePNG 把画布编码为 PNG。
func (c *Canvas) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL 把画布编码为 PNG data URL。
func (c *Canvas) DataURL() (string, error) {
	data, err := c.EncodePNG()
	if err != nil {
		return "", err
	}
	return EncodeDataURL(data), nil
}

// Render 在 w x h 画布上按顺序重放笔画。
func Render(w, h int, strokes []protocol.Draw) *Canvas {
	c := NewCanvas(w, h)
	for _, s := range strokes {
		c.Draw(s)
	}
	return c
}

// EncodeDataURL 把 PNG 数据编码为 data URL。
func EncodeDataURL(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}

// ErrNotDataURL 表示字符串不是 base64 编码的图片 data URL。
var ErrNotDataURL = errors.New("not a base64 image data url")

// DecodeDataURLBytes 返回 data URL 中的原始图片字节。
func DecodeDataURLBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "data:image/") {
		return nil, ErrNotDataURL
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
		return nil, ErrNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(s[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return data, nil
}

// DecodeDataURL 解码 PNG 或 JPEG data URL。
func DecodeDataURL(s string) (image.Image, error) {
	data, err := DecodeDataURLBytes(s)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
