package whiteboard

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/go-pdf/fpdf"
)

// ExportPDF 把 PNG 快照嵌入一页横向 A4 文档：宽度占满页面，高度按比例缩放，超出时改为按高度适配。
func ExportPDF(pngData []byte, title string) ([]byte, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("Mind Namo", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	w := pageW
	h := float64(cfg.Height) * w / float64(cfg.Width)
	if h > pageH {
		h = pageH
		w = float64(cfg.Width) * h / float64(cfg.Height)
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("whiteboard", opts, bytes.NewReader(pngData))
	pdf.ImageOptions("whiteboard", 0, 0, w, h, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
