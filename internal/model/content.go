package model

import (
	"fmt"
	"net/url"
	"strings"
)

// ContentKind 是消息内容的类型标签。
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindAudio    ContentKind = "audio"
	KindDocument ContentKind = "document"
)

// legacyDocumentKind 是旧客户端使用的文档类型标签。
const legacyDocumentKind = "pdf"

// ParseContentKind 解析线上的类型标签，"pdf" 视为 document。
func ParseContentKind(s string) (ContentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(KindText):
		return KindText, nil
	case string(KindImage):
		return KindImage, nil
	case string(KindAudio):
		return KindAudio, nil
	case string(KindDocument), legacyDocumentKind:
		return KindDocument, nil
	default:
		return "", fmt.Errorf("unknown content type %q", s)
	}
}

// Content 是消息负载的带标签联合体。只有本包内的类型可以实现它。
type Content interface {
	Kind() ContentKind
	Raw() string
	sealed()
}

// TextContent 纯文本消息。
type TextContent struct{ Text string }

// ImageContent 指向带外存储图片的消息。
type ImageContent struct{ URL string }

// AudioContent 指向带外存储语音的消息。
type AudioContent struct{ URL string }

// DocumentContent 指向带外存储文档（PDF）的消息。
type DocumentContent struct{ URL string }

func (TextContent) Kind() ContentKind     { return KindText }
func (ImageContent) Kind() ContentKind    { return KindImage }
func (AudioContent) Kind() ContentKind    { return KindAudio }
func (DocumentContent) Kind() ContentKind { return KindDocument }

func (c TextContent) Raw() string     { return c.Text }
func (c ImageContent) Raw() string    { return c.URL }
func (c AudioContent) Raw() string    { return c.URL }
func (c DocumentContent) Raw() string { return c.URL }

func (TextContent) sealed()     {}
func (ImageContent) sealed()    {}
func (AudioContent) sealed()    {}
func (DocumentContent) sealed() {}

// NewContent 根据类型标签和原始字符串构造内容。
func NewContent(kind ContentKind, raw string) (Content, error) {
	switch kind {
	case KindText:
		return TextContent{Text: raw}, nil
	case KindImage:
		return ImageContent{URL: raw}, nil
	case KindAudio:
		return AudioContent{URL: raw}, nil
	case KindDocument:
		return DocumentContent{URL: raw}, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", kind)
	}
}

// ValidateContent 校验发送到服务端的内容：文本不能为空，媒体必须是 http(s) URL。
func ValidateContent(c Content) error {
	switch v := c.(type) {
	case TextContent:
		if strings.TrimSpace(v.Text) == "" {
			return fmt.Errorf("text content is empty")
		}
		return nil
	case ImageContent:
		return validateMediaURL(v.URL)
	case AudioContent:
		return validateMediaURL(v.URL)
	case DocumentContent:
		return validateMediaURL(v.URL)
	default:
		return fmt.Errorf("unsupported content %T", c)
	}
}

func validateMediaURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid media url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("media url must be http(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("media url has no host")
	}
	return nil
}

// PreviewText 返回会话列表中显示的最后一条消息预览。
// sending 为 true 时返回“发送中”的文案。
func PreviewText(c Content, sending bool) string {
	switch v := c.(type) {
	case TextContent:
		return v.Text
	case ImageContent:
		if sending {
			return "📷 Sending Image..."
		}
		return "📷 Image"
	case AudioContent:
		if sending {
			return "🎤 Sending Audio..."
		}
		return "🎤 Audio Message"
	case DocumentContent:
		if sending {
			return "📄 Sending File..."
		}
		return "📄 Document"
	default:
		return ""
	}
}
