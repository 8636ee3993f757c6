// Package apiclient 是 HTTP API 的客户端，供聊天客户端拉取历史和上传附件。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"mind-namo-go/internal/model"
	"mind-namo-go/pkg/log"
)

// Client 使用同一个 access token 调用 /api/v1 下的接口。
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient 创建一个新的 API 客户端，baseURL 例如 http://127.0.0.1:8081。
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// envelope 是服务端统一的响应结构。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// StatusError 表示服务端返回了非 200 状态码。
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("调用 API 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取 API 响应失败: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("解析 API 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		log.Warnf("[APIClient] %s %s 返回 %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
		return &StatusError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	return c.do(req, out)
}

// Conversations 返回当前参与方的会话列表。
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := c.get(ctx, "/api/v1/conversations", &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation 发起或取回与 expertID 的会话，只有用户可以调用。
func (c *Client) CreateConversation(ctx context.Context, expertID string) (*model.Conversation, error) {
	body, err := json.Marshal(map[string]string{"expertId": expertID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/conversations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var conv model.Conversation
	if err := c.do(req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// History 拉取会话的完整历史。
func (c *Client) History(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.get(ctx, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Search 在会话内做全文检索。
func (c *Client) Search(ctx context.Context, conversationID, query string) ([]model.MessageSearchHit, error) {
	var hits []model.MessageSearchHit
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/search?q=" + url.QueryEscape(query)
	if err := c.get(ctx, path, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// Upload 以 multipart 表单上传附件，返回可作为消息内容发送的地址。
func (c *Client) Upload(ctx context.Context, fileName string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(fileName))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/uploads", &buf)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload response has no url")
	}
	return out.URL, nil
}

// RelayURL 返回携带令牌的 WebSocket 地址。
func (c *Client) RelayURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/relay/" + url.PathEscape(c.token)
}
