// chatcli 是一个终端聊天客户端，用于联调中继服务。
//
//	chatcli -server http://127.0.0.1:8081 -token <jwt> [-conversation <id> | -expert <id>]
//
// 输入普通文本即发送；以 / 开头的是命令，输入 /help 查看。
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"mind-namo-go/internal/chatclient"
	"mind-namo-go/internal/middleware"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/apiclient"
	"mind-namo-go/pkg/log"
	"mind-namo-go/pkg/relayclient"
	"mind-namo-go/pkg/token"
)

const helpText = `命令:
  /list                  会话列表
  /open <id>             打开会话
  /show                  显示当前会话
  /file <path>           发送附件（图片、音频、PDF）
  /reply <id> <text>     回复一条消息
  /retry <clientId>      重发失败的消息
  /delete <id>           删除消息
  /search <query>        检索当前会话
  /quit                  退出`

func main() {
	var server, tok, conversationID, expertID, logLevel string
	flag.StringVar(&server, "server", "http://127.0.0.1:8081", "API base url")
	flag.StringVar(&tok, "token", os.Getenv("MIND_NAMO_TOKEN"), "access token")
	flag.StringVar(&conversationID, "conversation", "", "conversation to open on start")
	flag.StringVar(&expertID, "expert", "", "start or resume a conversation with this expert (users only)")
	flag.StringVar(&logLevel, "log-level", "warn", "log level")
	flag.Parse()

	log.Init(logLevel, "console", "")
	defer log.Sync()

	self, err := partyFromToken(tok)
	if err != nil {
		fmt.Printf("invalid token: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := apiclient.NewClient(server, tok)
	conn, err := relayclient.Dial(ctx, api.RelayURL(), nil)
	if err != nil {
		fmt.Printf("connect relay: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	session := chatclient.NewSession(chatclient.Config{
		Channel:  conn,
		Self:     self,
		History:  api,
		Uploader: api,
	})
	printIncoming(conn, session, self)

	if convs, err := api.Conversations(ctx); err == nil {
		session.List().Replace(convs)
	} else {
		fmt.Printf("load conversations: %v\n", err)
	}
	if expertID != "" {
		conv, err := api.CreateConversation(ctx, expertID)
		if err != nil {
			fmt.Printf("start conversation: %v\n", err)
			os.Exit(1)
		}
		conversationID = conv.ID
	}
	if conversationID != "" {
		openConversation(ctx, session, conversationID)
	}
	fmt.Printf("已登录为 %s (%s)，输入 /help 查看命令\n", self.Name, self.Role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-conn.Done():
			fmt.Printf("连接已断开: %v，正在重连...\n", conn.Err())
			_ = conn.Close()
			next, err := reconnect(ctx, api, session, self)
			if err != nil {
				fmt.Printf("重连失败: %v\n", err)
				return
			}
			conn = next
			fmt.Println("已重新连接")
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, session, api, strings.TrimSpace(line)); quit {
				session.Close()
				return
			}
		}
	}
}

// printIncoming 打印当前会话中对方发来的消息。
func printIncoming(conn *relayclient.Conn, session *chatclient.Session, self model.Party) {
	conn.On(protocol.EventReceiveMessage, func(data json.RawMessage) {
		var m model.Message
		if json.Unmarshal(data, &m) == nil && m.Sender != self.ID && m.ConversationID == session.ConversationID() {
			fmt.Printf("[%s] %s\n", m.SenderRole, m.Content)
		}
	})
}

// reconnect 重新拨号中继，并让会话在新连接上重新加入当前会话。
func reconnect(ctx context.Context, api *apiclient.Client, session *chatclient.Session, self model.Party) (*relayclient.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	conn, err := relayclient.Redial(dialCtx, api.RelayURL(), nil, relayclient.DefaultBackoff())
	if err != nil {
		return nil, err
	}
	printIncoming(conn, session, self)
	openCtx, cancelOpen := context.WithTimeout(ctx, 10*time.Second)
	defer cancelOpen()
	if err := session.Reconnect(openCtx, conn); err != nil {
		fmt.Printf("恢复会话: %v\n", err)
	}
	return conn, nil
}

// partyFromToken 读取令牌中的身份。签名由服务端校验，这里不验证。
func partyFromToken(tok string) (model.Party, error) {
	if tok == "" {
		return model.Party{}, errors.New("token is required")
	}
	claims := &token.CustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return model.Party{}, err
	}
	return middleware.PartyFromClaims(claims)
}

func openConversation(ctx context.Context, s *chatclient.Session, id string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Open(ctx, id); err != nil {
		fmt.Printf("open: %v\n", err)
		return
	}
	printMessages(s.Messages())
}

// run 执行一行输入，返回 true 表示退出。
func run(ctx context.Context, s *chatclient.Session, api *apiclient.Client, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		content, err := model.NewContent(model.KindText, line)
		if err == nil {
			_, err = s.Send(content, nil)
		}
		if err != nil {
			fmt.Printf("send: %v\n", err)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(helpText)
	case "/list":
		for _, c := range s.List().Items() {
			preview := ""
			if c.LastMessage != nil {
				preview = *c.LastMessage
			}
			fmt.Printf("%s  unread=%d  %s\n", c.ID, s.List().Unread(c.ID), preview)
		}
	case "/open":
		openConversation(ctx, s, arg)
	case "/show":
		printMessages(s.Messages())
	case "/file":
		sendFile(ctx, s, arg)
	case "/reply":
		id, text, _ := strings.Cut(arg, " ")
		content, err := model.NewContent(model.KindText, text)
		if err == nil {
			_, err = s.Send(content, &id)
		}
		if err != nil {
			fmt.Printf("reply: %v\n", err)
		}
	case "/retry":
		if err := s.Retry(ctx, arg); err != nil {
			fmt.Printf("retry: %v\n", err)
		}
	case "/delete":
		if err := s.Delete(arg); err != nil {
			fmt.Printf("delete: %v\n", err)
		}
	case "/search":
		hits, err := api.Search(ctx, s.ConversationID(), arg)
		if err != nil {
			fmt.Printf("search: %v\n", err)
			return false
		}
		for _, h := range hits {
			fmt.Printf("%s  %s\n", h.MessageID, h.TextContent)
		}
	default:
		fmt.Println(helpText)
	}
	return false
}

func sendFile(ctx context.Context, s *chatclient.Session, path string) {
	kind, ok := kindFor(path)
	if !ok {
		fmt.Println("file: unsupported file type")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("file: %v\n", err)
		return
	}
	localRef := "file://" + filepath.ToSlash(path)
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := s.SendAttachment(ctx, kind, filepath.Base(path), data, localRef); err != nil {
		fmt.Printf("file: %v\n", err)
	}
}

func kindFor(path string) (model.ContentKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return model.KindImage, true
	case ".mp3", ".m4a", ".ogg", ".wav", ".webm":
		return model.KindAudio, true
	case ".pdf":
		return model.KindDocument, true
	}
	return "", false
}

func printMessages(msgs []model.Message) {
	for _, day := range chatclient.Group(msgs, time.Local) {
		fmt.Printf("---- %s ----\n", day.Day.Format("2006-01-02"))
		for _, m := range day.Messages {
			if m.FirstInGroup {
				fmt.Printf("[%s]\n", m.SenderRole)
			}
			status := ""
			if m.Status != "" && m.Status != model.StatusSent {
				status = fmt.Sprintf(" (%s", m.Status)
				if m.ClientID != nil {
					status += " " + *m.ClientID
				}
				status += ")"
			}
			fmt.Printf("  %s %s %s%s\n", m.CreatedAt.Local().Format("15:04"), m.ID, m.Content, status)
		}
	}
}
