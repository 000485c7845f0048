package handler

import (
	"Patronage/internal/api/dto"
	"Patronage/internal/api/middleware"
	"Patronage/internal/pkg/response"
	"Patronage/internal/pkg/util"
	"Patronage/internal/service"
	"context"
	log "log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 << 10
)

type WsHandler struct {
	imService service.IMService
	upgrader  websocket.Upgrader
}

func NewWsHandler(im service.IMService, origins *middleware.OriginChecker) *WsHandler {
	return &WsHandler{
		imService: im,
		upgrader:  websocket.Upgrader{CheckOrigin: origins.CheckRequest},
	}
}

// wsConn gorilla 连接只允许一个并发写者
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeFrame(frame *dto.WsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// Connect 打开与某个用户的会话视图：推送视图变更，并接收发送/编辑/删除指令
func (s *WsHandler) Connect(c *gin.Context) {
	// 浏览器无法为 WebSocket 设置请求头，Token 通过 query 传递
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.ErrNotAuthenticated)
		return
	}
	claims, code, err := middleware.Authenticate(c.Request.Context(), token)
	if err != nil {
		log.WarnContext(c.Request.Context(), "WS 鉴权失败", "err", err)
		response.Fail(c, code, err.Error())
		return
	}
	userID := claims.UserID

	peerID, err := strconv.ParseUint(c.Query("peer_id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	// 会话的生命周期与连接绑定，不随本次 HTTP 请求的 ctx 结束
	ctx := context.WithoutCancel(c.Request.Context())
	sess, err := s.imService.OpenSession(ctx, userID, peerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer sess.Close()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.ErrorContext(ctx, "WS 协议升级失败", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()
	ws := &wsConn{conn: conn}

	log.InfoContext(ctx, "用户 WS 连接已建立", "userID", userID, "peerID", peerID)

	stopChan := make(chan struct{})

	// 读循环：处理客户端指令，连接断开时通知写循环退出
	go func() {
		defer close(stopChan)
		conn.SetReadLimit(wsMaxMessage)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleCommand(ctx, sess, ws, data)
		}
	}()

	// 写循环：推送视图变更
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	updates := sess.Updates()
	for {
		select {
		case view, ok := <-updates:
			if !ok {
				return
			}
			if err = ws.writeFrame(&dto.WsFrame{Type: "view", Data: view}); err != nil {
				log.WarnContext(ctx, "WS 推送失败", "userID", userID, "err", err)
				return
			}
		case <-ticker.C:
			if err = ws.ping(); err != nil {
				return
			}
		case <-stopChan:
			log.InfoContext(ctx, "用户 WS 连接已断开", "userID", userID, "peerID", peerID)
			return
		}
	}
}

// handleCommand 执行一条客户端指令并回写结果
func (s *WsHandler) handleCommand(ctx context.Context, sess *service.Session, ws *wsConn, data []byte) {
	var cmd dto.WsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		_ = ws.writeFrame(errorFrame(service.ErrParamInvalid))
		return
	}
	if err := util.ValidateDTO(&cmd); err != nil {
		_ = ws.writeFrame(&dto.WsFrame{Type: "error", Code: response.BadRequest, Message: err.Error()})
		return
	}

	var (
		res interface{}
		err error
	)
	switch cmd.Action {
	case "send":
		res, err = sess.Send(ctx, cmd.Content, cmd.Attachments)
	case "edit":
		res, err = sess.Edit(ctx, cmd.MsgID, cmd.Content)
	case "delete":
		err = sess.Delete(ctx, cmd.MsgID)
	default:
		err = service.ErrParamInvalid
	}
	if err != nil {
		_ = ws.writeFrame(errorFrame(err))
		return
	}
	_ = ws.writeFrame(&dto.WsFrame{Type: "ack", Code: response.Ok, Data: res})
}

func errorFrame(err error) *dto.WsFrame {
	code, sentinel := service.CodeOf(err)
	if sentinel == nil {
		log.Error("WS 指令执行失败", "err", err)
		sentinel = service.UnExpectedError
	}
	return &dto.WsFrame{Type: "error", Code: code, Message: sentinel.Error()}
}
