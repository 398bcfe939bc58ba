package apiserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gitguide/internal/model"
	"gitguide/pkg/auth"
)

// upgrader WebSocket 升级器配置
//
// 配置说明：
//   - ReadBufferSize: 读缓冲区大小
//   - WriteBufferSize: 写缓冲区大小
//   - CheckOrigin: 跨域检查（当前允许所有来源，生产环境应限制）
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// 终端 WebSocket 关闭码
const (
	closeNoContainer  = 4000 // 工作区没有容器
	closeAuthFailed   = 4001 // 认证失败
	closeNotOwner     = 4003 // 非工作区属主
	closeNotFound     = 4004 // 工作区或会话不存在
	closeStartFailed  = 4005 // 容器拉起失败
	closeStreamFailed = 4500 // exec 流建立失败
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 8192
)

// wsMessage 终端 WebSocket 消息
//
// 客户端消息：
//
//	输入：{"type": "input", "data": "ls\n"}
//	调整尺寸：{"type": "resize", "cols": 120, "rows": 40}
//
// 服务端消息：
//
//	输出：{"type": "output", "data": "..."}
//	错误：{"type": "error", "message": "..."}
//	就绪：{"type": "connected", "session_id": "term-xxx"}
type wsMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	Cols      uint   `json:"cols,omitempty"`
	Rows      uint   `json:"rows,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ConnectTerminal 处理终端 WebSocket 连接
//
// 路由: GET /api/v1/terminal/{workspaceID}/connect
//
// 查询参数：
//   - token: JWT（浏览器 WebSocket 无法携带 Authorization 头）
//   - session_id: 要复用的会话（可选），重连时回放尾部缓冲区
//
// 容器未运行时先自动拉起再附加 shell。认证、归属等失败通过
// WebSocket 关闭码通知客户端（升级完成后才能携带关闭码）。
func (s *Server) ConnectTerminal(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Terminal WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	closeWith := func(code int, message string) {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		conn.WriteJSON(wsMessage{Type: "error", Message: message})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, message), time.Now().Add(wsWriteWait))
	}

	user := s.wsUser(r)
	if user == nil {
		closeWith(closeAuthFailed, "authentication failed")
		return
	}

	workspaceID := r.PathValue("workspaceID")
	ws, err := s.workspaces.Get(r.Context(), workspaceID)
	if err != nil || ws == nil {
		closeWith(closeNotFound, "workspace not found")
		return
	}
	if ws.UserID != user.ID {
		closeWith(closeNotOwner, "not the workspace owner")
		return
	}

	// 容器可能已停止或被外部删除，附加前确保在运行
	ws, err = s.workspaces.EnsureRunning(r.Context(), workspaceID)
	if err != nil {
		closeWith(closeStartFailed, "failed to start workspace container")
		return
	}
	if ws == nil {
		closeWith(closeNotFound, "workspace not found")
		return
	}
	if ws.ContainerID == nil || *ws.ContainerID == "" {
		closeWith(closeNoContainer, "workspace has no container")
		return
	}

	record, ok := s.wsSessionRecord(r, closeWith, ws.ID, *ws.ContainerID)
	if !ok {
		return
	}

	session, err := s.terminals.StartStream(r.Context(), record)
	if err != nil {
		closeWith(closeStreamFailed, "failed to attach terminal stream")
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	log.Printf("[API] Terminal WebSocket connected (workspace=%s, session=%s)", ws.ID, record.ID)

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsMessage{Type: "connected", SessionID: record.ID}); err != nil {
		return
	}

	// 重连回放尾部输出
	if replay := session.Replay(); len(replay) > 0 {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(wsMessage{Type: "output", Data: string(replay)}); err != nil {
			return
		}
	}

	readerDone := make(chan struct{})
	go s.wsReadPump(r, conn, record.ID, readerDone)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk, open := <-session.Output():
			if !open {
				closeWith(websocket.CloseNormalClosure, "terminal session ended")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsMessage{Type: "output", Data: string(chunk)}); err != nil {
				return
			}
		case <-session.Done():
			closeWith(websocket.CloseNormalClosure, "terminal session ended")
			return
		case <-readerDone:
			// 客户端断开：流保持存活，重连时凭 session_id 回放缓冲区
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// wsUser 解析 WebSocket 请求的用户身份
//
// 优先 query 参数 token（浏览器场景），兜底 Authorization 头。
func (s *Server) wsUser(r *http.Request) *auth.AuthUser {
	if !s.authCfg.Enabled() {
		return &auth.AuthUser{ID: "dev-user"}
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		return nil
	}

	user, err := auth.VerifyToken(s.authCfg, token)
	if err != nil {
		return nil
	}
	return user
}

// wsSessionRecord 解析要附加的终端会话：指定 session_id 时复用，否则新建
func (s *Server) wsSessionRecord(r *http.Request,
	closeWith func(int, string), workspaceID, containerID string) (*model.TerminalSession, bool) {

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		existing, err := s.terminals.Get(r.Context(), sessionID)
		if err != nil || existing == nil || existing.WorkspaceID != workspaceID {
			closeWith(closeNotFound, "terminal session not found")
			return nil, false
		}
		return existing, true
	}

	created, err := s.terminals.Create(r.Context(), workspaceID, containerID)
	if err != nil {
		closeWith(closeStreamFailed, "failed to create terminal session")
		return nil, false
	}
	return created, true
}

// wsReadPump 消费客户端消息：输入透传、尺寸调整，连接断开时退出
func (s *Server) wsReadPump(r *http.Request, conn *websocket.Conn, sessionID string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "input":
			if err := s.terminals.WriteInput(sessionID, []byte(msg.Data)); err != nil {
				return
			}
		case "resize":
			s.terminals.Resize(r.Context(), sessionID, msg.Cols, msg.Rows)
		}
	}
}
