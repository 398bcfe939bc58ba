package apiserver

import (
	"errors"
	"net/http"

	"gitguide/internal/terminal"
)

// CreateTerminalSession 创建终端会话记录
//
// 路由: POST /api/v1/terminal/{workspaceID}/sessions
//
// 只建会话记录，shell 流在 WebSocket 连接时才建立。
// 容器未运行时自动拉起。
func (s *Server) CreateTerminalSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ownedWorkspace(w, r); !ok {
		return
	}

	ws, err := s.workspaces.EnsureRunning(r.Context(), r.PathValue("workspaceID"))
	if err != nil || ws == nil {
		writeError(w, http.StatusInternalServerError, "failed to start workspace container")
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	session, err := s.terminals.Create(r.Context(), ws.ID, containerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create terminal session")
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusCreated, session)
}

// ListTerminalSessions 列出工作区的终端会话
//
// 路由: GET /api/v1/terminal/{workspaceID}/sessions
func (s *Server) ListTerminalSessions(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}

	sessions, err := s.terminals.List(r.Context(), ws.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list terminal sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// DeleteTerminalSession 关闭并删除终端会话
//
// 路由: DELETE /api/v1/terminal/{workspaceID}/sessions/{sessionID}
func (s *Server) DeleteTerminalSession(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}

	sessionID := r.PathValue("sessionID")
	session, err := s.terminals.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load terminal session")
		return
	}
	if session == nil || session.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "terminal session not found")
		return
	}

	if err := s.terminals.Delete(r.Context(), sessionID); err != nil && !errors.Is(err, terminal.ErrSessionNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to delete terminal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
