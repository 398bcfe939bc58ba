package apiserver

import (
	"errors"
	"net/http"

	"gitguide/internal/tasksession"
)

// StartTaskSession 开始（或复用）任务会话
//
// 路由: POST /api/v1/task-sessions
//
// 请求体：{"task_id": "...", "workspace_id": "..."}
//
// 同一 (task, user, workspace) 三元组幂等：已存在返回 200，
// 新建返回 201。基准提交在创建时捕获，仓库缺失时用
// X-Git-Token 携带的令牌克隆恢复。
func (s *Server) StartTaskSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		TaskID      string `json:"task_id"`
		WorkspaceID string `json:"workspace_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TaskID == "" || req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "task_id and workspace_id required")
		return
	}

	result, err := s.taskSessions.Start(r.Context(), req.TaskID, user.ID, req.WorkspaceID, gitToken(r))
	if err != nil {
		writeError(w, taskSessionErrStatus(err), err.Error())
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// GetTaskSession 获取任务会话
//
// 路由: GET /api/v1/task-sessions/{id}
func (s *Server) GetTaskSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	session, err := s.taskSessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, taskSessionErrStatus(err), err.Error())
		return
	}
	if session.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not the session owner")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// CompleteTaskSession 结束任务会话
//
// 路由: POST /api/v1/task-sessions/{id}/complete
// 请求体可选: {"current_commit": "..."}，缺省时服务端补记容器 HEAD
func (s *Server) CompleteTaskSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		CurrentCommit *string `json:"current_commit"`
	}
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	session, err := s.taskSessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, taskSessionErrStatus(err), err.Error())
		return
	}
	if session.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not the session owner")
		return
	}

	if err := s.taskSessions.Complete(r.Context(), session.ID, req.CurrentCommit); err != nil {
		writeError(w, taskSessionErrStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// taskSessionErrStatus 将任务会话错误映射为 HTTP 状态码
func taskSessionErrStatus(err error) int {
	switch {
	case errors.Is(err, tasksession.ErrSessionNotFound),
		errors.Is(err, tasksession.ErrWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasksession.ErrNoContainer),
		errors.Is(err, tasksession.ErrRepoNotConfigured):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
