package apiserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gitguide/internal/gitbridge"
	"gitguide/internal/reconcile"
)

// GitStatus 查询仓库状态
//
// 路由: GET /api/v1/workspaces/{id}/git/status
func (s *Server) GitStatus(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	status, err := s.git.Status(r.Context(), containerID)
	if err != nil {
		writeError(w, gitErrStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// GitClone 克隆远端仓库到容器
//
// 路由: POST /api/v1/workspaces/{id}/git/clone
//
// 请求体：{"repo_url": "https://github.com/...", "branch": "main"}
// 访问令牌通过 X-Git-Token 头携带，只在本次请求内使用。
func (s *Server) GitClone(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	var req struct {
		RepoURL string `json:"repo_url"`
		Branch  string `json:"branch"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url required")
		return
	}

	if err := s.git.Clone(r.Context(), containerID, req.RepoURL, gitToken(r), req.Branch); err != nil {
		writeError(w, gitErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"repo_url": req.RepoURL,
		"branch":   req.Branch,
	})
}

// GitCommit 提交工作区变更
//
// 路由: POST /api/v1/workspaces/{id}/git/commit
//
// 请求体：{"message": "...", "author_name": "...", "author_email": "..."}
func (s *Server) GitCommit(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	var req struct {
		Message     string `json:"message"`
		AuthorName  string `json:"author_name"`
		AuthorEmail string `json:"author_email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	var author *gitbridge.Author
	if req.AuthorName != "" || req.AuthorEmail != "" {
		author = &gitbridge.Author{Name: req.AuthorName, Email: req.AuthorEmail}
	}

	result, err := s.git.Commit(r.Context(), containerID, req.Message, author)
	if err != nil {
		writeError(w, gitErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, result)
}

// GitPush 推送当前分支到远端
//
// 路由: POST /api/v1/workspaces/{id}/git/push
func (s *Server) GitPush(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	if err := s.git.Push(r.Context(), containerID, gitToken(r)); err != nil {
		writeError(w, gitErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

// GitMerge 合并分支，冲突时自动 abort 并返回冲突文件
//
// 路由: POST /api/v1/workspaces/{id}/git/merge
//
// 请求体：{"branch": "feature-x"}
func (s *Server) GitMerge(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	var req struct {
		Branch string `json:"branch"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Branch == "" {
		writeError(w, http.StatusBadRequest, "branch required")
		return
	}

	result, err := s.git.Merge(r.Context(), containerID, req.Branch)
	if err != nil {
		writeError(w, gitErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	if !result.Success {
		// 冲突已回滚，结果体里带冲突文件列表
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GitLog 查询提交历史
//
// 路由: GET /api/v1/workspaces/{id}/git/log?limit=20
func (s *Server) GitLog(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	commits, err := s.git.Log(r.Context(), containerID, limit)
	if err != nil {
		writeError(w, gitErrStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commits": commits,
		"total":   len(commits),
	})
}

// ExternalCommits 检测远端是否有绕过平台的外部提交
//
// 路由: GET /api/v1/workspaces/{id}/git/external-commits
func (s *Server) ExternalCommits(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	report, err := s.reconciler.CheckRemote(r.Context(), r.PathValue("id"), user.ID, gitToken(r))
	if err != nil {
		writeError(w, reconcileErrStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GitReset 将容器仓库回退到平台已知提交并强推远端
//
// 路由: POST /api/v1/workspaces/{id}/git/reset
//
// 请求体：{"confirmed": true}
//
// 必须显式确认且项目已接受 GitHub 覆写授权，否则拒绝。
func (s *Server) GitReset(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Confirmed bool `json:"confirmed"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.reconciler.ResetToPlatform(r.Context(), r.PathValue("id"), user.ID, gitToken(r), req.Confirmed)
	if err != nil {
		writeError(w, reconcileErrStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// gitErrStatus 将 git 桥错误映射为 HTTP 状态码
func gitErrStatus(err error) int {
	if errors.Is(err, gitbridge.ErrNotARepo) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// reconcileErrStatus 将对账服务错误映射为 HTTP 状态码
func reconcileErrStatus(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, reconcile.ErrConsentRequired):
		return http.StatusForbidden
	case errors.Is(err, reconcile.ErrNoPlatformCommit), errors.Is(err, reconcile.ErrNoContainer):
		return http.StatusConflict
	case strings.Contains(err.Error(), "not found"):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
