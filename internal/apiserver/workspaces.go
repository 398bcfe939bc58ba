package apiserver

import (
	"net/http"
)

// CreateWorkspace 获取或创建当前用户的工作区
//
// 路由: POST /api/v1/workspaces
//
// 请求体：{"project_id": "proj-xxx"}（可选）
//
// 同一 (user, project) 组合复用已有工作区，容器缺失时自动重建。
func (s *Server) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		ProjectID *string `json:"project_id"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	ws, err := s.workspaces.GetOrCreate(r.Context(), user.ID, req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to provision workspace: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, ws)
}

// ListWorkspaces 列出当前用户的工作区
//
// 路由: GET /api/v1/workspaces
func (s *Server) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	list, err := s.workspaces.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list workspaces")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces": list,
		"total":      len(list),
	})
}

// GetWorkspace 获取工作区详情
//
// 路由: GET /api/v1/workspaces/{id}
func (s *Server) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// DeleteWorkspace 删除工作区（容器、卷、会话记录一并清理）
//
// 路由: DELETE /api/v1/workspaces/{id}
func (s *Server) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}

	if err := s.workspaces.Delete(r.Context(), ws.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete workspace: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// StartWorkspace 启动工作区容器
//
// 路由: POST /api/v1/workspaces/{id}/start
func (s *Server) StartWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}

	if err := s.workspaces.Start(r.Context(), ws.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start workspace: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// StopWorkspace 停止工作区容器，卷和元数据保留
//
// 路由: POST /api/v1/workspaces/{id}/stop
func (s *Server) StopWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}

	if err := s.workspaces.Stop(r.Context(), ws.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stop workspace: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// WorkspaceStatus 查询容器实时状态
//
// 路由: GET /api/v1/workspaces/{id}/status
//
// 状态以 Docker daemon 实时查询为准，持久化状态跟随同步。
func (s *Server) WorkspaceStatus(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}

	status, err := s.workspaces.Status(r.Context(), ws)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query container status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workspace_id":    ws.ID,
		"status":          status,
		"ports_published": ws.PortsPublished,
	})
}
