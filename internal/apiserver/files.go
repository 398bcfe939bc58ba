package apiserver

import (
	"errors"
	"net/http"
	"strings"

	"gitguide/internal/fsbridge"
)

// ListFiles 列出容器内目录
//
// 路由: GET /api/v1/workspaces/{id}/files?path=/workspace
func (s *Server) ListFiles(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/workspace"
	}

	entries, err := s.files.ListDir(r.Context(), containerID, path)
	if err != nil {
		writeError(w, fileErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"entries": entries,
	})
}

// ReadFile 读取容器内文件
//
// 路由: GET /api/v1/workspaces/{id}/file?path=/workspace/app.py
func (s *Server) ReadFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	data, err := s.files.ReadFile(r.Context(), containerID, path)
	if err != nil {
		writeError(w, fileErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"content": string(data),
		"size":    len(data),
	})
}

// WriteFile 写入容器内文件，父目录自动创建
//
// 路由: PUT /api/v1/workspaces/{id}/file?path=/workspace/app.py
//
// 请求体：{"content": "..."}
func (s *Server) WriteFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.files.WriteFile(r.Context(), containerID, path, []byte(req.Content)); err != nil {
		writeError(w, fileErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path": path,
		"size": len(req.Content),
	})
}

// DeleteFile 删除容器内文件或目录
//
// 路由: DELETE /api/v1/workspaces/{id}/file?path=/workspace/tmp
func (s *Server) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	if err := s.files.Delete(r.Context(), containerID, path); err != nil {
		writeError(w, fileErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "path": path})
}

// Mkdir 创建容器内目录
//
// 路由: POST /api/v1/workspaces/{id}/mkdir
//
// 请求体：{"path": "/workspace/src"}
func (s *Server) Mkdir(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}

	if err := s.files.Mkdir(r.Context(), containerID, req.Path); err != nil {
		writeError(w, fileErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"path": req.Path})
}

// MoveFile 移动或重命名容器内文件
//
// 路由: POST /api/v1/workspaces/{id}/move
//
// 请求体：{"src": "/workspace/a.py", "dst": "/workspace/b.py"}
func (s *Server) MoveFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.ownedWorkspace(w, r)
	if !ok {
		return
	}
	containerID, ok := requireContainer(w, ws)
	if !ok {
		return
	}

	var req struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Src == "" || req.Dst == "" {
		writeError(w, http.StatusBadRequest, "src and dst required")
		return
	}

	if err := s.files.Move(r.Context(), containerID, req.Src, req.Dst); err != nil {
		writeError(w, fileErrStatus(err), err.Error())
		return
	}

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, map[string]string{"src": req.Src, "dst": req.Dst})
}

// fileErrStatus 将文件桥错误映射为 HTTP 状态码
func fileErrStatus(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "No such file"):
		return http.StatusNotFound
	case errors.Is(err, fsbridge.ErrRootDelete):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
