package apiserver

import (
	"encoding/json"
	"net/http"

	"gitguide/internal/model"
	"gitguide/pkg/auth"
)

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写入错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON 解析请求体，失败时直接写 400
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// gitToken 提取请求携带的远端仓库访问令牌
//
// 令牌只在本次请求内透传给 git 操作，不落库不入日志不回显。
func gitToken(r *http.Request) string {
	return r.Header.Get("X-Git-Token")
}

// currentUser 获取已认证用户，未认证时写 401
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.AuthUser, bool) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return user, true
}

// ownedWorkspace 加载路径参数 {id} 对应的工作区并校验归属
//
// 失败时已写好响应，调用方直接 return 即可。
func (s *Server) ownedWorkspace(w http.ResponseWriter, r *http.Request) (*model.Workspace, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return nil, false
	}

	id := r.PathValue("id")
	if id == "" {
		id = r.PathValue("workspaceID")
	}
	ws, err := s.workspaces.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load workspace")
		return nil, false
	}
	if ws == nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return nil, false
	}
	if ws.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not the workspace owner")
		return nil, false
	}
	return ws, true
}

// requireContainer 校验工作区已有容器，无容器时写 409
func requireContainer(w http.ResponseWriter, ws *model.Workspace) (string, bool) {
	if ws.ContainerID == nil || *ws.ContainerID == "" {
		writeError(w, http.StatusConflict, "workspace has no container")
		return "", false
	}
	return *ws.ContainerID, true
}
