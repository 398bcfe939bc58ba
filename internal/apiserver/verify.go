package apiserver

import (
	"net/http"

	"gitguide/internal/verify"
)

// RunVerify 同步执行验证流水线并返回报告
//
// 路由: POST /api/v1/verify
//
// 请求体：
//
//	{
//	  "session_id": "ts-xxx",
//	  "task_id": "task-1",
//	  "workspace_id": "ws-xxx",
//	  "base_commit": "abc123",
//	  "task": {
//	    "title": "...", "description": "...",
//	    "requirements": "...",
//	    "test_command": "...", "test_file_path": "...",
//	    "test_file_content": "...",
//	    "patterns": {
//	      "required_functions": [{"name": "..."}],
//	      "required_classes": [{"name": "..."}],
//	      "required_imports": ["..."],
//	      "code_patterns": [{"type": "...", "description": "..."}]
//	    }
//	  }
//	}
//
// 流水线永不失败：任何阶段出错都降级为 safe-fail 判定，
// 响应始终是完整报告。
func (s *Server) RunVerify(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req verify.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TaskID == "" || req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "task_id and workspace_id required")
		return
	}

	// 归属校验在运行前做，流水线本身不校验用户
	ws, err := s.workspaces.Get(r.Context(), req.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load workspace")
		return
	}
	if ws == nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	if ws.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not the workspace owner")
		return
	}

	req.UserID = user.ID
	report := s.verifier.Run(r.Context(), &req)

	s.workspaces.Touch(r.Context(), ws.ID)
	writeJSON(w, http.StatusOK, report)
}

// GetVerifyReport 读取归档的验证报告
//
// 路由: GET /api/v1/verify/{reportID}
func (s *Server) GetVerifyReport(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if s.reports == nil {
		writeError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}

	report, err := s.reports.GetReport(r.Context(), r.PathValue("reportID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}

	// 报告归属跟随工作区归属
	ws, err := s.workspaces.Get(r.Context(), report.WorkspaceID)
	if err != nil || ws == nil || ws.UserID != user.ID {
		writeError(w, http.StatusForbidden, "not the report owner")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
