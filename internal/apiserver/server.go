// Package apiserver 提供 HTTP API 处理器
//
// 本包实现工作区与验证服务的 RESTful API，包括：
//   - 工作区管理（Workspace）接口
//   - 文件桥（Files）接口
//   - Git 桥（Git）接口
//   - 终端会话（Terminal）接口与 WebSocket 终端流
//   - 任务会话（TaskSession）接口
//   - 验证流水线（Verify）接口
//
// 文件组织：
//   - server.go: 依赖接口、Server 定义与路由配置
//   - middleware.go: 认证、指标、请求日志中间件
//   - helpers.go: 通用工具函数
//   - workspaces.go / files.go / git.go / terminal.go /
//     tasksessions.go / verify.go: 各领域接口
//   - ws.go: WebSocket 终端网关
package apiserver

import (
	"context"
	"net/http"

	"gitguide/internal/fsbridge"
	"gitguide/internal/gitbridge"
	"gitguide/internal/metrics"
	"gitguide/internal/model"
	"gitguide/internal/reconcile"
	"gitguide/internal/tasksession"
	"gitguide/internal/terminal"
	"gitguide/internal/verify"
	"gitguide/pkg/auth"
)

// WorkspaceManager 工作区生命周期依赖
type WorkspaceManager interface {
	GetOrCreate(ctx context.Context, userID string, projectID *string) (*model.Workspace, error)
	Get(ctx context.Context, id string) (*model.Workspace, error)
	List(ctx context.Context, userID string) ([]*model.Workspace, error)
	Status(ctx context.Context, ws *model.Workspace) (string, error)
	EnsureRunning(ctx context.Context, id string) (*model.Workspace, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Touch(ctx context.Context, id string)
}

// FileBridge 容器内文件操作依赖
type FileBridge interface {
	ReadFile(ctx context.Context, containerID, filePath string) ([]byte, error)
	WriteFile(ctx context.Context, containerID, filePath string, data []byte) error
	ListDir(ctx context.Context, containerID, dirPath string) ([]fsbridge.FileEntry, error)
	Delete(ctx context.Context, containerID, targetPath string) error
	Mkdir(ctx context.Context, containerID, dirPath string) error
	Move(ctx context.Context, containerID, srcPath, dstPath string) error
}

// GitService 容器内 git 操作依赖
type GitService interface {
	Status(ctx context.Context, containerID string) (*gitbridge.Status, error)
	Clone(ctx context.Context, containerID, repoURL, token, branch string) error
	Commit(ctx context.Context, containerID, message string, author *gitbridge.Author) (*gitbridge.CommitResult, error)
	Push(ctx context.Context, containerID, token string) error
	Merge(ctx context.Context, containerID, branch string) (*gitbridge.MergeResult, error)
	Log(ctx context.Context, containerID string, maxCount int) ([]gitbridge.Commit, error)
}

// TerminalManager 终端会话依赖
type TerminalManager interface {
	Create(ctx context.Context, workspaceID, containerID string) (*model.TerminalSession, error)
	Get(ctx context.Context, id string) (*model.TerminalSession, error)
	List(ctx context.Context, workspaceID string) ([]*model.TerminalSession, error)
	StartStream(ctx context.Context, record *model.TerminalSession) (*terminal.Session, error)
	WriteInput(id string, data []byte) error
	Resize(ctx context.Context, id string, cols, rows uint)
	CloseSession(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// TaskSessionService 任务会话依赖
type TaskSessionService interface {
	Start(ctx context.Context, taskID, userID, workspaceID, token string) (*tasksession.StartResult, error)
	Get(ctx context.Context, id string) (*model.TaskSession, error)
	Complete(ctx context.Context, id string, currentCommit *string) error
}

// Reconciler 外部提交检测与回收依赖
type Reconciler interface {
	CheckRemote(ctx context.Context, workspaceID, userID, token string) (*reconcile.DriftReport, error)
	ResetToPlatform(ctx context.Context, workspaceID, userID, token string, confirmed bool) (*reconcile.ResetResult, error)
}

// VerifyRunner 验证流水线依赖
type VerifyRunner interface {
	Run(ctx context.Context, req *verify.Request) *model.VerifyReport
}

// ReportReader 验证报告读取依赖，未配置归档时为 nil
type ReportReader interface {
	GetReport(ctx context.Context, id string) (*model.VerifyReport, error)
}

// Server API 处理器
//
// Server 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的处理函数
//   - 认证与工作区归属校验
//   - 协调各领域服务
type Server struct {
	workspaces   WorkspaceManager
	files        FileBridge
	git          GitService
	terminals    TerminalManager
	taskSessions TaskSessionService
	reconciler   Reconciler
	verifier     VerifyRunner
	reports      ReportReader // 可为 nil

	authCfg auth.Config
	metrics *metrics.Metrics // 可为 nil
}

// NewServer 创建 API 处理器
func NewServer(
	workspaces WorkspaceManager,
	files FileBridge,
	git GitService,
	terminals TerminalManager,
	taskSessions TaskSessionService,
	reconciler Reconciler,
	verifier VerifyRunner,
	authCfg auth.Config,
) *Server {
	return &Server{
		workspaces:   workspaces,
		files:        files,
		git:          git,
		terminals:    terminals,
		taskSessions: taskSessions,
		reconciler:   reconciler,
		verifier:     verifier,
		authCfg:      authCfg,
	}
}

// WithReports 设置验证报告归档读取端
func (s *Server) WithReports(reports ReportReader) *Server {
	s.reports = reports
	return s
}

// WithMetrics 设置 Prometheus 指标
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 工作区管理 (Workspace):
//   - POST   /api/v1/workspaces             - 获取或创建工作区
//   - GET    /api/v1/workspaces             - 列出当前用户工作区
//   - GET    /api/v1/workspaces/{id}        - 获取工作区详情
//   - DELETE /api/v1/workspaces/{id}        - 删除工作区
//   - POST   /api/v1/workspaces/{id}/start  - 启动容器
//   - POST   /api/v1/workspaces/{id}/stop   - 停止容器
//   - GET    /api/v1/workspaces/{id}/status - 容器实时状态
//
// 文件桥 (Files):
//   - GET    /api/v1/workspaces/{id}/files?path=  - 列目录
//   - GET    /api/v1/workspaces/{id}/file?path=   - 读文件
//   - PUT    /api/v1/workspaces/{id}/file?path=   - 写文件
//   - DELETE /api/v1/workspaces/{id}/file?path=   - 删除文件或目录
//   - POST   /api/v1/workspaces/{id}/mkdir        - 建目录
//   - POST   /api/v1/workspaces/{id}/move         - 移动/重命名
//
// Git 桥 (Git):
//   - GET    /api/v1/workspaces/{id}/git/status
//   - POST   /api/v1/workspaces/{id}/git/clone
//   - POST   /api/v1/workspaces/{id}/git/commit
//   - POST   /api/v1/workspaces/{id}/git/push
//   - POST   /api/v1/workspaces/{id}/git/merge
//   - GET    /api/v1/workspaces/{id}/git/log
//   - GET    /api/v1/workspaces/{id}/git/external-commits
//   - POST   /api/v1/workspaces/{id}/git/reset
//
// 终端 (Terminal):
//   - POST   /api/v1/terminal/{workspaceID}/sessions
//   - GET    /api/v1/terminal/{workspaceID}/sessions
//   - DELETE /api/v1/terminal/{workspaceID}/sessions/{sessionID}
//   - GET    /api/v1/terminal/{workspaceID}/connect - WebSocket 终端流
//
// 任务会话 (TaskSession):
//   - POST   /api/v1/task-sessions
//   - GET    /api/v1/task-sessions/{id}
//   - POST   /api/v1/task-sessions/{id}/complete
//
// 验证 (Verify):
//   - POST   /api/v1/verify           - 同步执行验证流水线
//   - GET    /api/v1/verify/{reportID} - 读取归档报告
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.Health)
	if s.metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Workspace 接口
	mux.HandleFunc("POST /api/v1/workspaces", s.CreateWorkspace)
	mux.HandleFunc("GET /api/v1/workspaces", s.ListWorkspaces)
	mux.HandleFunc("GET /api/v1/workspaces/{id}", s.GetWorkspace)
	mux.HandleFunc("DELETE /api/v1/workspaces/{id}", s.DeleteWorkspace)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/start", s.StartWorkspace)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/stop", s.StopWorkspace)
	mux.HandleFunc("GET /api/v1/workspaces/{id}/status", s.WorkspaceStatus)

	// Files 接口
	mux.HandleFunc("GET /api/v1/workspaces/{id}/files", s.ListFiles)
	mux.HandleFunc("GET /api/v1/workspaces/{id}/file", s.ReadFile)
	mux.HandleFunc("PUT /api/v1/workspaces/{id}/file", s.WriteFile)
	mux.HandleFunc("DELETE /api/v1/workspaces/{id}/file", s.DeleteFile)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/mkdir", s.Mkdir)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/move", s.MoveFile)

	// Git 接口
	mux.HandleFunc("GET /api/v1/workspaces/{id}/git/status", s.GitStatus)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/git/clone", s.GitClone)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/git/commit", s.GitCommit)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/git/push", s.GitPush)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/git/merge", s.GitMerge)
	mux.HandleFunc("GET /api/v1/workspaces/{id}/git/log", s.GitLog)
	mux.HandleFunc("GET /api/v1/workspaces/{id}/git/external-commits", s.ExternalCommits)
	mux.HandleFunc("POST /api/v1/workspaces/{id}/git/reset", s.GitReset)

	// Terminal REST 接口
	mux.HandleFunc("POST /api/v1/terminal/{workspaceID}/sessions", s.CreateTerminalSession)
	mux.HandleFunc("GET /api/v1/terminal/{workspaceID}/sessions", s.ListTerminalSessions)
	mux.HandleFunc("DELETE /api/v1/terminal/{workspaceID}/sessions/{sessionID}", s.DeleteTerminalSession)

	// TaskSession 接口
	mux.HandleFunc("POST /api/v1/task-sessions", s.StartTaskSession)
	mux.HandleFunc("GET /api/v1/task-sessions/{id}", s.GetTaskSession)
	mux.HandleFunc("POST /api/v1/task-sessions/{id}/complete", s.CompleteTaskSession)

	// Verify 接口
	mux.HandleFunc("POST /api/v1/verify", s.RunVerify)
	mux.HandleFunc("GET /api/v1/verify/{reportID}", s.GetVerifyReport)

	// REST API 走指标 + 认证 + 日志中间件
	var handler http.Handler = mux
	if s.metrics != nil {
		handler = s.metricsMiddleware(handler)
	}
	handler = authMiddleware(s.authCfg)(handler)
	handler = requestLogMiddleware(handler)
	handler = corsMiddleware(handler)

	// WebSocket 绕过指标中间件（包装后的 ResponseWriter 不支持 http.Hijacker）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /api/v1/terminal/{workspaceID}/connect", s.ConnectTerminal)
	topMux.Handle("/", handler)

	return topMux
}

// Health 服务健康检查
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
