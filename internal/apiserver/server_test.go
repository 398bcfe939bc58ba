package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitguide/internal/fsbridge"
	"gitguide/internal/gitbridge"
	"gitguide/internal/model"
	"gitguide/internal/reconcile"
	"gitguide/internal/tasksession"
	"gitguide/internal/terminal"
	"gitguide/internal/verify"
	"gitguide/pkg/auth"
)

// ============================================================================
// 测试替身
// ============================================================================

type fakeWorkspaces struct {
	workspaces map[string]*model.Workspace
	started    []string
	stopped    []string
	deleted    []string
	status     string
	ensureErr  error
}

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{workspaces: make(map[string]*model.Workspace), status: "running"}
}

func (f *fakeWorkspaces) GetOrCreate(ctx context.Context, userID string, projectID *string) (*model.Workspace, error) {
	ws := &model.Workspace{ID: "ws-new", UserID: userID, ProjectID: projectID, Status: model.WorkspaceStatusRunning}
	f.workspaces[ws.ID] = ws
	return ws, nil
}

func (f *fakeWorkspaces) Get(ctx context.Context, id string) (*model.Workspace, error) {
	return f.workspaces[id], nil
}

func (f *fakeWorkspaces) List(ctx context.Context, userID string) ([]*model.Workspace, error) {
	var out []*model.Workspace
	for _, ws := range f.workspaces {
		if ws.UserID == userID {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (f *fakeWorkspaces) Status(ctx context.Context, ws *model.Workspace) (string, error) {
	return f.status, nil
}

func (f *fakeWorkspaces) EnsureRunning(ctx context.Context, id string) (*model.Workspace, error) {
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return f.workspaces[id], nil
}

func (f *fakeWorkspaces) Start(ctx context.Context, id string) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeWorkspaces) Stop(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeWorkspaces) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.workspaces, id)
	return nil
}

func (f *fakeWorkspaces) Touch(ctx context.Context, id string) {}

type fakeFiles struct {
	files   map[string][]byte
	entries []fsbridge.FileEntry
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: make(map[string][]byte)}
}

func (f *fakeFiles) ReadFile(ctx context.Context, containerID, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("file not found: " + path)
	}
	return data, nil
}

func (f *fakeFiles) WriteFile(ctx context.Context, containerID, path string, data []byte) error {
	f.files[path] = data
	return nil
}

func (f *fakeFiles) ListDir(ctx context.Context, containerID, path string) ([]fsbridge.FileEntry, error) {
	return f.entries, nil
}

func (f *fakeFiles) Delete(ctx context.Context, containerID, path string) error {
	delete(f.files, path)
	return nil
}

func (f *fakeFiles) Mkdir(ctx context.Context, containerID, path string) error { return nil }

func (f *fakeFiles) Move(ctx context.Context, containerID, src, dst string) error {
	f.files[dst] = f.files[src]
	delete(f.files, src)
	return nil
}

type fakeGitSvc struct {
	status    *gitbridge.Status
	commit    *gitbridge.CommitResult
	merge     *gitbridge.MergeResult
	commits   []gitbridge.Commit
	cloneURLs []string
	pushed    int
}

func (f *fakeGitSvc) Status(ctx context.Context, containerID string) (*gitbridge.Status, error) {
	if f.status == nil {
		return nil, gitbridge.ErrNotARepo
	}
	return f.status, nil
}

func (f *fakeGitSvc) Clone(ctx context.Context, containerID, repoURL, token, branch string) error {
	f.cloneURLs = append(f.cloneURLs, repoURL)
	return nil
}

func (f *fakeGitSvc) Commit(ctx context.Context, containerID, message string, author *gitbridge.Author) (*gitbridge.CommitResult, error) {
	return f.commit, nil
}

func (f *fakeGitSvc) Push(ctx context.Context, containerID, token string) error {
	f.pushed++
	return nil
}

func (f *fakeGitSvc) Merge(ctx context.Context, containerID, branch string) (*gitbridge.MergeResult, error) {
	return f.merge, nil
}

func (f *fakeGitSvc) Log(ctx context.Context, containerID string, maxCount int) ([]gitbridge.Commit, error) {
	return f.commits, nil
}

type fakeTerminals struct {
	sessions  map[string]*model.TerminalSession
	streamErr error
	deleted   []string
}

func newFakeTerminals() *fakeTerminals {
	return &fakeTerminals{sessions: make(map[string]*model.TerminalSession), streamErr: errors.New("no stream in tests")}
}

func (f *fakeTerminals) Create(ctx context.Context, workspaceID, containerID string) (*model.TerminalSession, error) {
	ts := &model.TerminalSession{ID: "term-test", WorkspaceID: workspaceID, ContainerID: containerID, Status: model.TerminalStatusPending}
	f.sessions[ts.ID] = ts
	return ts, nil
}

func (f *fakeTerminals) Get(ctx context.Context, id string) (*model.TerminalSession, error) {
	return f.sessions[id], nil
}

func (f *fakeTerminals) List(ctx context.Context, workspaceID string) ([]*model.TerminalSession, error) {
	var out []*model.TerminalSession
	for _, ts := range f.sessions {
		if ts.WorkspaceID == workspaceID {
			out = append(out, ts)
		}
	}
	return out, nil
}

func (f *fakeTerminals) StartStream(ctx context.Context, record *model.TerminalSession) (*terminal.Session, error) {
	return nil, f.streamErr
}

func (f *fakeTerminals) WriteInput(id string, data []byte) error { return nil }

func (f *fakeTerminals) Resize(ctx context.Context, id string, cols, rows uint) {}

func (f *fakeTerminals) CloseSession(ctx context.Context, id string) error { return nil }

func (f *fakeTerminals) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.sessions, id)
	return nil
}

type fakeTaskSessions struct {
	sessions        map[string]*model.TaskSession
	created         bool
	completedCommit *string
}

func (f *fakeTaskSessions) Start(ctx context.Context, taskID, userID, workspaceID, token string) (*tasksession.StartResult, error) {
	ts := &model.TaskSession{ID: "ts-1", TaskID: taskID, UserID: userID, WorkspaceID: workspaceID, Status: model.TaskSessionStatusActive}
	return &tasksession.StartResult{Session: ts, Created: f.created}, nil
}

func (f *fakeTaskSessions) Get(ctx context.Context, id string) (*model.TaskSession, error) {
	ts, ok := f.sessions[id]
	if !ok {
		return nil, tasksession.ErrSessionNotFound
	}
	return ts, nil
}

func (f *fakeTaskSessions) Complete(ctx context.Context, id string, currentCommit *string) error {
	f.completedCommit = currentCommit
	return nil
}

type fakeReconciler struct {
	report   *reconcile.DriftReport
	resetErr error
	reset    *reconcile.ResetResult
}

func (f *fakeReconciler) CheckRemote(ctx context.Context, workspaceID, userID, token string) (*reconcile.DriftReport, error) {
	return f.report, nil
}

func (f *fakeReconciler) ResetToPlatform(ctx context.Context, workspaceID, userID, token string, confirmed bool) (*reconcile.ResetResult, error) {
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	return f.reset, nil
}

type fakeVerifyRunner struct {
	lastReq *verify.Request
	report  *model.VerifyReport
}

func (f *fakeVerifyRunner) Run(ctx context.Context, req *verify.Request) *model.VerifyReport {
	f.lastReq = req
	return f.report
}

type fakeReportReader struct {
	reports map[string]*model.VerifyReport
}

func (f *fakeReportReader) GetReport(ctx context.Context, id string) (*model.VerifyReport, error) {
	return f.reports[id], nil
}

// ============================================================================
// 测试环境
// ============================================================================

type testEnv struct {
	server       *Server
	workspaces   *fakeWorkspaces
	files        *fakeFiles
	git          *fakeGitSvc
	terminals    *fakeTerminals
	taskSessions *fakeTaskSessions
	reconciler   *fakeReconciler
	verifier     *fakeVerifyRunner
	handler      http.Handler
}

// newTestEnv 创建关闭认证的测试环境，请求以 dev-user 身份执行
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		workspaces:   newFakeWorkspaces(),
		files:        newFakeFiles(),
		git:          &fakeGitSvc{},
		terminals:    newFakeTerminals(),
		taskSessions: &fakeTaskSessions{sessions: make(map[string]*model.TaskSession)},
		reconciler:   &fakeReconciler{},
		verifier:     &fakeVerifyRunner{report: &model.VerifyReport{ID: "vr-1"}},
	}
	env.server = NewServer(env.workspaces, env.files, env.git, env.terminals,
		env.taskSessions, env.reconciler, env.verifier, auth.Config{})
	env.handler = env.server.Router()
	return env
}

// addWorkspace 注册一个属于 dev-user 的工作区
func (e *testEnv) addWorkspace(id string, containerID string) *model.Workspace {
	ws := &model.Workspace{ID: id, UserID: "dev-user", Status: model.WorkspaceStatusRunning}
	if containerID != "" {
		ws.ContainerID = &containerID
	}
	e.workspaces.workspaces[id] = ws
	return ws
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// ============================================================================
// 基础与认证
// ============================================================================

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAuthRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	env.server.authCfg = auth.Config{JWTSecret: "test-secret"}
	env.handler = env.server.Router()

	rec := env.do(t, "GET", "/api/v1/workspaces", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 公开路由不受影响
	rec = env.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	env := newTestEnv(t)
	cfg := auth.Config{JWTSecret: "test-secret", AccessTokenTTL: auth.DefaultConfig().AccessTokenTTL}
	env.server.authCfg = cfg
	env.handler = env.server.Router()

	token, err := auth.GenerateToken(cfg, "user-7", "u7@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/workspaces", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthScopesListToUser(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-mine", "")
	env.workspaces.workspaces["ws-other"] = &model.Workspace{ID: "ws-other", UserID: "someone-else"}

	rec := env.do(t, "GET", "/api/v1/workspaces", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total int `json:"total"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Total)
}

// ============================================================================
// 工作区
// ============================================================================

func TestCreateWorkspace(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/v1/workspaces", `{"project_id":"proj-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var ws model.Workspace
	decodeBody(t, rec, &ws)
	assert.Equal(t, "dev-user", ws.UserID)
	require.NotNil(t, ws.ProjectID)
	assert.Equal(t, "proj-1", *ws.ProjectID)
}

func TestGetWorkspaceOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.workspaces.workspaces["ws-other"] = &model.Workspace{ID: "ws-other", UserID: "someone-else"}

	rec := env.do(t, "GET", "/api/v1/workspaces/ws-other", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "GET", "/api/v1/workspaces/ws-missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkspaceLifecycleRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")

	rec := env.do(t, "POST", "/api/v1/workspaces/ws-1/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ws-1"}, env.workspaces.started)

	rec = env.do(t, "POST", "/api/v1/workspaces/ws-1/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/v1/workspaces/ws-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = env.do(t, "DELETE", "/api/v1/workspaces/ws-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ws-1"}, env.workspaces.deleted)
}

// ============================================================================
// 文件桥
// ============================================================================

func TestFileRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")

	rec := env.do(t, "PUT", "/api/v1/workspaces/ws-1/file?path=/workspace/app.py", `{"content":"print(1)"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("print(1)"), env.files.files["/workspace/app.py"])

	rec = env.do(t, "GET", "/api/v1/workspaces/ws-1/file?path=/workspace/app.py", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Content string `json:"content"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "print(1)", resp.Content)

	rec = env.do(t, "GET", "/api/v1/workspaces/ws-1/file?path=/workspace/missing.py", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// path 参数缺失
	rec = env.do(t, "GET", "/api/v1/workspaces/ws-1/file", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "DELETE", "/api/v1/workspaces/ws-1/file?path=/workspace/app.py", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, env.files.files, "/workspace/app.py")
}

func TestFileRoutesRequireContainer(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "")

	rec := env.do(t, "GET", "/api/v1/workspaces/ws-1/files", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMoveFile(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")
	env.files.files["/workspace/a.py"] = []byte("x")

	rec := env.do(t, "POST", "/api/v1/workspaces/ws-1/move", `{"src":"/workspace/a.py","dst":"/workspace/b.py"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, env.files.files, "/workspace/b.py")
}

// ============================================================================
// Git 桥
// ============================================================================

func TestGitStatusNotARepo(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")

	rec := env.do(t, "GET", "/api/v1/workspaces/ws-1/git/status", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGitCommitAndLog(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")
	env.git.commit = &gitbridge.CommitResult{Committed: true, SHA: "abc1234", Message: "done"}
	env.git.commits = []gitbridge.Commit{{SHA: "abc1234", Message: "done"}}

	rec := env.do(t, "POST", "/api/v1/workspaces/ws-1/git/commit", `{"message":"done"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc1234")

	rec = env.do(t, "GET", "/api/v1/workspaces/ws-1/git/log?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc1234")

	// message 缺失
	rec = env.do(t, "POST", "/api/v1/workspaces/ws-1/git/commit", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitMergeConflict(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")
	env.git.merge = &gitbridge.MergeResult{Success: false, Conflicts: []string{"app.py"}}

	rec := env.do(t, "POST", "/api/v1/workspaces/ws-1/git/merge", `{"branch":"feature"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "app.py")
}

func TestExternalCommits(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")
	env.reconciler.report = &reconcile.DriftReport{
		HasExternalCommits: true,
		RemoteCommit:       "fff0000",
		ExternalCommits:    []gitbridge.Commit{{SHA: "fff0000", Message: "external"}},
	}

	rec := env.do(t, "GET", "/api/v1/workspaces/ws-1/git/external-commits", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report reconcile.DriftReport
	decodeBody(t, rec, &report)
	assert.True(t, report.HasExternalCommits)
	assert.Len(t, report.ExternalCommits, 1)
}

func TestGitResetErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")

	env.reconciler.resetErr = reconcile.ErrConsentRequired
	rec := env.do(t, "POST", "/api/v1/workspaces/ws-1/git/reset", `{"confirmed":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.reconciler.resetErr = reconcile.ErrConfirmationRequired
	rec = env.do(t, "POST", "/api/v1/workspaces/ws-1/git/reset", `{"confirmed":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.reconciler.resetErr = nil
	env.reconciler.reset = &reconcile.ResetResult{ResetCommit: "abc1234", Pushed: true}
	rec = env.do(t, "POST", "/api/v1/workspaces/ws-1/git/reset", `{"confirmed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc1234")
}

// ============================================================================
// 终端 REST
// ============================================================================

func TestTerminalSessionRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")

	rec := env.do(t, "POST", "/api/v1/terminal/ws-1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var session model.TerminalSession
	decodeBody(t, rec, &session)
	assert.Equal(t, "ws-1", session.WorkspaceID)

	rec = env.do(t, "GET", "/api/v1/terminal/ws-1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), session.ID)

	rec = env.do(t, "DELETE", "/api/v1/terminal/ws-1/sessions/"+session.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{session.ID}, env.terminals.deleted)
}

func TestDeleteTerminalSessionWrongWorkspace(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")
	env.addWorkspace("ws-2", "container-2")
	env.terminals.sessions["term-x"] = &model.TerminalSession{ID: "term-x", WorkspaceID: "ws-2"}

	rec := env.do(t, "DELETE", "/api/v1/terminal/ws-1/sessions/term-x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// 任务会话
// ============================================================================

func TestStartTaskSessionStatusCodes(t *testing.T) {
	env := newTestEnv(t)

	env.taskSessions.created = true
	rec := env.do(t, "POST", "/api/v1/task-sessions", `{"task_id":"task-1","workspace_id":"ws-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	env.taskSessions.created = false
	rec = env.do(t, "POST", "/api/v1/task-sessions", `{"task_id":"task-1","workspace_id":"ws-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/api/v1/task-sessions", `{"task_id":"task-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskSessionOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.taskSessions.sessions["ts-1"] = &model.TaskSession{ID: "ts-1", UserID: "someone-else"}

	rec := env.do(t, "GET", "/api/v1/task-sessions/ts-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "GET", "/api/v1/task-sessions/ts-missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteTaskSession(t *testing.T) {
	env := newTestEnv(t)
	env.taskSessions.sessions["ts-1"] = &model.TaskSession{ID: "ts-1", UserID: "dev-user"}

	rec := env.do(t, "POST", "/api/v1/task-sessions/ts-1/complete", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
	assert.Nil(t, env.taskSessions.completedCommit)

	// 请求体里的提交透传给服务层
	rec = env.do(t, "POST", "/api/v1/task-sessions/ts-1/complete", `{"current_commit":"abc123"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.taskSessions.completedCommit)
	assert.Equal(t, "abc123", *env.taskSessions.completedCommit)
}

// ============================================================================
// 验证
// ============================================================================

func TestRunVerify(t *testing.T) {
	env := newTestEnv(t)
	env.addWorkspace("ws-1", "container-1")
	env.verifier.report = &model.VerifyReport{ID: "vr-9", WorkspaceID: "ws-1"}

	body := `{"session_id":"ts-1","task_id":"task-1","workspace_id":"ws-1","task":{"title":"Todo API"}}`
	rec := env.do(t, "POST", "/api/v1/verify", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vr-9")

	// 用户身份由服务端注入，不信任请求体
	require.NotNil(t, env.verifier.lastReq)
	assert.Equal(t, "dev-user", env.verifier.lastReq.UserID)
}

func TestRunVerifyOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.workspaces.workspaces["ws-other"] = &model.Workspace{ID: "ws-other", UserID: "someone-else"}

	body := `{"task_id":"task-1","workspace_id":"ws-other"}`
	rec := env.do(t, "POST", "/api/v1/verify", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body = `{"task_id":"task-1","workspace_id":"ws-missing"}`
	rec = env.do(t, "POST", "/api/v1/verify", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVerifyReport(t *testing.T) {
	env := newTestEnv(t)

	// 未配置归档
	rec := env.do(t, "GET", "/api/v1/verify/vr-1", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	env.addWorkspace("ws-1", "")
	env.server.WithReports(&fakeReportReader{reports: map[string]*model.VerifyReport{
		"vr-1": {ID: "vr-1", WorkspaceID: "ws-1"},
	}})
	env.handler = env.server.Router()

	rec = env.do(t, "GET", "/api/v1/verify/vr-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vr-1")

	rec = env.do(t, "GET", "/api/v1/verify/vr-missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// 中间件细节
// ============================================================================

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/workspaces/ws-abc123/git/status", "/api/v1/workspaces/{id}/git/status"},
		{"/api/v1/terminal/ws-abc123/sessions/term-x", "/api/v1/terminal/{id}/sessions/{id}"},
		{"/api/v1/workspaces", "/api/v1/workspaces"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRoute(tt.path), tt.path)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", bearerToken(req))

	req.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(req))
}
