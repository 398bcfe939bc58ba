package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitguide/internal/fsbridge"
	"gitguide/internal/gitbridge"
	"gitguide/internal/model"
	"gitguide/internal/storage"
	"gitguide/internal/verify/astscan"
	"gitguide/pkg/docker"
)

// === 测试桩 ===

type fakeWorkspaceStore struct {
	ws *model.Workspace
}

func (s *fakeWorkspaceStore) GetWorkspace(context.Context, string) (*model.Workspace, error) {
	return s.ws, nil
}

type fakeFS struct {
	files   map[string]string
	written map[string]string
	mkdirs  []string
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string]string{}, written: map[string]string{}}
}

func (f *fakeFS) ReadFile(_ context.Context, _, path string) ([]byte, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, errors.New("file not found: " + path)
	}
	return []byte(content), nil
}

func (f *fakeFS) WriteFile(_ context.Context, _, path string, data []byte) error {
	f.written[path] = string(data)
	f.files[path] = string(data)
	return nil
}

func (f *fakeFS) ListDir(_ context.Context, _, _ string) ([]fsbridge.FileEntry, error) {
	var entries []fsbridge.FileEntry
	for path := range f.files {
		entries = append(entries, fsbridge.FileEntry{Name: path, Path: path, Type: "file"})
	}
	return entries, nil
}

func (f *fakeFS) Mkdir(_ context.Context, _, dir string) error {
	f.mkdirs = append(f.mkdirs, dir)
	return nil
}

type fakeGit struct {
	diff   string
	status *gitbridge.Status
}

func (g *fakeGit) Diff(context.Context, string, string, string) (string, error) {
	return g.diff, nil
}

func (g *fakeGit) Status(context.Context, string) (*gitbridge.Status, error) {
	if g.status == nil {
		return &gitbridge.Status{}, nil
	}
	return g.status, nil
}

type execResponse struct {
	code   int
	output string
}

type fakeExecer struct {
	responses map[string]execResponse // 子串匹配
	commands  []string
}

func (e *fakeExecer) Exec(_ context.Context, _ string, cmd []string, _ *docker.ExecOptions) (int, string, error) {
	command := strings.Join(cmd, " ")
	e.commands = append(e.commands, command)
	for key, resp := range e.responses {
		if strings.Contains(command, key) {
			return resp.code, resp.output, nil
		}
	}
	return 0, "", nil
}

func (e *fakeExecer) ran(substr string) bool {
	for _, c := range e.commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

type fakeVerifier struct {
	input   *VerifyInput
	verdict *model.Verdict
	err     error
}

func (v *fakeVerifier) Verify(_ context.Context, input *VerifyInput) (*model.Verdict, error) {
	v.input = input
	if v.err != nil {
		return SafeFailVerdict(v.err), v.err
	}
	return v.verdict, nil
}

type fakeSink struct {
	states []*storage.VerifyState
	events []*storage.VerifyEvent
	cached []interface{}
}

func (s *fakeSink) SetVerifyState(_ context.Context, _ string, state *storage.VerifyState) error {
	s.states = append(s.states, state)
	return nil
}

func (s *fakeSink) PublishVerifyEvent(_ context.Context, _ string, event *storage.VerifyEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) CacheVerifyReport(_ context.Context, _ string, report interface{}) error {
	s.cached = append(s.cached, report)
	return nil
}

func strPtr(s string) *string { return &s }

func passingVerdict() *model.Verdict {
	return &model.Verdict{
		Passed:             true,
		OverallFeedback:    "Looks good.",
		CodeQuality:        model.CodeQualityGood,
		TestStatus:         model.CheckStatusPassed,
		PatternMatchStatus: model.CheckStatusPassed,
	}
}

func testRequest() *Request {
	return &Request{
		SessionID:   "ts-abc",
		TaskID:      "task-1",
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Task: TaskSpec{
			Title:           "Add function",
			Description:     "Implement an add function",
			Requirements:    "add(a, b) returns the sum",
			TestFilePath:    "tests/test_app.py",
			TestFileContent: "def test_add():\n    assert add(1, 2) == 3\n",
			Patterns: &astscan.Patterns{
				RequiredFunctions: []astscan.NamedPattern{{Name: "add"}},
			},
		},
	}
}

func pythonWorkspaceDeps() (*fakeWorkspaceStore, *fakeFS, *fakeGit, *fakeExecer) {
	store := &fakeWorkspaceStore{ws: &model.Workspace{ID: "ws-1", UserID: "user-1", ContainerID: strPtr("ctr-1")}}
	fs := newFakeFS()
	fs.files["requirements.txt"] = "flask\n"
	fs.files["app.py"] = "def add(a, b):\n    return a + b\n"
	git := &fakeGit{status: &gitbridge.Status{Modified: []string{"app.py"}, Untracked: []string{"debug.log"}}}
	execer := &fakeExecer{responses: map[string]execResponse{
		"import pytest": {code: 0},
		"pytest tests/": {code: 0, output: "1 passed"},
	}}
	return store, fs, git, execer
}

// === 测试 ===

func TestRunHappyPathPython(t *testing.T) {
	store, fs, git, execer := pythonWorkspaceDeps()
	verifier := &fakeVerifier{verdict: passingVerdict()}
	sink := &fakeSink{}

	p := NewPipeline(store, fs, git, execer, verifier).WithSinks(sink, nil, nil)
	report := p.Run(context.Background(), testRequest())

	assert.True(t, report.Verdict.Passed)
	assert.Equal(t, "python", report.Language)
	assert.ElementsMatch(t, []string{"app.py", "requirements.txt"}, report.FilesCollected)
	assert.Equal(t, "1 passed", report.TestOutput)
	require.Len(t, report.Stages, 10)
	assert.Equal(t, "workspace", report.Stages[0].Stage)
	assert.Equal(t, "llm_verdict", report.Stages[9].Stage)

	// 测试文件落盘且测试命令按语言推断
	assert.Contains(t, fs.written, "tests/test_app.py")
	assert.Contains(t, fs.mkdirs, "tests")
	assert.True(t, execer.ran("python -m pytest tests/test_app.py -v"))

	// 裁决器拿到了测试与模式匹配证据
	require.NotNil(t, verifier.input)
	assert.Contains(t, verifier.input.TestSummary, "PASSED")
	assert.Contains(t, verifier.input.PatternSummary, "add=ok")
	assert.Contains(t, verifier.input.AnalysisSummary, "add")

	// 模式匹配结果进了报告
	require.NotEmpty(t, report.PatternMatches)
	assert.Equal(t, "add", report.PatternMatches[0].Name)
	assert.True(t, report.PatternMatches[0].Matched)

	// 排除文件没有被读取
	assert.NotContains(t, report.FilesCollected, "debug.log")

	// 事件与报告缓存都收到了
	assert.Len(t, sink.cached, 1)
	assert.Len(t, sink.events, 10)
}

func TestRunNeverErrorsWithoutWorkspace(t *testing.T) {
	store := &fakeWorkspaceStore{ws: nil}
	p := NewPipeline(store, newFakeFS(), &fakeGit{}, &fakeExecer{}, &fakeVerifier{verdict: passingVerdict()})

	report := p.Run(context.Background(), testRequest())
	require.NotNil(t, report)
	assert.False(t, report.Verdict.Passed)
	assert.Contains(t, report.Verdict.OverallFeedback, "Verification error:")
	assert.Equal(t, model.CheckStatusError, report.Verdict.TestStatus)
}

func TestRunSafeFailsWhenVerifierErrors(t *testing.T) {
	store, fs, git, execer := pythonWorkspaceDeps()
	verifier := &fakeVerifier{err: errors.New("llm down")}

	p := NewPipeline(store, fs, git, execer, verifier)
	report := p.Run(context.Background(), testRequest())

	assert.False(t, report.Verdict.Passed)
	assert.Contains(t, report.Verdict.OverallFeedback, "llm down")
	// 其余证据仍然完整
	assert.Equal(t, "python", report.Language)
	assert.NotEmpty(t, report.FilesCollected)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  Language
	}{
		{"package.json", map[string]string{"package.json": `{"name":"x"}`}, LanguageJavaScript},
		{"typescript dep", map[string]string{"package.json": `{"devDependencies":{"typescript":"^5"}}`}, LanguageTypeScript},
		{"requirements", map[string]string{"requirements.txt": "flask"}, LanguagePython},
		{"pyproject", map[string]string{"pyproject.toml": "[project]"}, LanguagePython},
		{"extension counting py", map[string]string{"a.py": "", "b.py": "", "c.js": ""}, LanguagePython},
		{"extension counting js", map[string]string{"a.js": "x", "b.ts": "x"}, LanguageJavaScript},
		{"empty", map[string]string{}, LanguageUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeFS()
			for k, v := range tt.files {
				fs.files[k] = v
			}
			p := NewPipeline(nil, fs, nil, nil, nil)
			got := p.detectLanguage(context.Background(), "ctr-1")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIncludeFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"app.py", true},
		{"src/server.js", true},
		{"node_modules/express/index.js", false},
		{"src/node_modules/x.js", false},
		{".git/config", false},
		{"__pycache__/app.cpython-311.pyc", false},
		{"app.pyc", false},
		{"package-lock.json", false},
		{"sub/package-lock.json", false},
		{"debug.log", false},
		{"bundle.min.js", false},
		{"dist/main.js", false},
		{"package.json", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, includeFile(tt.path), tt.path)
	}
}

func TestFixTestCommand(t *testing.T) {
	tests := []struct {
		command  string
		language Language
		want     string
	}{
		{"pytest tests/test_app.py -v", LanguagePython, "pytest tests/test_app.py -v"},
		{"pytest tests/test_app.py -v", LanguageJavaScript, "npx jest tests/test_app.test.js --passWithNoTests"},
		{"python -m pytest tests/test_app.py", LanguageTypeScript, "npx jest tests/test_app.test.js --passWithNoTests"},
		{"npm test", LanguageJavaScript, "npm test"},
		{"pytest", LanguageJavaScript, "npm test"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, fixTestCommand(tt.command, tt.language), tt.command)
	}
}

func TestRunJavaScriptCommandAutoFix(t *testing.T) {
	store := &fakeWorkspaceStore{ws: &model.Workspace{ID: "ws-1", ContainerID: strPtr("ctr-1")}}
	fs := newFakeFS()
	fs.files["package.json"] = `{"name":"todo"}`
	fs.files["server.js"] = "function add(a, b) { return a + b; }"
	execer := &fakeExecer{responses: map[string]execResponse{
		"jest --version": {code: 0},
		"npx jest":       {code: 0, output: "PASS"},
	}}

	req := testRequest()
	req.Task.TestCommand = "pytest tests/test_app.py -v"
	req.Task.TestFileContent = ""

	p := NewPipeline(store, fs, &fakeGit{}, execer, &fakeVerifier{verdict: passingVerdict()})
	report := p.Run(context.Background(), req)

	assert.Equal(t, "javascript", report.Language)
	assert.True(t, execer.ran("npx jest tests/test_app.test.js --passWithNoTests"))
	assert.False(t, execer.ran("python -m pytest"))
}

func TestRunHTTPProbe(t *testing.T) {
	store := &fakeWorkspaceStore{ws: &model.Workspace{ID: "ws-1", ContainerID: strPtr("ctr-1")}}
	fs := newFakeFS()
	fs.files["package.json"] = `{"name":"api"}`
	execer := &fakeExecer{responses: map[string]execResponse{
		"localhost:3000": {code: 0, output: "failed"},
		"localhost:5000": {code: 0, output: "200"},
		"jest":           {code: 0},
	}}

	req := testRequest()
	req.Task.Description = "Build an express server with a GET route"
	req.Task.TestFilePath = ""
	req.Task.TestFileContent = ""

	p := NewPipeline(store, fs, &fakeGit{}, execer, &fakeVerifier{verdict: passingVerdict()})
	report := p.Run(context.Background(), req)

	require.NotNil(t, report.HTTPProbe)
	assert.True(t, report.HTTPProbe.Reachable)
	assert.Equal(t, 5000, report.HTTPProbe.Port)
	assert.Equal(t, 200, report.HTTPProbe.StatusCode)
}

func TestRunHTTPProbeNoServer(t *testing.T) {
	store := &fakeWorkspaceStore{ws: &model.Workspace{ID: "ws-1", ContainerID: strPtr("ctr-1")}}
	fs := newFakeFS()
	fs.files["app.py"] = "import flask"
	fs.files["requirements.txt"] = "flask"
	execer := &fakeExecer{responses: map[string]execResponse{
		"localhost": {code: 0, output: "failed"},
		"pytest":    {code: 0},
	}}

	req := testRequest()
	req.Task.Description = "Create a flask endpoint"

	p := NewPipeline(store, fs, &fakeGit{}, execer, &fakeVerifier{verdict: passingVerdict()})
	report := p.Run(context.Background(), req)

	require.NotNil(t, report.HTTPProbe)
	assert.False(t, report.HTTPProbe.Reachable)
}

func TestCollectFilesLimitsAndTruncates(t *testing.T) {
	store := &fakeWorkspaceStore{ws: &model.Workspace{ID: "ws-1", ContainerID: strPtr("ctr-1")}}
	fs := newFakeFS()
	var changed []string
	for i := 0; i < 15; i++ {
		name := fmt.Sprintf("file%02d.py", i)
		fs.files[name] = "x = 1"
		changed = append(changed, name)
	}
	fs.files["big.py"] = strings.Repeat("a", 20000)
	changed = append(changed, "big.py")
	git := &fakeGit{status: &gitbridge.Status{Modified: changed}}

	req := testRequest()
	req.Task.TestFilePath = ""
	req.Task.TestFileContent = ""
	req.Task.Patterns = nil

	verifier := &fakeVerifier{verdict: passingVerdict()}
	p := NewPipeline(store, fs, git, &fakeExecer{}, verifier)
	report := p.Run(context.Background(), req)

	// 超出上限的变更文件没有被读取
	assert.Len(t, report.FilesCollected, 10)
	assert.NotContains(t, report.FilesCollected, "big.py")

	// 截断超大文件
	fs2 := newFakeFS()
	fs2.files["big.py"] = strings.Repeat("a", 20000)
	git2 := &fakeGit{status: &gitbridge.Status{Modified: []string{"big.py"}}}
	p2 := NewPipeline(store, fs2, git2, &fakeExecer{}, verifier)
	p2.Run(context.Background(), req)
	assert.Contains(t, verifier.input.FileContents["big.py"], "... (truncated)")
	assert.LessOrEqual(t, len(verifier.input.FileContents["big.py"]), maxFileContentSize+30)
}

func TestChangedFilesFromDiff(t *testing.T) {
	store := &fakeWorkspaceStore{ws: &model.Workspace{ID: "ws-1", ContainerID: strPtr("ctr-1")}}
	fs := newFakeFS()
	fs.files["app.py"] = "def add(): pass"
	fs.files["requirements.txt"] = "flask"
	git := &fakeGit{diff: "diff --git a/app.py b/app.py\n+def add(): pass\n"}

	req := testRequest()
	req.BaseCommit = "abc123"
	req.Task.TestFilePath = ""
	req.Task.TestFileContent = ""

	verifier := &fakeVerifier{verdict: passingVerdict()}
	p := NewPipeline(store, fs, git, &fakeExecer{}, verifier)
	p.Run(context.Background(), req)

	assert.Contains(t, verifier.input.ChangedFiles, "app.py")
	assert.Equal(t, git.diff, verifier.input.GitDiff)
}
