// Package verify 任务校验管线
//
// 多层证据收集加 LLM 终审：语言探测、文件收集、结构扫描、模式
// 匹配、测试执行、HTTP 探活，逐阶段推进并容错。任何阶段失败都
// 不会让 Run 返回错误，最坏情况产出一份安全失败报告。
package verify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gitguide/internal/fsbridge"
	"gitguide/internal/gitbridge"
	"gitguide/internal/model"
	"gitguide/internal/storage"
	"gitguide/internal/verify/astscan"
	"gitguide/pkg/docker"
)

// Language 探测到的项目语言
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageUnknown    Language = "unknown"
)

// excludePatterns 永远排除的文件和目录
var excludePatterns = []string{
	"node_modules/",
	".git/",
	"__pycache__/",
	".pytest_cache/",
	".venv/",
	"venv/",
	".env",
	"*.pyc",
	"*.pyo",
	"*.lock",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"*.log",
	"*.min.js",
	"*.min.css",
	"dist/",
	"build/",
	".next/",
	"coverage/",
}

// keyFiles 除变更文件外始终尝试读取的关键文件
var keyFiles = []string{
	"package.json",
	"requirements.txt",
	"pyproject.toml",
	"server.js",
	"app.py",
	"main.py",
}

// webKeywords 任务描述里出现则视为 web 任务，触发 HTTP 探活
var webKeywords = []string{
	"route", "endpoint", "api", "server", "express", "flask",
	"http", "get request", "post request",
}

// probePorts HTTP 探活尝试的端口
var probePorts = []int{3000, 5000, 8080, 8000, 4000}

const (
	maxRelevantFiles   = 10
	maxFileContentSize = 15000
)

// TaskSpec 平台下发的任务校验要求
type TaskSpec struct {
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Requirements    string            `json:"requirements"`
	TestCommand     string            `json:"test_command,omitempty"`
	TestFilePath    string            `json:"test_file_path,omitempty"`
	TestFileContent string            `json:"test_file_content,omitempty"`
	Patterns        *astscan.Patterns `json:"patterns,omitempty"`
}

// Request 一次校验运行的输入
type Request struct {
	SessionID   string   `json:"session_id"`
	TaskID      string   `json:"task_id"`
	WorkspaceID string   `json:"workspace_id"`
	UserID      string   `json:"user_id"`
	BaseCommit  string   `json:"base_commit,omitempty"`
	Task        TaskSpec `json:"task"`
}

// === 依赖接口 ===

// WorkspaceStore 工作区查询
type WorkspaceStore interface {
	GetWorkspace(ctx context.Context, id string) (*model.Workspace, error)
}

// FileSystem 容器文件读写
type FileSystem interface {
	ReadFile(ctx context.Context, containerID, filePath string) ([]byte, error)
	WriteFile(ctx context.Context, containerID, filePath string, data []byte) error
	ListDir(ctx context.Context, containerID, dirPath string) ([]fsbridge.FileEntry, error)
	Mkdir(ctx context.Context, containerID, dirPath string) error
}

// Git 变更证据收集
type Git interface {
	Diff(ctx context.Context, containerID, base, head string) (string, error)
	Status(ctx context.Context, containerID string) (*gitbridge.Status, error)
}

// Execer 容器内命令执行
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd []string, opts *docker.ExecOptions) (int, string, error)
}

// EventSink 运行状态与事件外发，通常由 RedisStore 承担
type EventSink interface {
	SetVerifyState(ctx context.Context, sessionID string, state *storage.VerifyState) error
	PublishVerifyEvent(ctx context.Context, sessionID string, event *storage.VerifyEvent) error
	CacheVerifyReport(ctx context.Context, sessionID string, report interface{}) error
}

// Archive 报告归档，可选
type Archive interface {
	SaveReport(ctx context.Context, report *model.VerifyReport) error
}

// Evidence 证据包上传，可选
type Evidence interface {
	PutEvidence(ctx context.Context, sessionID, reportID, name string, data []byte, contentType string) error
}

// Pipeline 校验管线
type Pipeline struct {
	store    WorkspaceStore
	fs       FileSystem
	git      Git
	execer   Execer
	verifier Verifier

	events   EventSink // 可为 nil
	archive  Archive   // 可为 nil
	evidence Evidence  // 可为 nil
}

// NewPipeline 创建校验管线，events/archive/evidence 允许为 nil
func NewPipeline(store WorkspaceStore, fs FileSystem, git Git, execer Execer, verifier Verifier) *Pipeline {
	return &Pipeline{
		store:    store,
		fs:       fs,
		git:      git,
		execer:   execer,
		verifier: verifier,
	}
}

// WithSinks 挂接事件、归档和证据出口
func (p *Pipeline) WithSinks(events EventSink, archive Archive, evidence Evidence) *Pipeline {
	p.events = events
	p.archive = archive
	p.evidence = evidence
	return p
}

// runState 单次运行过程中的累积证据
type runState struct {
	containerID string
	language    Language

	changedFiles []string
	fileContents map[string]string
	gitDiff      string

	analysis    *astscan.Analysis
	matchResult *astscan.MatchResult
	testOutput  string
	testCommand string
	testRan     bool
	testPassed  bool
	httpProbe   *model.HTTPProbeResult
	webTask     bool

	warnings []string
	stages   []model.StageResult
}

func (st *runState) warn(format string, args ...interface{}) {
	st.warnings = append(st.warnings, fmt.Sprintf(format, args...))
}

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// Run 执行完整校验流程，永不返回错误
//
// 阶段独立容错：证据收集失败记为警告继续推进，最终 LLM 失败
// 降级为安全失败裁决。报告总是写入缓存与归档（若配置了）。
func (p *Pipeline) Run(ctx context.Context, req *Request) *model.VerifyReport {
	started := time.Now()
	report := &model.VerifyReport{
		ID:          generateID("vr"),
		SessionID:   req.SessionID,
		TaskID:      req.TaskID,
		WorkspaceID: req.WorkspaceID,
		CreatedAt:   started,
	}

	log.Printf("[Verify] Starting pipeline %s (task=%s, workspace=%s)", report.ID, req.TaskID, req.WorkspaceID)

	st := &runState{
		language:     LanguageUnknown,
		fileContents: map[string]string{},
	}

	// 阶段 0：定位容器，唯一的硬前置
	p.stage(ctx, req, st, "workspace", func() error {
		ws, err := p.store.GetWorkspace(ctx, req.WorkspaceID)
		if err != nil {
			return err
		}
		if ws == nil || ws.ContainerID == nil {
			return fmt.Errorf("workspace not found or has no container")
		}
		st.containerID = *ws.ContainerID
		return nil
	})
	if st.containerID == "" {
		report.Verdict = *SafeFailVerdict(fmt.Errorf("workspace has no running container"))
		p.finish(ctx, req, st, report, started)
		return report
	}

	p.stage(ctx, req, st, "detect_language", func() error {
		st.language = p.detectLanguage(ctx, st.containerID)
		return nil
	})
	log.Printf("[Verify] Pipeline %s: language=%s", report.ID, st.language)

	p.stage(ctx, req, st, "git_evidence", func() error {
		p.collectGitEvidence(ctx, req, st)
		return nil
	})

	p.stage(ctx, req, st, "collect_files", func() error {
		p.collectFiles(ctx, st)
		return nil
	})

	p.stage(ctx, req, st, "static_analysis", func() error {
		st.analysis = p.analyzeFiles(st)
		return nil
	})

	p.stage(ctx, req, st, "pattern_match", func() error {
		if req.Task.Patterns.Empty() || len(st.fileContents) == 0 {
			return nil
		}
		st.matchResult = astscan.Match(p.combinedCode(st), req.Task.Patterns, p.matcherLanguage(st.language))
		return nil
	})

	p.stage(ctx, req, st, "test_framework", func() error {
		p.ensureTestFramework(ctx, st)
		return nil
	})

	p.stage(ctx, req, st, "run_tests", func() error {
		p.runTests(ctx, req, st)
		return nil
	})

	p.stage(ctx, req, st, "http_probe", func() error {
		p.httpProbe(ctx, req, st)
		return nil
	})

	p.stage(ctx, req, st, "llm_verdict", func() error {
		verdict, err := p.verifier.Verify(ctx, p.buildVerifyInput(req, st))
		if verdict == nil {
			verdict = SafeFailVerdict(err)
		}
		report.Verdict = *verdict
		return err
	})

	p.finish(ctx, req, st, report, started)
	return report
}

// stage 执行单个阶段并记录耗时与状态
func (p *Pipeline) stage(ctx context.Context, req *Request, st *runState, name string, fn func() error) {
	begin := time.Now()
	err := fn()

	result := model.StageResult{
		Stage:      name,
		Status:     "ok",
		DurationMS: time.Since(begin).Milliseconds(),
	}
	if err != nil {
		result.Status = "error"
		result.Detail = err.Error()
		st.warn("stage %s: %v", name, err)
	}
	st.stages = append(st.stages, result)

	p.publishStage(ctx, req.SessionID, name, err, len(st.stages))
}

// publishStage 阶段进度外发，失败只记日志
func (p *Pipeline) publishStage(ctx context.Context, sessionID, stage string, stageErr error, seq int) {
	if p.events == nil || sessionID == "" {
		return
	}
	state := &storage.VerifyState{Stage: stage, Progress: seq * 100 / 10}
	if stageErr != nil {
		state.Error = stageErr.Error()
	}
	if err := p.events.SetVerifyState(ctx, sessionID, state); err != nil {
		log.Printf("[Verify] Failed to set state for session %s: %v", sessionID, err)
	}
	event := &storage.VerifyEvent{Stage: stage, Timestamp: time.Now()}
	if stageErr != nil {
		event.Data = map[string]interface{}{"error": stageErr.Error()}
	}
	if err := p.events.PublishVerifyEvent(ctx, sessionID, event); err != nil {
		log.Printf("[Verify] Failed to publish event for session %s: %v", sessionID, err)
	}
}

// === 阶段实现 ===

// detectLanguage 按清单文件判断语言，失败回退到扩展名计数
func (p *Pipeline) detectLanguage(ctx context.Context, containerID string) Language {
	if pkg, err := p.fs.ReadFile(ctx, containerID, "package.json"); err == nil && len(pkg) > 0 {
		content := string(pkg)
		if strings.Contains(content, `"typescript"`) || strings.Contains(content, "tsconfig.json") {
			return LanguageTypeScript
		}
		return LanguageJavaScript
	}
	if req, err := p.fs.ReadFile(ctx, containerID, "requirements.txt"); err == nil && len(req) > 0 {
		return LanguagePython
	}
	if py, err := p.fs.ReadFile(ctx, containerID, "pyproject.toml"); err == nil && len(py) > 0 {
		return LanguagePython
	}

	entries, err := p.fs.ListDir(ctx, containerID, "/workspace")
	if err != nil {
		return LanguageUnknown
	}
	pyCount, jsCount := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name, ".py"):
			pyCount++
		case strings.HasSuffix(e.Name, ".js"), strings.HasSuffix(e.Name, ".jsx"),
			strings.HasSuffix(e.Name, ".ts"), strings.HasSuffix(e.Name, ".tsx"):
			jsCount++
		}
	}
	if pyCount > jsCount {
		return LanguagePython
	}
	if jsCount > 0 {
		return LanguageJavaScript
	}
	return LanguageUnknown
}

var diffFileRe = regexp.MustCompile(`(?m)^diff --git a/(.+?) b/`)

// collectGitEvidence 收集 diff 与变更文件列表
func (p *Pipeline) collectGitEvidence(ctx context.Context, req *Request, st *runState) {
	if req.BaseCommit != "" {
		diff, err := p.git.Diff(ctx, st.containerID, req.BaseCommit, "HEAD")
		if err != nil {
			st.warn("failed to get git diff: %v", err)
		} else {
			st.gitDiff = diff
		}
	}

	status, err := p.git.Status(ctx, st.containerID)
	if err != nil {
		st.warn("failed to get git status: %v", err)
	} else {
		st.changedFiles = append(st.changedFiles, status.Modified...)
		st.changedFiles = append(st.changedFiles, status.Staged...)
		st.changedFiles = append(st.changedFiles, status.Untracked...)
	}

	// diff 里出现但状态里没有的文件也算变更
	for _, m := range diffFileRe.FindAllStringSubmatch(st.gitDiff, -1) {
		if !contains(st.changedFiles, m[1]) {
			st.changedFiles = append(st.changedFiles, m[1])
		}
	}
}

// collectFiles 过滤排除项后读取变更文件和关键文件
func (p *Pipeline) collectFiles(ctx context.Context, st *runState) {
	var relevant []string
	for _, f := range st.changedFiles {
		if includeFile(f) {
			relevant = append(relevant, f)
		}
	}
	if len(relevant) > maxRelevantFiles {
		relevant = relevant[:maxRelevantFiles]
	}

	toRead := append([]string{}, relevant...)
	for _, key := range keyFiles {
		if !contains(toRead, key) {
			toRead = append(toRead, key)
		}
	}

	for _, path := range toRead {
		data, err := p.fs.ReadFile(ctx, st.containerID, path)
		if err != nil {
			// 关键文件不存在很常见，只有变更文件读取失败才告警
			if contains(relevant, path) {
				st.warn("failed to read %s: %v", path, err)
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		content := string(data)
		if len(content) > maxFileContentSize {
			content = content[:maxFileContentSize] + "\n... (truncated)"
		}
		st.fileContents[path] = content
	}
}

// includeFile 排除列表判定
func includeFile(path string) bool {
	for _, pattern := range excludePatterns {
		switch {
		case strings.HasSuffix(pattern, "/"):
			if strings.HasPrefix(path, pattern) || strings.Contains(path, "/"+pattern) {
				return false
			}
		case strings.HasPrefix(pattern, "*"):
			if strings.HasSuffix(path, pattern[1:]) {
				return false
			}
		default:
			if path == pattern || strings.HasSuffix(path, "/"+pattern) {
				return false
			}
		}
	}
	return true
}

// analyzeFiles 对收集到的源码做结构扫描并合并
func (p *Pipeline) analyzeFiles(st *runState) *astscan.Analysis {
	combined := &astscan.Analysis{
		Functions: []astscan.Function{},
		Classes:   []astscan.Class{},
		Imports:   []astscan.Import{},
	}
	for _, path := range sortedKeys(st.fileContents) {
		if a := astscan.AnalyzeFile(path, st.fileContents[path]); a != nil {
			combined.Merge(a)
		}
	}
	return combined
}

// ensureTestFramework 按语言确保测试框架可用
func (p *Pipeline) ensureTestFramework(ctx context.Context, st *runState) {
	switch st.language {
	case LanguagePython:
		code, _, err := p.sh(ctx, st.containerID, "python -c 'import pytest'")
		if err != nil || code == 0 {
			return
		}
		log.Printf("[Verify] Installing pytest in container %.12s", st.containerID)
		if code, output, err := p.sh(ctx, st.containerID, "pip install pytest -q"); err != nil || code != 0 {
			st.warn("failed to install pytest: %s", firstLine(output))
		}
	case LanguageJavaScript, LanguageTypeScript:
		code, _, err := p.sh(ctx, st.containerID, "npx jest --version")
		if err != nil || code == 0 {
			return
		}
		log.Printf("[Verify] Installing jest in container %.12s", st.containerID)
		p.sh(ctx, st.containerID, "npm install --save-dev jest 2>/dev/null || true")
		if code, _, err := p.sh(ctx, st.containerID, "npx jest --version"); err != nil || code != 0 {
			st.warn("jest not available, tests may fail")
		}
	}
}

// runTests 准备测试文件并执行测试命令
func (p *Pipeline) runTests(ctx context.Context, req *Request, st *runState) {
	task := req.Task
	if task.TestCommand == "" && task.TestFilePath == "" {
		st.warn("no test command or file specified for task")
		return
	}

	if task.TestFileContent != "" && task.TestFilePath != "" {
		if dir := parentDir(task.TestFilePath); dir != "" {
			if err := p.fs.Mkdir(ctx, st.containerID, dir); err != nil {
				st.warn("failed to create test directory: %v", err)
			}
		}
		if err := p.fs.WriteFile(ctx, st.containerID, task.TestFilePath, []byte(task.TestFileContent)); err != nil {
			st.warn("failed to write test file: %v", err)
		}
	}

	command := task.TestCommand
	if command == "" {
		switch st.language {
		case LanguageJavaScript, LanguageTypeScript:
			command = fmt.Sprintf("npx jest %s --passWithNoTests", task.TestFilePath)
		default:
			command = fmt.Sprintf("python -m pytest %s -v", task.TestFilePath)
		}
	}
	command = fixTestCommand(command, st.language)

	log.Printf("[Verify] Running tests: %s", command)
	code, output, err := p.sh(ctx, st.containerID, command)
	if err != nil {
		st.warn("test execution error: %v", err)
		return
	}

	st.testCommand = command
	st.testOutput = output
	st.testRan = true
	st.testPassed = code == 0
}

var pytestPathRe = regexp.MustCompile(`pytest\s+(\S+)`)

// fixTestCommand JS 项目里收到 pytest 命令时改写为 jest 等价命令
func fixTestCommand(command string, language Language) string {
	if language != LanguageJavaScript && language != LanguageTypeScript {
		return command
	}
	if !strings.Contains(command, "pytest") {
		return command
	}
	if m := pytestPathRe.FindStringSubmatch(command); m != nil {
		jsPath := strings.ReplaceAll(m[1], ".py", ".test.js")
		return fmt.Sprintf("npx jest %s --passWithNoTests", jsPath)
	}
	return "npm test"
}

// httpProbe web 任务探测运行中的服务
func (p *Pipeline) httpProbe(ctx context.Context, req *Request, st *runState) {
	text := strings.ToLower(req.Task.Description + " " + req.Task.Title)
	for _, kw := range webKeywords {
		if strings.Contains(text, kw) {
			st.webTask = true
			break
		}
	}
	if !st.webTask {
		return
	}

	log.Printf("[Verify] Web task detected, probing ports")
	for _, port := range probePorts {
		command := fmt.Sprintf(
			"curl -s -o /dev/null -w '%%{http_code}' --max-time 3 http://localhost:%d/ 2>/dev/null || echo failed", port)
		code, output, err := p.sh(ctx, st.containerID, command)
		if err != nil || code != 0 {
			continue
		}
		status := strings.TrimSpace(output)
		if status == "failed" || status == "000" || status == "" {
			continue
		}
		statusCode, _ := strconv.Atoi(status)
		st.httpProbe = &model.HTTPProbeResult{
			Port:       port,
			Reachable:  true,
			StatusCode: statusCode,
		}
		log.Printf("[Verify] Server detected on port %d (status %d)", port, statusCode)
		return
	}

	st.httpProbe = &model.HTTPProbeResult{Reachable: false}
	st.warn("web task detected but no server running")
}

// === 收尾 ===

// finish 填充报告、缓存、归档和证据上传
func (p *Pipeline) finish(ctx context.Context, req *Request, st *runState, report *model.VerifyReport, started time.Time) {
	report.Language = string(st.language)
	report.FilesCollected = sortedKeys(st.fileContents)
	report.TestOutput = st.testOutput
	report.PatternMatches = flattenMatches(st.matchResult)
	report.HTTPProbe = st.httpProbe
	report.Stages = st.stages
	report.DurationMS = time.Since(started).Milliseconds()

	if p.events != nil && req.SessionID != "" {
		if err := p.events.CacheVerifyReport(ctx, req.SessionID, report); err != nil {
			log.Printf("[Verify] Failed to cache report %s: %v", report.ID, err)
		}
	}
	if p.archive != nil {
		if err := p.archive.SaveReport(ctx, report); err != nil {
			log.Printf("[Verify] Failed to archive report %s: %v", report.ID, err)
		}
	}
	p.uploadEvidence(ctx, req, st, report)

	log.Printf("[Verify] Pipeline %s complete: passed=%v, warnings=%d, took=%dms",
		report.ID, report.Verdict.Passed, len(st.warnings), report.DurationMS)
}

// uploadEvidence 把证据包存入对象存储，失败不影响报告
func (p *Pipeline) uploadEvidence(ctx context.Context, req *Request, st *runState, report *model.VerifyReport) {
	if p.evidence == nil || req.SessionID == "" {
		return
	}

	put := func(name string, data []byte, contentType string) {
		if len(data) == 0 {
			return
		}
		if err := p.evidence.PutEvidence(ctx, req.SessionID, report.ID, name, data, contentType); err != nil {
			log.Printf("[Verify] Failed to upload evidence %s: %v", name, err)
		}
	}

	put("git_diff.patch", []byte(st.gitDiff), "text/x-patch")
	put("test_output.txt", []byte(st.testOutput), "text/plain")
	if snapshot, err := json.Marshal(st.fileContents); err == nil {
		put("files.json", snapshot, "application/json")
	}
	if reportJSON, err := json.Marshal(report); err == nil {
		put("report.json", reportJSON, "application/json")
	}
}

// buildVerifyInput 汇总全部证据供 LLM 终审
func (p *Pipeline) buildVerifyInput(req *Request, st *runState) *VerifyInput {
	input := &VerifyInput{
		TaskDescription:  req.Task.Description,
		TaskRequirements: orDefault(req.Task.Requirements, req.Task.Description),
		Language:         string(st.language),
		GitDiff:          st.gitDiff,
		ChangedFiles:     st.changedFiles,
		FileContents:     st.fileContents,
	}

	if st.testRan {
		status := "FAILED"
		if st.testPassed {
			status = "PASSED"
		}
		input.TestSummary = fmt.Sprintf("Command: %s\nStatus: %s\nOutput:\n%s",
			st.testCommand, status, truncate(st.testOutput, 4000))
	}

	if st.analysis != nil {
		input.AnalysisSummary = summarizeAnalysis(st.analysis)
	}
	if st.matchResult != nil {
		input.PatternSummary = st.matchResult.Summary()
	}
	if st.httpProbe != nil {
		if st.httpProbe.Reachable {
			input.HTTPSummary = fmt.Sprintf("Server reachable on port %d (status %d)",
				st.httpProbe.Port, st.httpProbe.StatusCode)
		} else {
			input.HTTPSummary = "No server detected on common ports"
		}
	}
	return input
}

func summarizeAnalysis(a *astscan.Analysis) string {
	if a.HasSyntaxErrors() {
		return "Syntax error: " + a.SyntaxError
	}
	var parts []string
	if len(a.Functions) > 0 {
		names := make([]string, 0, len(a.Functions))
		for _, f := range a.Functions {
			names = append(names, f.Name)
		}
		parts = append(parts, "Functions found: "+strings.Join(names, ", "))
	}
	if len(a.Classes) > 0 {
		names := make([]string, 0, len(a.Classes))
		for _, c := range a.Classes {
			names = append(names, c.Name)
		}
		parts = append(parts, "Classes found: "+strings.Join(names, ", "))
	}
	if len(a.Imports) > 0 {
		names := make([]string, 0, len(a.Imports))
		for _, imp := range a.Imports {
			names = append(names, imp.Module)
		}
		parts = append(parts, "Imports found: "+strings.Join(names, ", "))
	}
	if len(parts) == 0 {
		return "No functions, classes, or imports detected"
	}
	return strings.Join(parts, "\n")
}

// flattenMatches 把匹配结果展平为报告条目
func flattenMatches(result *astscan.MatchResult) []model.PatternMatch {
	if result == nil {
		return nil
	}
	var out []model.PatternMatch
	appendGroup := func(kind string, m map[string]astscan.MatchStatus) {
		for _, name := range sortedStatusKeys(m) {
			status := m[name]
			out = append(out, model.PatternMatch{
				Name:    name,
				Kind:    kind,
				Exists:  status.Exists,
				Matched: status.Matched,
			})
		}
	}
	appendGroup("function", result.RequiredFunctions)
	appendGroup("class", result.RequiredClasses)
	appendGroup("import", result.RequiredImports)
	appendGroup("pattern", result.CodePatterns)
	return out
}

// === 工具 ===

func (p *Pipeline) sh(ctx context.Context, containerID, command string) (int, string, error) {
	return p.execer.Exec(ctx, containerID, []string{"sh", "-c", command},
		&docker.ExecOptions{WorkDir: "/workspace"})
}

func (p *Pipeline) combinedCode(st *runState) string {
	var parts []string
	for _, path := range sortedKeys(st.fileContents) {
		parts = append(parts, st.fileContents[path])
	}
	return strings.Join(parts, "\n\n")
}

func (p *Pipeline) matcherLanguage(lang Language) string {
	switch lang {
	case LanguageJavaScript, LanguageTypeScript:
		return "javascript"
	default:
		return "python"
	}
}

func parentDir(path string) string {
	if i := strings.LastIndex(path, "/"); i > 0 {
		return path[:i]
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStatusKeys(m map[string]astscan.MatchStatus) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
