package gitbridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"gitguide/pkg/docker"
)

const workspaceDir = "/workspace"

// cloneTempDir 克隆落地的临时目录，成功后条目整体搬入工作区
const cloneTempDir = "/tmp/git-clone-temp"

var (
	// ErrNotARepo 工作区不是 git 仓库
	ErrNotARepo = errors.New("workspace is not a git repository")
	// ErrAlreadyRepo 工作区已经是 git 仓库，拒绝重复克隆
	ErrAlreadyRepo = errors.New("workspace already contains a git repository")
	// ErrBranchNotFound 分支不存在
	ErrBranchNotFound = errors.New("branch not found")
	// ErrUncommittedChanges 存在未提交变更
	ErrUncommittedChanges = errors.New("workspace has uncommitted changes")
)

// Execer 容器内命令执行能力
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd []string, opts *docker.ExecOptions) (int, string, error)
}

// Author git 作者信息
type Author struct {
	Name  string
	Email string
}

// Commit 一条提交记录
type Commit struct {
	SHA     string `json:"sha"`
	Author  string `json:"author"`
	Email   string `json:"email"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// CommitResult 提交操作结果
type CommitResult struct {
	Committed bool   `json:"committed"` // false 表示没有可提交内容
	SHA       string `json:"sha,omitempty"`
	Message   string `json:"message"`
}

// MergeResult 合并操作结果
type MergeResult struct {
	Success   bool     `json:"success"`
	Conflicts []string `json:"conflicts,omitempty"`
	Message   string   `json:"message"`
}

// Service git 桥服务
type Service struct {
	runtime Execer
	author  Author // 请求未携带作者信息时的兜底值
}

// NewService 创建 git 桥服务
func NewService(runtime Execer, fallback Author) *Service {
	return &Service{runtime: runtime, author: fallback}
}

// gitEnv 构造 git 命令环境变量，作者和提交者保持一致
func (s *Service) gitEnv(author *Author) []string {
	a := s.author
	if author != nil && author.Name != "" {
		a = *author
	}
	return []string{
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME=" + a.Name,
		"GIT_AUTHOR_EMAIL=" + a.Email,
		"GIT_COMMITTER_NAME=" + a.Name,
		"GIT_COMMITTER_EMAIL=" + a.Email,
	}
}

// git 在容器内执行 git 子命令
func (s *Service) git(ctx context.Context, containerID string, author *Author, args ...string) (int, string, error) {
	cmd := append([]string{"git"}, args...)
	code, output, err := s.runtime.Exec(ctx, containerID, cmd, &docker.ExecOptions{
		WorkDir: workspaceDir,
		Env:     s.gitEnv(author),
	})
	return code, Redact(output), err
}

// sh 在容器内以 sh -c 执行命令，用于需要 shell 语义的步骤
func (s *Service) sh(ctx context.Context, containerID, command string) (int, string, error) {
	code, output, err := s.runtime.Exec(ctx, containerID, []string{"sh", "-c", command}, &docker.ExecOptions{
		WorkDir: workspaceDir,
		Env:     s.gitEnv(nil),
	})
	return code, Redact(output), err
}

// IsRepo 判断工作区是否为 git 仓库
func (s *Service) IsRepo(ctx context.Context, containerID string) (bool, error) {
	code, _, err := s.runtime.Exec(ctx, containerID, []string{"test", "-d", workspaceDir + "/.git"}, nil)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// Status 获取工作区 git 状态
func (s *Service) Status(ctx context.Context, containerID string) (*Status, error) {
	code, output, err := s.git(ctx, containerID, nil, "status", "--porcelain", "-b")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		if strings.Contains(output, "not a git repository") {
			return nil, ErrNotARepo
		}
		return nil, fmt.Errorf("git status failed: %s", strings.TrimSpace(output))
	}
	return parsePorcelainStatus(output), nil
}

// Clone 克隆仓库到工作区
//
// 先落到临时目录再整体搬入，避免半成品污染工作区；非空且非 git
// 的已有内容先备份到 /workspace/.gitguide_backup_<unix>。
func (s *Service) Clone(ctx context.Context, containerID, repoURL, token, branch string) error {
	isRepo, err := s.IsRepo(ctx, containerID)
	if err != nil {
		return err
	}
	if isRepo {
		return ErrAlreadyRepo
	}

	authURL, err := InjectToken(repoURL, token)
	if err != nil {
		return err
	}

	// 非空工作区先备份
	code, output, err := s.sh(ctx, containerID, "ls -A "+workspaceDir)
	if err != nil {
		return err
	}
	if code == 0 && strings.TrimSpace(output) != "" {
		backupCmd := `d=` + workspaceDir + `/.gitguide_backup_$(date +%s); mkdir -p "$d"; ` +
			`find ` + workspaceDir + ` -mindepth 1 -maxdepth 1 ! -path "$d" -exec mv {} "$d/" \;`
		if code, output, err = s.sh(ctx, containerID, backupCmd); err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("failed to back up workspace: %s", strings.TrimSpace(output))
		}
		log.Printf("[Git] Backed up non-empty workspace in container %.12s", containerID)
	}

	cloneArgs := "git clone"
	if branch != "" {
		cloneArgs += " --branch " + shellQuoteArg(branch)
	}
	cloneCmd := fmt.Sprintf("rm -rf %s && %s %s %s", cloneTempDir, cloneArgs, shellQuoteArg(authURL), cloneTempDir)
	code, output, err = s.sh(ctx, containerID, cloneCmd)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("git clone failed: %s", strings.TrimSpace(output))
	}

	moveCmd := fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -exec mv {} %s/ \\; && rm -rf %s",
		cloneTempDir, workspaceDir, cloneTempDir)
	code, output, err = s.sh(ctx, containerID, moveCmd)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("failed to move cloned files: %s", strings.TrimSpace(output))
	}

	// origin 不允许落盘携带令牌，改写为干净 URL，后续操作按需注入
	cleanURL, err := InjectToken(repoURL, "")
	if err != nil {
		return err
	}
	if code, output, err = s.git(ctx, containerID, nil, "remote", "set-url", "origin", cleanURL); err != nil {
		return err
	} else if code != 0 {
		return fmt.Errorf("failed to reset remote url: %s", strings.TrimSpace(output))
	}

	log.Printf("[Git] Cloned %s into container %.12s", Redact(repoURL), containerID)
	return nil
}

// Commit 暂存全部变更并提交
//
// "nothing to commit" 不是错误，以 Committed=false 区分
func (s *Service) Commit(ctx context.Context, containerID, message string, author *Author) (*CommitResult, error) {
	if code, output, err := s.git(ctx, containerID, author, "add", "-A"); err != nil {
		return nil, err
	} else if code != 0 {
		return nil, fmt.Errorf("git add failed: %s", strings.TrimSpace(output))
	}

	code, output, err := s.git(ctx, containerID, author, "commit", "-m", message)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		if strings.Contains(output, "nothing to commit") {
			return &CommitResult{Committed: false, Message: "nothing to commit"}, nil
		}
		return nil, fmt.Errorf("git commit failed: %s", strings.TrimSpace(output))
	}

	sha, err := s.RevParse(ctx, containerID, "HEAD")
	if err != nil {
		return nil, err
	}
	return &CommitResult{Committed: true, SHA: sha, Message: strings.TrimSpace(output)}, nil
}

// Push 推送当前分支
func (s *Service) Push(ctx context.Context, containerID, token string) error {
	return s.pushInternal(ctx, containerID, token, false, "")
}

// ForcePush 强制推送指定分支，仅供平台覆写流程调用
func (s *Service) ForcePush(ctx context.Context, containerID, token, branch string) error {
	return s.pushInternal(ctx, containerID, token, true, branch)
}

func (s *Service) pushInternal(ctx context.Context, containerID, token string, force bool, branch string) error {
	remoteURL, err := s.remoteURL(ctx, containerID)
	if err != nil {
		return err
	}
	authURL, err := InjectToken(remoteURL, token)
	if err != nil {
		return err
	}

	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, authURL)
	if branch != "" {
		args = append(args, branch)
	} else {
		args = append(args, "HEAD")
	}

	code, output, err := s.git(ctx, containerID, nil, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("git push failed: %s", strings.TrimSpace(output))
	}
	return nil
}

// Pull 拉取远端变更
func (s *Service) Pull(ctx context.Context, containerID, token string) error {
	remoteURL, err := s.remoteURL(ctx, containerID)
	if err != nil {
		return err
	}
	authURL, err := InjectToken(remoteURL, token)
	if err != nil {
		return err
	}

	code, output, err := s.git(ctx, containerID, nil, "pull", authURL)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("git pull failed: %s", strings.TrimSpace(output))
	}
	return nil
}

// CommitAndPush 提交并推送
func (s *Service) CommitAndPush(ctx context.Context, containerID, message, token string, author *Author) (*CommitResult, error) {
	result, err := s.Commit(ctx, containerID, message, author)
	if err != nil {
		return nil, err
	}
	if !result.Committed {
		return result, nil
	}
	if err := s.Push(ctx, containerID, token); err != nil {
		return result, err
	}
	return result, nil
}

// Merge 合并分支
//
// 合并命令退出码为 0 不代表没有冲突，以合并后的 status 为准；
// 发现冲突立即 abort 并返回冲突文件列表。
func (s *Service) Merge(ctx context.Context, containerID, branch string) (*MergeResult, error) {
	code, _, err := s.git(ctx, containerID, nil, "rev-parse", "--verify", branch)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}

	st, err := s.Status(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if !st.Clean() {
		return nil, ErrUncommittedChanges
	}

	_, output, err := s.git(ctx, containerID, nil, "merge", branch)
	if err != nil {
		return nil, err
	}

	after, err := s.Status(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if after.HasConflicts() {
		conflicts := after.Conflicts
		if code, abortOut, abortErr := s.git(ctx, containerID, nil, "merge", "--abort"); abortErr != nil || code != 0 {
			log.Printf("[Git] merge --abort failed in container %.12s: %s", containerID, strings.TrimSpace(abortOut))
		}
		return &MergeResult{
			Success:   false,
			Conflicts: conflicts,
			Message:   fmt.Sprintf("merge of %s has conflicts", branch),
		}, nil
	}

	return &MergeResult{Success: true, Message: strings.TrimSpace(output)}, nil
}

// logFieldSep 提交字段分隔符，避免撞上提交信息里的常见字符
const logFieldSep = "\x1f"

// Log 返回最近的提交记录
func (s *Service) Log(ctx context.Context, containerID string, maxCount int) ([]Commit, error) {
	if maxCount <= 0 {
		maxCount = 20
	}
	return s.logRange(ctx, containerID, "", maxCount)
}

// LogRange 返回 from..to 区间的提交记录，上限 100 条
func (s *Service) LogRange(ctx context.Context, containerID, from, to string, maxCount int) ([]Commit, error) {
	if maxCount <= 0 || maxCount > 100 {
		maxCount = 100
	}
	return s.logRange(ctx, containerID, from+".."+to, maxCount)
}

func (s *Service) logRange(ctx context.Context, containerID, rangeSpec string, maxCount int) ([]Commit, error) {
	args := []string{"log", fmt.Sprintf("--pretty=format:%%H%s%%an%s%%ae%s%%aI%s%%s", logFieldSep, logFieldSep, logFieldSep, logFieldSep), "-n", fmt.Sprintf("%d", maxCount)}
	if rangeSpec != "" {
		args = append(args, rangeSpec)
	}

	code, output, err := s.git(ctx, containerID, nil, args...)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		if strings.Contains(output, "not a git repository") {
			return nil, ErrNotARepo
		}
		return nil, fmt.Errorf("git log failed: %s", strings.TrimSpace(output))
	}

	return parseLogOutput(output), nil
}

// parseLogOutput 解析自定义格式的 git log 输出
func parseLogOutput(output string) []Commit {
	commits := make([]Commit, 0)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, logFieldSep, 5)
		if len(parts) != 5 {
			continue
		}
		commits = append(commits, Commit{
			SHA:     parts[0],
			Author:  parts[1],
			Email:   parts[2],
			Date:    parts[3],
			Message: parts[4],
		})
	}
	return commits
}

// RevParse 解析引用为提交 SHA
func (s *Service) RevParse(ctx context.Context, containerID, ref string) (string, error) {
	code, output, err := s.git(ctx, containerID, nil, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	if code != 0 {
		if strings.Contains(output, "not a git repository") {
			return "", ErrNotARepo
		}
		return "", fmt.Errorf("git rev-parse %s failed: %s", ref, strings.TrimSpace(output))
	}
	return strings.TrimSpace(output), nil
}

// CurrentBranch 返回当前分支名
func (s *Service) CurrentBranch(ctx context.Context, containerID string) (string, error) {
	code, output, err := s.git(ctx, containerID, nil, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("failed to resolve current branch: %s", strings.TrimSpace(output))
	}
	return strings.TrimSpace(output), nil
}

// Checkout 切换分支，create 为 true 时创建新分支
func (s *Service) Checkout(ctx context.Context, containerID, branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)

	code, output, err := s.git(ctx, containerID, nil, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("git checkout failed: %s", strings.TrimSpace(output))
	}
	return nil
}

// Branches 列出本地分支
func (s *Service) Branches(ctx context.Context, containerID string) ([]string, error) {
	code, output, err := s.git(ctx, containerID, nil, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("git branch failed: %s", strings.TrimSpace(output))
	}

	branches := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		if b := strings.TrimSpace(line); b != "" {
			branches = append(branches, b)
		}
	}
	return branches, nil
}

// Diff 返回 base 到 head 的文本差异，head 为空时取 HEAD
func (s *Service) Diff(ctx context.Context, containerID, base, head string) (string, error) {
	if head == "" {
		head = "HEAD"
	}
	code, output, err := s.git(ctx, containerID, nil, "diff", base, head)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("git diff failed: %s", strings.TrimSpace(output))
	}
	return output, nil
}

// ResetHard 硬重置到指定提交，调用前的权限校验由上层负责
func (s *Service) ResetHard(ctx context.Context, containerID, sha string) error {
	code, output, err := s.git(ctx, containerID, nil, "reset", "--hard", sha)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("git reset --hard failed: %s", strings.TrimSpace(output))
	}
	return nil
}

// Fetch 拉取远端引用
func (s *Service) Fetch(ctx context.Context, containerID, token string) error {
	remoteURL, err := s.remoteURL(ctx, containerID)
	if err != nil {
		return err
	}
	authURL, err := InjectToken(remoteURL, token)
	if err != nil {
		return err
	}

	code, output, err := s.git(ctx, containerID, nil, "fetch", authURL)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("git fetch failed: %s", strings.TrimSpace(output))
	}
	return nil
}

// LsRemoteHead 查询远端分支最新提交 SHA
func (s *Service) LsRemoteHead(ctx context.Context, containerID, token, branch string) (string, error) {
	remoteURL, err := s.remoteURL(ctx, containerID)
	if err != nil {
		return "", err
	}
	authURL, err := InjectToken(remoteURL, token)
	if err != nil {
		return "", err
	}

	code, output, err := s.git(ctx, containerID, nil, "ls-remote", authURL, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("git ls-remote failed: %s", strings.TrimSpace(output))
	}

	fields := strings.Fields(output)
	if len(fields) == 0 {
		return "", fmt.Errorf("remote branch %s not found", branch)
	}
	return fields[0], nil
}

// remoteURL 读取 origin 远端地址
func (s *Service) remoteURL(ctx context.Context, containerID string) (string, error) {
	code, output, err := s.git(ctx, containerID, nil, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("failed to resolve remote url: %s", strings.TrimSpace(output))
	}
	return strings.TrimSpace(output), nil
}

// shellQuoteArg 单引号转义
func shellQuoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
