// Package tasksession 任务会话管理
//
// 任务会话把一次任务的做题过程锚定到一个基准提交（base commit），
// 校验阶段据此计算用户在该任务里真正改了什么。同一
// (task, user, workspace) 三元组只存在一个会话，重复开始返回已有会话。
package tasksession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"gitguide/internal/gitbridge"
	"gitguide/internal/model"
)

var (
	// ErrWorkspaceNotFound 工作区不存在或不属于该用户
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrNoContainer 工作区没有容器，无法读取 git 状态
	ErrNoContainer = errors.New("workspace has no container")
	// ErrRepoNotConfigured 项目还没绑定仓库，无法恢复克隆
	ErrRepoNotConfigured = errors.New("repository not configured for this project")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("task session not found")
)

// Git 基准提交采集所需的 git 能力
type Git interface {
	RevParse(ctx context.Context, containerID, ref string) (string, error)
	Clone(ctx context.Context, containerID, repoURL, token, branch string) error
	Diff(ctx context.Context, containerID, base, head string) (string, error)
}

// Store 会话与工作区持久化能力
type Store interface {
	CreateTaskSession(ctx context.Context, ts *model.TaskSession) error
	GetTaskSession(ctx context.Context, id string) (*model.TaskSession, error)
	GetTaskSessionByTriple(ctx context.Context, taskID, userID, workspaceID string) (*model.TaskSession, error)
	UpdateTaskSessionBaseCommit(ctx context.Context, id, sha string) error
	CompleteTaskSession(ctx context.Context, id string, currentCommit *string) error
	GetWorkspace(ctx context.Context, id string) (*model.Workspace, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
}

// Service 任务会话服务
type Service struct {
	store Store
	git   Git
}

// NewService 创建任务会话服务
func NewService(store Store, git Git) *Service {
	return &Service{store: store, git: git}
}

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// StartResult 开始任务会话的结果
type StartResult struct {
	Session *model.TaskSession `json:"session"`
	Created bool               `json:"created"`
}

// Start 开始任务会话，三元组已存在时返回已有会话
//
// 新会话记录容器当前 HEAD 作为基准提交。容器里还没有 git 仓库时
// 先用项目仓库恢复克隆再取 HEAD，token 只用于克隆，不会落库。
func (s *Service) Start(ctx context.Context, taskID, userID, workspaceID, token string) (*StartResult, error) {
	existing, err := s.store.GetTaskSessionByTriple(ctx, taskID, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &StartResult{Session: existing, Created: false}, nil
	}

	ws, err := s.ownedWorkspace(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if ws.ContainerID == nil {
		return nil, ErrNoContainer
	}

	baseCommit, err := s.captureBaseCommit(ctx, ws, userID, token)
	if err != nil {
		return nil, err
	}

	session := &model.TaskSession{
		ID:          generateID("ts"),
		TaskID:      taskID,
		UserID:      userID,
		WorkspaceID: workspaceID,
		BaseCommit:  baseCommit,
		Status:      model.TaskSessionStatusActive,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateTaskSession(ctx, session); err != nil {
		// 并发 Start 触发三元组唯一约束时回读已有会话
		if again, getErr := s.store.GetTaskSessionByTriple(ctx, taskID, userID, workspaceID); getErr == nil && again != nil {
			return &StartResult{Session: again, Created: false}, nil
		}
		return nil, fmt.Errorf("failed to create task session: %w", err)
	}

	base := "none"
	if baseCommit != nil {
		base = (*baseCommit)[:min(12, len(*baseCommit))]
	}
	log.Printf("[TaskSession] Started session %s (task=%s, base=%s)", session.ID, taskID, base)
	return &StartResult{Session: session, Created: true}, nil
}

// captureBaseCommit 取容器 HEAD，仓库缺失时尝试恢复克隆后重试
func (s *Service) captureBaseCommit(ctx context.Context, ws *model.Workspace, userID, token string) (*string, error) {
	containerID := *ws.ContainerID

	sha, err := s.git.RevParse(ctx, containerID, "HEAD")
	if err == nil {
		return &sha, nil
	}
	if !errors.Is(err, gitbridge.ErrNotARepo) {
		return nil, fmt.Errorf("failed to read workspace head: %w", err)
	}

	// 容器重建后 /workspace 可能是空的，从项目仓库恢复
	repoURL, branch, err := s.repoForWorkspace(ctx, ws)
	if err != nil {
		return nil, err
	}

	log.Printf("[TaskSession] No repository in container %.12s, recovering from remote", containerID)
	if err := s.git.Clone(ctx, containerID, repoURL, token, branch); err != nil {
		return nil, fmt.Errorf("failed to recover repository: %w", err)
	}

	sha, err = s.git.RevParse(ctx, containerID, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to read head after clone: %w", err)
	}
	return &sha, nil
}

// repoForWorkspace 工作区自带仓库地址优先，否则回落到项目配置
func (s *Service) repoForWorkspace(ctx context.Context, ws *model.Workspace) (string, string, error) {
	if ws.RepoURL != nil && *ws.RepoURL != "" {
		return *ws.RepoURL, ws.Branch, nil
	}
	if ws.ProjectID == nil {
		return "", "", ErrRepoNotConfigured
	}
	project, err := s.store.GetProject(ctx, *ws.ProjectID)
	if err != nil {
		return "", "", err
	}
	if project == nil || project.RepoURL == "" {
		return "", "", ErrRepoNotConfigured
	}
	return project.RepoURL, project.DefaultBranch, nil
}

// Get 按 ID 获取会话
func (s *Service) Get(ctx context.Context, id string) (*model.TaskSession, error) {
	session, err := s.store.GetTaskSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// GetByTriple 按三元组获取会话
func (s *Service) GetByTriple(ctx context.Context, taskID, userID, workspaceID string) (*model.TaskSession, error) {
	session, err := s.store.GetTaskSessionByTriple(ctx, taskID, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Complete 标记会话完成，记录完成时的提交
//
// currentCommit 为 nil 时从容器读取 HEAD 补记，容器不可用则
// 只完成不记录
func (s *Service) Complete(ctx context.Context, id string, currentCommit *string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if currentCommit == nil {
		currentCommit = s.captureCurrentCommit(ctx, session)
	}
	if err := s.store.CompleteTaskSession(ctx, session.ID, currentCommit); err != nil {
		return fmt.Errorf("failed to complete task session: %w", err)
	}

	head := "none"
	if currentCommit != nil {
		head = (*currentCommit)[:min(12, len(*currentCommit))]
	}
	log.Printf("[TaskSession] Completed session %s (head=%s)", session.ID, head)
	return nil
}

// captureCurrentCommit 尽力读取容器当前 HEAD，失败不阻塞完成
func (s *Service) captureCurrentCommit(ctx context.Context, session *model.TaskSession) *string {
	ws, err := s.ownedWorkspace(ctx, session.WorkspaceID, session.UserID)
	if err != nil || ws.ContainerID == nil {
		return nil
	}
	sha, err := s.git.RevParse(ctx, *ws.ContainerID, "HEAD")
	if err != nil {
		log.Printf("[TaskSession] Failed to read head for session %s: %v", session.ID, err)
		return nil
	}
	return &sha
}

// DiffSinceBase 返回会话基准提交到当前 HEAD 的差异，校验管线用
func (s *Service) DiffSinceBase(ctx context.Context, id string) (string, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if session.BaseCommit == nil || *session.BaseCommit == "" {
		return "", fmt.Errorf("session %s has no base commit", id)
	}

	ws, err := s.ownedWorkspace(ctx, session.WorkspaceID, session.UserID)
	if err != nil {
		return "", err
	}
	if ws.ContainerID == nil {
		return "", ErrNoContainer
	}
	return s.git.Diff(ctx, *ws.ContainerID, *session.BaseCommit, "HEAD")
}

func (s *Service) ownedWorkspace(ctx context.Context, workspaceID, userID string) (*model.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil || ws.UserID != userID {
		return nil, ErrWorkspaceNotFound
	}
	return ws, nil
}
