// Package reconcile 平台外提交的检测与回收
//
// 用户可能绕过平台直接向 GitHub 推送。本包对比工作区记录的
// last_platform_commit 与远端 HEAD，发现漂移时列出外部提交，
// 并在用户确认且项目已接受 GitHub 授权的前提下，把远端强制
// 回退到平台已知的提交。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gitguide/internal/gitbridge"
	"gitguide/internal/model"
)

// maxExternalCommits 单次列出的外部提交上限
const maxExternalCommits = 100

// defaultCheckWindow 同一工作区两次远端探测的最小间隔
const defaultCheckWindow = 30 * time.Second

var (
	// ErrConsentRequired 项目未接受 GitHub 授权，禁止覆写远端
	ErrConsentRequired = errors.New("github consent not accepted for this project")
	// ErrConfirmationRequired 调用方未显式确认破坏性回退
	ErrConfirmationRequired = errors.New("explicit confirmation required")
	// ErrNoPlatformCommit 工作区尚无平台提交记录，无从对比
	ErrNoPlatformCommit = errors.New("no platform commit recorded")
	// ErrNoContainer 工作区没有容器，无法执行 git 操作
	ErrNoContainer = errors.New("workspace has no container")
)

// Git 远端对比所需的 git 能力
type Git interface {
	LsRemoteHead(ctx context.Context, containerID, token, branch string) (string, error)
	Fetch(ctx context.Context, containerID, token string) error
	LogRange(ctx context.Context, containerID, from, to string, maxCount int) ([]gitbridge.Commit, error)
	ResetHard(ctx context.Context, containerID, sha string) error
	ForcePush(ctx context.Context, containerID, token, branch string) error
}

// Store 工作区与项目读取、回退后的提交指针更新
type Store interface {
	GetWorkspace(ctx context.Context, id string) (*model.Workspace, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
	UpdateLastPlatformCommit(ctx context.Context, workspaceID, sha string) error
}

// RateLimiter 远端探测限频，nil 实现放行所有请求
type RateLimiter interface {
	TryReconcileCheck(ctx context.Context, workspaceID string, window time.Duration) (bool, error)
}

// DriftReport 远端漂移检测结果
type DriftReport struct {
	HasExternalCommits bool               `json:"has_external_commits"`
	LastPlatformCommit string             `json:"last_platform_commit,omitempty"`
	RemoteCommit       string             `json:"remote_commit,omitempty"`
	ExternalCommits    []gitbridge.Commit `json:"external_commits,omitempty"`
	// RateLimited 为 true 时本次未探测远端，结果来自限频窗口
	RateLimited bool `json:"rate_limited,omitempty"`
}

// ResetResult 回退操作结果
type ResetResult struct {
	ResetCommit string `json:"reset_commit"`
	Pushed      bool   `json:"pushed"`
}

// Service 外部提交检测与回收服务
type Service struct {
	store   Store
	git     Git
	limiter RateLimiter
	window  time.Duration
}

// NewService 创建服务，limiter 可为 nil
func NewService(store Store, git Git, limiter RateLimiter) *Service {
	return &Service{
		store:   store,
		git:     git,
		limiter: limiter,
		window:  defaultCheckWindow,
	}
}

// CheckRemote 对比远端 HEAD 与平台已知提交，发现漂移时附带外部提交列表
//
// token 只在本次调用内使用，不落库不入日志
func (s *Service) CheckRemote(ctx context.Context, workspaceID, userID, token string) (*DriftReport, error) {
	ws, err := s.ownedWorkspace(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}

	if ws.LastPlatformCommit == nil || *ws.LastPlatformCommit == "" {
		// 平台还没提交过，远端怎么动都不算外部漂移
		return &DriftReport{HasExternalCommits: false}, nil
	}
	if ws.ContainerID == nil {
		return nil, ErrNoContainer
	}

	if s.limiter != nil {
		allowed, err := s.limiter.TryReconcileCheck(ctx, workspaceID, s.window)
		if err != nil {
			log.Printf("[Reconcile] Rate limiter unavailable for workspace %s: %v", workspaceID, err)
		} else if !allowed {
			return &DriftReport{
				HasExternalCommits: false,
				LastPlatformCommit: *ws.LastPlatformCommit,
				RateLimited:        true,
			}, nil
		}
	}

	remoteSHA, err := s.git.LsRemoteHead(ctx, *ws.ContainerID, token, ws.Branch)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote head: %w", err)
	}

	report := &DriftReport{
		LastPlatformCommit: *ws.LastPlatformCommit,
		RemoteCommit:       remoteSHA,
	}
	if remoteSHA == *ws.LastPlatformCommit {
		return report, nil
	}

	report.HasExternalCommits = true
	report.ExternalCommits = s.externalCommits(ctx, *ws.ContainerID, token, *ws.LastPlatformCommit, remoteSHA)

	log.Printf("[Reconcile] Workspace %s drifted: platform=%.12s remote=%.12s (%d external commits)",
		workspaceID, *ws.LastPlatformCommit, remoteSHA, len(report.ExternalCommits))
	return report, nil
}

// externalCommits 拉取后列出 (platform, remote] 区间的提交，失败降级为空列表
func (s *Service) externalCommits(ctx context.Context, containerID, token, from, to string) []gitbridge.Commit {
	if err := s.git.Fetch(ctx, containerID, token); err != nil {
		log.Printf("[Reconcile] Fetch failed, external commit list unavailable: %v", err)
		return nil
	}
	commits, err := s.git.LogRange(ctx, containerID, from, to, maxExternalCommits)
	if err != nil {
		log.Printf("[Reconcile] Failed to list external commits: %v", err)
		return nil
	}
	return commits
}

// ListExternalCommits 仅返回外部提交列表，内部复用 CheckRemote
func (s *Service) ListExternalCommits(ctx context.Context, workspaceID, userID, token string) ([]gitbridge.Commit, error) {
	report, err := s.CheckRemote(ctx, workspaceID, userID, token)
	if err != nil {
		return nil, err
	}
	return report.ExternalCommits, nil
}

// ResetToPlatform 把工作区和远端强制回退到 last_platform_commit
//
// 双重门禁：调用方必须显式 confirmed，且项目必须已接受 GitHub 授权。
// 有 token 才会强推远端，没有 token 只回退本地工作区。
func (s *Service) ResetToPlatform(ctx context.Context, workspaceID, userID, token string, confirmed bool) (*ResetResult, error) {
	if !confirmed {
		return nil, ErrConfirmationRequired
	}

	ws, err := s.ownedWorkspace(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if ws.LastPlatformCommit == nil || *ws.LastPlatformCommit == "" {
		return nil, ErrNoPlatformCommit
	}
	if ws.ContainerID == nil {
		return nil, ErrNoContainer
	}
	if ws.ProjectID == nil {
		return nil, ErrConsentRequired
	}
	project, err := s.store.GetProject(ctx, *ws.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil || !project.GithubConsentAccepted {
		return nil, ErrConsentRequired
	}

	target := *ws.LastPlatformCommit
	if err := s.git.ResetHard(ctx, *ws.ContainerID, target); err != nil {
		return nil, fmt.Errorf("failed to reset workspace: %w", err)
	}

	result := &ResetResult{ResetCommit: target}
	if token != "" {
		if err := s.git.ForcePush(ctx, *ws.ContainerID, token, ws.Branch); err != nil {
			return nil, fmt.Errorf("failed to push reset: %w", err)
		}
		result.Pushed = true
	}

	if err := s.store.UpdateLastPlatformCommit(ctx, workspaceID, target); err != nil {
		log.Printf("[Reconcile] Failed to persist platform commit for workspace %s: %v", workspaceID, err)
	}

	log.Printf("[Reconcile] Workspace %s reset to %.12s (pushed=%v)", workspaceID, target, result.Pushed)
	return result, nil
}

// ownedWorkspace 取工作区并校验归属
func (s *Service) ownedWorkspace(ctx context.Context, workspaceID, userID string) (*model.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil || ws.UserID != userID {
		return nil, fmt.Errorf("workspace %s not found", workspaceID)
	}
	return ws, nil
}
