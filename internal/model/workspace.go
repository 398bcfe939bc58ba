// Package model 定义核心数据模型
package model

import "time"

// WorkspaceStatus 工作区状态
type WorkspaceStatus string

const (
	WorkspaceStatusCreating WorkspaceStatus = "creating" // 资源创建中
	WorkspaceStatusRunning  WorkspaceStatus = "running"  // 容器运行中
	WorkspaceStatusStopped  WorkspaceStatus = "stopped"  // 容器已停止
	WorkspaceStatusError    WorkspaceStatus = "error"    // 创建或恢复失败
	WorkspaceStatusDeleted  WorkspaceStatus = "deleted"  // 已删除
)

// Workspace 表示一个学员的容器化工作区
//
// 容器可能随时被外部删除或宕机，ContainerID 只是最近一次已知值，
// 实际状态以 Docker daemon 实时查询为准。文件数据在命名卷上，
// 容器重建后数据保留。
type Workspace struct {
	ID                 string          `json:"id" db:"id"`
	UserID             string          `json:"user_id" db:"user_id"`
	ProjectID          *string         `json:"project_id,omitempty" db:"project_id"`
	ContainerID        *string         `json:"container_id,omitempty" db:"container_id"`
	ContainerName      string          `json:"container_name" db:"container_name"`
	VolumeName         string          `json:"volume_name" db:"volume_name"`
	Image              string          `json:"image" db:"image"`
	Status             WorkspaceStatus `json:"status" db:"status"`
	PortsPublished     bool            `json:"ports_published" db:"ports_published"` // 端口冲突降级时为 false
	RepoURL            *string         `json:"repo_url,omitempty" db:"repo_url"`
	Branch             string          `json:"branch" db:"branch"`
	LastPlatformCommit *string         `json:"last_platform_commit,omitempty" db:"last_platform_commit"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
	LastActiveAt       *time.Time      `json:"last_active_at,omitempty" db:"last_active_at"`
}

// TerminalSessionStatus 终端会话状态
type TerminalSessionStatus string

const (
	TerminalStatusPending  TerminalSessionStatus = "pending"  // 已创建未连接
	TerminalStatusStarting TerminalSessionStatus = "starting" // 流建立中
	TerminalStatusRunning  TerminalSessionStatus = "running"  // shell 已附加
	TerminalStatusClosed   TerminalSessionStatus = "closed"   // 已关闭
	TerminalStatusError    TerminalSessionStatus = "error"    // 建流失败
)

// TerminalSession 终端会话记录
type TerminalSession struct {
	ID           string                `json:"session_id" db:"id"`
	WorkspaceID  string                `json:"workspace_id" db:"workspace_id"`
	ContainerID  string                `json:"container_id" db:"container_id"`
	Status       TerminalSessionStatus `json:"status" db:"status"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
	LastActiveAt time.Time             `json:"last_active_at" db:"last_active_at"`
}

// TaskSessionStatus 任务会话状态
type TaskSessionStatus string

const (
	TaskSessionStatusActive    TaskSessionStatus = "active"
	TaskSessionStatusCompleted TaskSessionStatus = "completed"
)

// TaskSession 学习任务会话
//
// 同一 (task, user, workspace) 三元组幂等复用；BaseCommit 记录
// 任务开始时的 HEAD，供验证和外部提交对账使用。
type TaskSession struct {
	ID            string            `json:"id" db:"id"`
	TaskID        string            `json:"task_id" db:"task_id"`
	UserID        string            `json:"user_id" db:"user_id"`
	WorkspaceID   string            `json:"workspace_id" db:"workspace_id"`
	BaseCommit    *string           `json:"base_commit,omitempty" db:"base_commit"`
	CurrentCommit *string           `json:"current_commit,omitempty" db:"current_commit"`
	Status        TaskSessionStatus `json:"status" db:"status"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// Project 学员项目，关联远端仓库
type Project struct {
	ID                    string    `json:"id" db:"id"`
	OwnerID               string    `json:"owner_id" db:"owner_id"`
	RepoURL               string    `json:"repo_url" db:"repo_url"`
	DefaultBranch         string    `json:"default_branch" db:"default_branch"`
	GithubConsentAccepted bool      `json:"github_consent_accepted" db:"github_consent_accepted"` // 允许平台强制覆写远端
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}
