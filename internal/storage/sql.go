// Package storage 提供数据存储层
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"gitguide/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore 关系型存储，生产环境用 PostgreSQL，开发和测试用 SQLite
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore 创建关系型存储
//
// driver 取值 "pgx" 或 "sqlite"，两种驱动都使用 $N 占位符
func NewSQLStore(driver, databaseURL string) (*SQLStore, error) {
	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite 单写者，连接池收紧避免 database is locked
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("[Storage] Connected to %s database", driver)
	return &SQLStore{db: db, driver: driver}, nil
}

// Close 关闭连接
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// EnsureSchema 建表，语句在 PostgreSQL 和 SQLite 下通用
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			default_branch TEXT NOT NULL DEFAULT 'main',
			github_consent_accepted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT,
			container_id TEXT,
			container_name TEXT NOT NULL,
			volume_name TEXT NOT NULL,
			image TEXT NOT NULL,
			status TEXT NOT NULL,
			ports_published BOOLEAN NOT NULL DEFAULT TRUE,
			repo_url TEXT,
			branch TEXT NOT NULL DEFAULT 'main',
			last_platform_commit TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workspaces_user ON workspaces (user_id)`,
		`CREATE TABLE IF NOT EXISTS terminal_sessions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			container_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_terminal_sessions_workspace ON terminal_sessions (workspace_id)`,
		`CREATE TABLE IF NOT EXISTS task_sessions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			base_commit TEXT,
			current_commit TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_task_sessions_triple ON task_sessions (task_id, user_id, workspace_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// === Workspace 操作 ===

const workspaceColumns = `id, user_id, project_id, container_id, container_name, volume_name, image, status,
		ports_published, repo_url, branch, last_platform_commit, created_at, updated_at, last_active_at`

// CreateWorkspace 创建工作区
func (s *SQLStore) CreateWorkspace(ctx context.Context, ws *model.Workspace) error {
	query := `
		INSERT INTO workspaces (` + workspaceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query,
		ws.ID, ws.UserID, ws.ProjectID, ws.ContainerID, ws.ContainerName, ws.VolumeName,
		ws.Image, ws.Status, ws.PortsPublished, ws.RepoURL, ws.Branch, ws.LastPlatformCommit,
		ws.CreatedAt, ws.UpdatedAt, ws.LastActiveAt)
	return err
}

func scanWorkspace(row interface{ Scan(...interface{}) error }) (*model.Workspace, error) {
	ws := &model.Workspace{}
	err := row.Scan(
		&ws.ID, &ws.UserID, &ws.ProjectID, &ws.ContainerID, &ws.ContainerName, &ws.VolumeName,
		&ws.Image, &ws.Status, &ws.PortsPublished, &ws.RepoURL, &ws.Branch, &ws.LastPlatformCommit,
		&ws.CreatedAt, &ws.UpdatedAt, &ws.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ws, err
}

// GetWorkspace 获取工作区
func (s *SQLStore) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1`
	return scanWorkspace(s.db.QueryRowContext(ctx, query, id))
}

// GetWorkspaceForUser 查找用户在某项目下的工作区，projectID 为 nil 表示无项目归属
//
// 幂等建区的查询入口，已删除的工作区不参与复用
func (s *SQLStore) GetWorkspaceForUser(ctx context.Context, userID string, projectID *string) (*model.Workspace, error) {
	var query string
	var args []interface{}

	if projectID != nil {
		query = `SELECT ` + workspaceColumns + ` FROM workspaces
				 WHERE user_id = $1 AND project_id = $2 AND status != 'deleted'
				 ORDER BY created_at DESC LIMIT 1`
		args = []interface{}{userID, *projectID}
	} else {
		query = `SELECT ` + workspaceColumns + ` FROM workspaces
				 WHERE user_id = $1 AND project_id IS NULL AND status != 'deleted'
				 ORDER BY created_at DESC LIMIT 1`
		args = []interface{}{userID}
	}

	return scanWorkspace(s.db.QueryRowContext(ctx, query, args...))
}

// ListWorkspaces 列出用户的工作区，userID 为空时列出全部
func (s *SQLStore) ListWorkspaces(ctx context.Context, userID string) ([]*model.Workspace, error) {
	var query string
	var args []interface{}

	if userID != "" {
		query = `SELECT ` + workspaceColumns + ` FROM workspaces
				 WHERE user_id = $1 AND status != 'deleted' ORDER BY created_at DESC`
		args = []interface{}{userID}
	} else {
		query = `SELECT ` + workspaceColumns + ` FROM workspaces
				 WHERE status != 'deleted' ORDER BY created_at DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []*model.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// UpdateWorkspaceStatus 更新工作区状态
func (s *SQLStore) UpdateWorkspaceStatus(ctx context.Context, id string, status model.WorkspaceStatus) error {
	query := `UPDATE workspaces SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

// UpdateWorkspaceContainer 更新容器绑定信息，容器重建后调用
func (s *SQLStore) UpdateWorkspaceContainer(ctx context.Context, id string, containerID *string, status model.WorkspaceStatus, portsPublished bool) error {
	query := `UPDATE workspaces SET container_id = $1, status = $2, ports_published = $3, updated_at = $4 WHERE id = $5`
	_, err := s.db.ExecContext(ctx, query, containerID, status, portsPublished, time.Now(), id)
	return err
}

// UpdateWorkspaceRepo 绑定远端仓库
func (s *SQLStore) UpdateWorkspaceRepo(ctx context.Context, id, repoURL, branch string) error {
	query := `UPDATE workspaces SET repo_url = $1, branch = $2, updated_at = $3 WHERE id = $4`
	_, err := s.db.ExecContext(ctx, query, repoURL, branch, time.Now(), id)
	return err
}

// UpdateLastPlatformCommit 记录平台最近一次写入远端的提交
func (s *SQLStore) UpdateLastPlatformCommit(ctx context.Context, id, sha string) error {
	query := `UPDATE workspaces SET last_platform_commit = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, sha, time.Now(), id)
	return err
}

// TouchWorkspace 刷新活跃时间，空闲回收以此为准
func (s *SQLStore) TouchWorkspace(ctx context.Context, id string) error {
	now := time.Now()
	query := `UPDATE workspaces SET last_active_at = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, now, now, id)
	return err
}

// ListIdleWorkspaces 列出活跃时间早于截止点的运行中工作区
func (s *SQLStore) ListIdleWorkspaces(ctx context.Context, cutoff time.Time) ([]*model.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces
			  WHERE status = 'running' AND last_active_at IS NOT NULL AND last_active_at < $1`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []*model.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// DeleteWorkspace 删除工作区（级联删除关联的终端会话和任务会话）
//
// 工作区行保留并标记 deleted，审计需要
func (s *SQLStore) DeleteWorkspace(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM terminal_sessions WHERE workspace_id = $1`, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_sessions WHERE workspace_id = $1`, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE workspaces SET status = 'deleted', container_id = NULL, updated_at = $1 WHERE id = $2`,
		time.Now(), id); err != nil {
		return err
	}

	return tx.Commit()
}

// === TerminalSession 操作 ===

const terminalColumns = `id, workspace_id, container_id, status, created_at, last_active_at`

// CreateTerminalSession 创建终端会话
func (s *SQLStore) CreateTerminalSession(ctx context.Context, ts *model.TerminalSession) error {
	query := `
		INSERT INTO terminal_sessions (` + terminalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		ts.ID, ts.WorkspaceID, ts.ContainerID, ts.Status, ts.CreatedAt, ts.LastActiveAt)
	return err
}

// GetTerminalSession 获取终端会话
func (s *SQLStore) GetTerminalSession(ctx context.Context, id string) (*model.TerminalSession, error) {
	query := `SELECT ` + terminalColumns + ` FROM terminal_sessions WHERE id = $1`
	ts := &model.TerminalSession{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ts.ID, &ts.WorkspaceID, &ts.ContainerID, &ts.Status, &ts.CreatedAt, &ts.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ts, err
}

// ListTerminalSessions 列出工作区的终端会话
func (s *SQLStore) ListTerminalSessions(ctx context.Context, workspaceID string) ([]*model.TerminalSession, error) {
	query := `SELECT ` + terminalColumns + ` FROM terminal_sessions
			  WHERE workspace_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.TerminalSession
	for rows.Next() {
		ts := &model.TerminalSession{}
		if err := rows.Scan(&ts.ID, &ts.WorkspaceID, &ts.ContainerID, &ts.Status,
			&ts.CreatedAt, &ts.LastActiveAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, ts)
	}
	return sessions, rows.Err()
}

// UpdateTerminalSessionStatus 更新终端会话状态
func (s *SQLStore) UpdateTerminalSessionStatus(ctx context.Context, id string, status model.TerminalSessionStatus) error {
	query := `UPDATE terminal_sessions SET status = $1, last_active_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

// DeleteTerminalSession 删除终端会话
func (s *SQLStore) DeleteTerminalSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM terminal_sessions WHERE id = $1`, id)
	return err
}

// === TaskSession 操作 ===

const taskSessionColumns = `id, task_id, user_id, workspace_id, base_commit, current_commit, status, created_at, completed_at`

// CreateTaskSession 创建任务会话
func (s *SQLStore) CreateTaskSession(ctx context.Context, ts *model.TaskSession) error {
	query := `
		INSERT INTO task_sessions (` + taskSessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		ts.ID, ts.TaskID, ts.UserID, ts.WorkspaceID, ts.BaseCommit, ts.CurrentCommit,
		ts.Status, ts.CreatedAt, ts.CompletedAt)
	return err
}

func scanTaskSession(row interface{ Scan(...interface{}) error }) (*model.TaskSession, error) {
	ts := &model.TaskSession{}
	err := row.Scan(&ts.ID, &ts.TaskID, &ts.UserID, &ts.WorkspaceID, &ts.BaseCommit,
		&ts.CurrentCommit, &ts.Status, &ts.CreatedAt, &ts.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ts, err
}

// GetTaskSession 获取任务会话
func (s *SQLStore) GetTaskSession(ctx context.Context, id string) (*model.TaskSession, error) {
	query := `SELECT ` + taskSessionColumns + ` FROM task_sessions WHERE id = $1`
	return scanTaskSession(s.db.QueryRowContext(ctx, query, id))
}

// GetTaskSessionByTriple 按 (task, user, workspace) 查找任务会话，幂等复用的依据
func (s *SQLStore) GetTaskSessionByTriple(ctx context.Context, taskID, userID, workspaceID string) (*model.TaskSession, error) {
	query := `SELECT ` + taskSessionColumns + ` FROM task_sessions
			  WHERE task_id = $1 AND user_id = $2 AND workspace_id = $3`
	return scanTaskSession(s.db.QueryRowContext(ctx, query, taskID, userID, workspaceID))
}

// ListTaskSessionsByWorkspace 列出工作区的任务会话
func (s *SQLStore) ListTaskSessionsByWorkspace(ctx context.Context, workspaceID string) ([]*model.TaskSession, error) {
	query := `SELECT ` + taskSessionColumns + ` FROM task_sessions
			  WHERE workspace_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.TaskSession
	for rows.Next() {
		ts, err := scanTaskSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, ts)
	}
	return sessions, rows.Err()
}

// UpdateTaskSessionBaseCommit 补记任务起点提交
func (s *SQLStore) UpdateTaskSessionBaseCommit(ctx context.Context, id, sha string) error {
	query := `UPDATE task_sessions SET base_commit = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, sha, id)
	return err
}

// CompleteTaskSession 标记任务会话完成，顺带记录完成时的提交
//
// currentCommit 为 nil 时保留原值
func (s *SQLStore) CompleteTaskSession(ctx context.Context, id string, currentCommit *string) error {
	query := `UPDATE task_sessions
			  SET status = 'completed', completed_at = $1,
			      current_commit = COALESCE($2, current_commit)
			  WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, time.Now(), currentCommit, id)
	return err
}

// === Project 操作 ===

const projectColumns = `id, owner_id, repo_url, default_branch, github_consent_accepted, created_at, updated_at`

// CreateProject 创建项目
func (s *SQLStore) CreateProject(ctx context.Context, p *model.Project) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.OwnerID, p.RepoURL, p.DefaultBranch, p.GithubConsentAccepted,
		p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject 获取项目
func (s *SQLStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p := &model.Project{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.OwnerID, &p.RepoURL, &p.DefaultBranch, &p.GithubConsentAccepted,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProjectsByOwner 列出用户的项目
func (s *SQLStore) ListProjectsByOwner(ctx context.Context, ownerID string) ([]*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.RepoURL, &p.DefaultBranch,
			&p.GithubConsentAccepted, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectConsent 更新强制覆写授权标记
func (s *SQLStore) UpdateProjectConsent(ctx context.Context, id string, accepted bool) error {
	query := `UPDATE projects SET github_consent_accepted = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, accepted, time.Now(), id)
	return err
}

// DeleteProject 删除项目
func (s *SQLStore) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return err
}
