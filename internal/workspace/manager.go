// Package workspace 工作区生命周期管理
//
// 负责学员工作区的完整生命周期：
//   - 幂等创建：同一 (user, project) 只有一个活跃工作区
//   - 容器漂移恢复：容器被外部删除或宕机时按需重建，数据卷保留
//   - 预览端口映射：按白名单发布，宿主端口冲突时降级为不发布
package workspace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"gitguide/internal/config"
	"gitguide/internal/model"
	"gitguide/internal/preview"
	"gitguide/internal/storage"
	"gitguide/pkg/docker"
)

// Runtime 容器运行时能力
type Runtime interface {
	EnsureImage(ctx context.Context, image string) error
	CreateVolume(ctx context.Context, name string) error
	RemoveVolume(ctx context.Context, name string, force bool) error
	CreateContainer(ctx context.Context, cfg *docker.ContainerConfig) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	ContainerStatus(ctx context.Context, containerID string) (string, error)
}

// Store 工作区持久化能力
type Store interface {
	CreateWorkspace(ctx context.Context, ws *model.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*model.Workspace, error)
	GetWorkspaceForUser(ctx context.Context, userID string, projectID *string) (*model.Workspace, error)
	ListWorkspaces(ctx context.Context, userID string) ([]*model.Workspace, error)
	UpdateWorkspaceStatus(ctx context.Context, id string, status model.WorkspaceStatus) error
	UpdateWorkspaceContainer(ctx context.Context, id string, containerID *string, status model.WorkspaceStatus, portsPublished bool) error
	TouchWorkspace(ctx context.Context, id string) error
	DeleteWorkspace(ctx context.Context, id string) error
}

// Manager 工作区管理器
type Manager struct {
	store   Store
	runtime Runtime
	locker  storage.Locker
	cfg     config.DockerConfig
}

// NewManager 创建工作区管理器
func NewManager(store Store, runtime Runtime, locker storage.Locker, cfg config.DockerConfig) *Manager {
	if locker == nil {
		locker = storage.NewLocalLocker()
	}
	return &Manager{store: store, runtime: runtime, locker: locker, cfg: cfg}
}

// generateID 生成带前缀的随机标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// shortID 取 ID 末段前 8 位，用于容器和卷命名
func shortID(id string) string {
	s := id
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

func containerName(id string) string { return "gitguide-ws-" + shortID(id) }
func volumeName(id string) string    { return "gitguide-vol-" + shortID(id) }

// lockKey 同一用户同一项目的建区流程串行化
func lockKey(userID string, projectID *string) string {
	if projectID != nil {
		return "workspace/" + userID + "/" + *projectID
	}
	return "workspace/" + userID
}

// GetOrCreate 获取或创建用户工作区，幂等
//
// 已有工作区时顺带校验容器实际状态，容器丢失或停止会在这里恢复
func (m *Manager) GetOrCreate(ctx context.Context, userID string, projectID *string) (*model.Workspace, error) {
	unlock, err := m.locker.Lock(ctx, lockKey(userID, projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock workspace creation: %w", err)
	}
	defer unlock()

	existing, err := m.store.GetWorkspaceForUser(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := m.ensureContainer(ctx, existing); err != nil {
			return nil, err
		}
		// 复用即活跃，否则只走 get-or-create 的工作区会被空闲回收
		m.Touch(ctx, existing.ID)
		return m.store.GetWorkspace(ctx, existing.ID)
	}

	return m.create(ctx, userID, projectID)
}

// create 创建新工作区，镜像、卷、容器依次就绪
func (m *Manager) create(ctx context.Context, userID string, projectID *string) (*model.Workspace, error) {
	id := generateID("ws")
	now := time.Now()
	ws := &model.Workspace{
		ID:             id,
		UserID:         userID,
		ProjectID:      projectID,
		ContainerName:  containerName(id),
		VolumeName:     volumeName(id),
		Image:          m.cfg.Image,
		Status:         model.WorkspaceStatusCreating,
		PortsPublished: true,
		Branch:         "main",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to persist workspace: %w", err)
	}

	if err := m.provision(ctx, ws); err != nil {
		m.store.UpdateWorkspaceStatus(ctx, id, model.WorkspaceStatusError)
		return nil, err
	}

	log.Printf("[Workspace] Created workspace %s for user %s (container=%s)", id, userID, ws.ContainerName)
	return m.store.GetWorkspace(ctx, id)
}

// provision 创建卷和容器并启动，端口冲突时降级为不发布端口
func (m *Manager) provision(ctx context.Context, ws *model.Workspace) error {
	if err := m.runtime.EnsureImage(ctx, ws.Image); err != nil {
		return err
	}
	if err := m.runtime.CreateVolume(ctx, ws.VolumeName); err != nil {
		return err
	}

	containerID, portsPublished, err := m.createAndStart(ctx, ws, true)
	if err != nil {
		return err
	}

	return m.store.UpdateWorkspaceContainer(ctx, ws.ID, &containerID, model.WorkspaceStatusRunning, portsPublished)
}

// createAndStart 创建并启动容器，创建或启动撞上宿主端口占用时降级重试
func (m *Manager) createAndStart(ctx context.Context, ws *model.Workspace, publishPorts bool) (string, bool, error) {
	containerID, err := m.runtime.CreateContainer(ctx, m.containerConfig(ws, publishPorts))
	if err != nil {
		if publishPorts && isPortConflict(err) {
			log.Printf("[Workspace] Host port conflict for %s, creating without published ports", ws.ID)
			return m.createAndStart(ctx, ws, false)
		}
		return "", false, fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.runtime.StartContainer(ctx, containerID); err != nil {
		// 端口占用也可能到启动阶段才暴露
		if publishPorts && isPortConflict(err) {
			log.Printf("[Workspace] Host port conflict for %s at start, recreating without published ports", ws.ID)
			m.runtime.RemoveContainer(ctx, containerID, true)
			return m.createAndStart(ctx, ws, false)
		}
		return "", false, fmt.Errorf("failed to start container: %w", err)
	}

	return containerID, publishPorts, nil
}

func (m *Manager) containerConfig(ws *model.Workspace, publishPorts bool) *docker.ContainerConfig {
	cfg := &docker.ContainerConfig{
		Name:       ws.ContainerName,
		Image:      ws.Image,
		Cmd:        []string{"sleep", "infinity"},
		Env:        []string{"TERM=xterm-256color"},
		WorkingDir: "/workspace",
		Volumes:    map[string]string{ws.VolumeName: "/workspace"},
		Memory:     m.cfg.MemoryLimitMB * 1024 * 1024,
		NanoCPUs:   int64(m.cfg.CPULimit * 1e9),
		PidsLimit:  m.cfg.PidsLimit,
		Labels: map[string]string{
			"gitguide.workspace.id": ws.ID,
			"gitguide.user.id":      ws.UserID,
		},
		Tty:       true,
		OpenStdin: true,
	}
	if publishPorts {
		cfg.Ports = preview.Bindings()
	}
	return cfg
}

// isPortConflict 判断错误是否为宿主端口占用
func isPortConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "port is already allocated") ||
		strings.Contains(msg, "address already in use")
}

// ensureContainer 校验工作区容器实际状态并按需恢复
//
// not_found 时基于保留的卷重建容器，exited/created 时重新启动
func (m *Manager) ensureContainer(ctx context.Context, ws *model.Workspace) error {
	if ws.ContainerID == nil {
		return m.provision(ctx, ws)
	}

	status, err := m.runtime.ContainerStatus(ctx, *ws.ContainerID)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}

	switch status {
	case docker.StatusRunning:
		return nil
	case docker.StatusNotFound:
		log.Printf("[Workspace] Container for %s gone, recreating from volume %s", ws.ID, ws.VolumeName)
		return m.provision(ctx, ws)
	case docker.StatusExited, docker.StatusCreated, docker.StatusPaused:
		if err := m.runtime.StartContainer(ctx, *ws.ContainerID); err != nil {
			return fmt.Errorf("failed to restart container: %w", err)
		}
		return m.store.UpdateWorkspaceContainer(ctx, ws.ID, ws.ContainerID, model.WorkspaceStatusRunning, ws.PortsPublished)
	default:
		return fmt.Errorf("container for workspace %s in unexpected state %s", ws.ID, status)
	}
}

// Get 获取工作区
func (m *Manager) Get(ctx context.Context, id string) (*model.Workspace, error) {
	return m.store.GetWorkspace(ctx, id)
}

// List 列出用户的工作区
func (m *Manager) List(ctx context.Context, userID string) ([]*model.Workspace, error) {
	return m.store.ListWorkspaces(ctx, userID)
}

// Status 返回工作区容器的实时状态并同步持久化状态
func (m *Manager) Status(ctx context.Context, ws *model.Workspace) (string, error) {
	if ws.ContainerID == nil {
		return docker.StatusNotFound, nil
	}

	status, err := m.runtime.ContainerStatus(ctx, *ws.ContainerID)
	if err != nil {
		return docker.StatusError, err
	}

	// 持久化状态跟随实际状态，失败不影响查询结果
	switch status {
	case docker.StatusRunning:
		if ws.Status != model.WorkspaceStatusRunning {
			m.store.UpdateWorkspaceStatus(ctx, ws.ID, model.WorkspaceStatusRunning)
		}
	case docker.StatusExited, docker.StatusNotFound:
		if ws.Status == model.WorkspaceStatusRunning {
			m.store.UpdateWorkspaceStatus(ctx, ws.ID, model.WorkspaceStatusStopped)
		}
	}

	return status, nil
}

// EnsureRunning 确保工作区容器在运行，终端连接和验证前置调用
func (m *Manager) EnsureRunning(ctx context.Context, id string) (*model.Workspace, error) {
	ws, err := m.store.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, nil
	}
	if err := m.ensureContainer(ctx, ws); err != nil {
		return nil, err
	}
	return m.store.GetWorkspace(ctx, id)
}

// Start 启动已停止的工作区
func (m *Manager) Start(ctx context.Context, id string) error {
	ws, err := m.store.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	if ws == nil {
		return fmt.Errorf("workspace %s not found", id)
	}
	return m.ensureContainer(ctx, ws)
}

// Stop 停止工作区容器，卷和元数据保留
func (m *Manager) Stop(ctx context.Context, id string) error {
	ws, err := m.store.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	if ws == nil {
		return fmt.Errorf("workspace %s not found", id)
	}

	if ws.ContainerID != nil {
		if err := m.runtime.StopContainer(ctx, *ws.ContainerID, m.cfg.StopTimeout); err != nil {
			return fmt.Errorf("failed to stop container: %w", err)
		}
	}

	log.Printf("[Workspace] Stopped workspace %s", id)
	return m.store.UpdateWorkspaceStatus(ctx, id, model.WorkspaceStatusStopped)
}

// Delete 删除工作区及其容器和数据卷
func (m *Manager) Delete(ctx context.Context, id string) error {
	ws, err := m.store.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}

	if ws.ContainerID != nil {
		if err := m.runtime.RemoveContainer(ctx, *ws.ContainerID, true); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}
	if err := m.runtime.RemoveVolume(ctx, ws.VolumeName, true); err != nil {
		return fmt.Errorf("failed to remove volume: %w", err)
	}

	log.Printf("[Workspace] Deleted workspace %s", id)
	return m.store.DeleteWorkspace(ctx, id)
}

// Touch 刷新工作区活跃时间
func (m *Manager) Touch(ctx context.Context, id string) {
	if err := m.store.TouchWorkspace(ctx, id); err != nil {
		log.Printf("[Workspace] Failed to touch %s: %v", id, err)
	}
}
