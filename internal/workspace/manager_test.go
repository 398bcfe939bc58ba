package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitguide/internal/config"
	"gitguide/internal/model"
	"gitguide/pkg/docker"
)

// fakeStore 内存版工作区存储
type fakeStore struct {
	mu         sync.Mutex
	workspaces map[string]*model.Workspace
}

func newFakeStore() *fakeStore {
	return &fakeStore{workspaces: make(map[string]*model.Workspace)}
}

func (s *fakeStore) CreateWorkspace(_ context.Context, ws *model.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ws
	s.workspaces[ws.ID] = &cp
	return nil
}

func (s *fakeStore) GetWorkspace(_ context.Context, id string) (*model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, nil
	}
	cp := *ws
	return &cp, nil
}

func (s *fakeStore) GetWorkspaceForUser(_ context.Context, userID string, projectID *string) (*model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.workspaces {
		if ws.UserID != userID || ws.Status == model.WorkspaceStatusDeleted {
			continue
		}
		if projectID == nil && ws.ProjectID == nil {
			cp := *ws
			return &cp, nil
		}
		if projectID != nil && ws.ProjectID != nil && *projectID == *ws.ProjectID {
			cp := *ws
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListWorkspaces(_ context.Context, userID string) ([]*model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Workspace
	for _, ws := range s.workspaces {
		if (userID == "" || ws.UserID == userID) && ws.Status != model.WorkspaceStatusDeleted {
			cp := *ws
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateWorkspaceStatus(_ context.Context, id string, status model.WorkspaceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[id]; ok {
		ws.Status = status
		ws.UpdatedAt = time.Now()
	}
	return nil
}

func (s *fakeStore) UpdateWorkspaceContainer(_ context.Context, id string, containerID *string, status model.WorkspaceStatus, portsPublished bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[id]; ok {
		ws.ContainerID = containerID
		ws.Status = status
		ws.PortsPublished = portsPublished
	}
	return nil
}

func (s *fakeStore) TouchWorkspace(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[id]; ok {
		now := time.Now()
		ws.LastActiveAt = &now
	}
	return nil
}

func (s *fakeStore) DeleteWorkspace(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[id]; ok {
		ws.Status = model.WorkspaceStatusDeleted
		ws.ContainerID = nil
	}
	return nil
}

// fakeRuntime 记录调用并可注入失败的容器运行时
type fakeRuntime struct {
	mu            sync.Mutex
	volumes       []string
	createdConfgs []*docker.ContainerConfig
	started       []string
	stopped       []string
	removed       []string
	statuses      map[string]string // containerID -> status
	createErrs    []error           // 依次消费，超出后返回 nil
	nextID        int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{statuses: make(map[string]string)}
}

func (r *fakeRuntime) EnsureImage(_ context.Context, _ string) error { return nil }

func (r *fakeRuntime) CreateVolume(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes = append(r.volumes, name)
	return nil
}

func (r *fakeRuntime) RemoveVolume(_ context.Context, _ string, _ bool) error { return nil }

func (r *fakeRuntime) CreateContainer(_ context.Context, cfg *docker.ContainerConfig) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	r.createdConfgs = append(r.createdConfgs, cfg)
	r.nextID++
	id := "ctr-" + string(rune('a'+r.nextID))
	r.statuses[id] = docker.StatusCreated
	return id, nil
}

func (r *fakeRuntime) StartContainer(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
	r.statuses[id] = docker.StatusRunning
	return nil
}

func (r *fakeRuntime) StopContainer(_ context.Context, id string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, id)
	r.statuses[id] = docker.StatusExited
	return nil
}

func (r *fakeRuntime) RemoveContainer(_ context.Context, id string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	delete(r.statuses, id)
	return nil
}

func (r *fakeRuntime) ContainerStatus(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status, ok := r.statuses[id]; ok {
		return status, nil
	}
	return docker.StatusNotFound, nil
}

func testConfig() config.DockerConfig {
	return config.DockerConfig{
		Image:         "gitguide/workspace:latest",
		MemoryLimitMB: 1024,
		CPULimit:      1.0,
		PidsLimit:     256,
		StopTimeout:   10,
	}
}

func newTestManager() (*Manager, *fakeStore, *fakeRuntime) {
	store := newFakeStore()
	runtime := newFakeRuntime()
	return NewManager(store, runtime, nil, testConfig()), store, runtime
}

func TestGetOrCreateProvisions(t *testing.T) {
	mgr, _, runtime := newTestManager()

	ws, err := mgr.GetOrCreate(context.Background(), "user-1", nil)
	require.NoError(t, err)
	require.NotNil(t, ws)

	assert.Equal(t, model.WorkspaceStatusRunning, ws.Status)
	assert.True(t, ws.PortsPublished)
	require.NotNil(t, ws.ContainerID)
	assert.Contains(t, ws.ContainerName, "gitguide-ws-")
	assert.Contains(t, ws.VolumeName, "gitguide-vol-")

	require.Len(t, runtime.volumes, 1)
	require.Len(t, runtime.createdConfgs, 1)
	cfg := runtime.createdConfgs[0]
	assert.Equal(t, []string{"sleep", "infinity"}, cfg.Cmd)
	assert.Equal(t, "/workspace", cfg.Volumes[ws.VolumeName])
	assert.Equal(t, int64(1024*1024*1024), cfg.Memory)
	assert.Equal(t, int64(1e9), cfg.NanoCPUs)
	assert.NotEmpty(t, cfg.Ports)
	assert.Equal(t, 30001, func() int {
		for h, c := range cfg.Ports {
			if c == 3000 {
				return h
			}
		}
		return 0
	}())
}

func TestGetOrCreateIdempotent(t *testing.T) {
	mgr, _, runtime := newTestManager()
	ctx := context.Background()

	first, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)

	mark := time.Now()
	second, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, runtime.createdConfgs, 1)

	// 复用路径必须刷新活跃时间，防止被空闲回收
	require.NotNil(t, second.LastActiveAt)
	assert.False(t, second.LastActiveAt.Before(mark))

	// 不同项目各有独立工作区
	proj := "proj-1"
	third, err := mgr.GetOrCreate(ctx, "user-1", &proj)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestGetOrCreatePortConflictFallback(t *testing.T) {
	mgr, _, runtime := newTestManager()
	runtime.createErrs = []error{errors.New("driver failed programming external connectivity: port is already allocated")}

	ws, err := mgr.GetOrCreate(context.Background(), "user-1", nil)
	require.NoError(t, err)

	assert.False(t, ws.PortsPublished)
	assert.Equal(t, model.WorkspaceStatusRunning, ws.Status)
	require.Len(t, runtime.createdConfgs, 1)
	assert.Empty(t, runtime.createdConfgs[0].Ports)
}

func TestGetOrCreateNonPortErrorFails(t *testing.T) {
	mgr, store, runtime := newTestManager()
	runtime.createErrs = []error{errors.New("no such image")}

	_, err := mgr.GetOrCreate(context.Background(), "user-1", nil)
	require.Error(t, err)

	// 失败的工作区标记 error，不参与下次复用判定前的恢复
	list, err := store.ListWorkspaces(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.WorkspaceStatusError, list[0].Status)
}

func TestGetOrCreateRecoversLostContainer(t *testing.T) {
	mgr, _, runtime := newTestManager()
	ctx := context.Background()

	ws, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)

	// 模拟容器被外部删除
	runtime.mu.Lock()
	delete(runtime.statuses, *ws.ContainerID)
	runtime.mu.Unlock()

	recovered, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, recovered.ID)
	require.NotNil(t, recovered.ContainerID)
	assert.NotEqual(t, *ws.ContainerID, *recovered.ContainerID)
	assert.Equal(t, model.WorkspaceStatusRunning, recovered.Status)

	// 卷不会重复创建之外的数据丢失：重建走的是同一个卷名
	assert.Equal(t, runtime.createdConfgs[0].Volumes, runtime.createdConfgs[1].Volumes)
}

func TestGetOrCreateRestartsStoppedContainer(t *testing.T) {
	mgr, _, runtime := newTestManager()
	ctx := context.Background()

	ws, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Stop(ctx, ws.ID))

	recovered, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, *ws.ContainerID, *recovered.ContainerID)
	assert.Equal(t, model.WorkspaceStatusRunning, recovered.Status)
	// 重启而非重建
	assert.Len(t, runtime.createdConfgs, 1)
}

func TestStopAndDelete(t *testing.T) {
	mgr, store, runtime := newTestManager()
	ctx := context.Background()

	ws, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Stop(ctx, ws.ID))
	got, err := store.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkspaceStatusStopped, got.Status)
	assert.Len(t, runtime.stopped, 1)

	require.NoError(t, mgr.Delete(ctx, ws.ID))
	got, err = store.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkspaceStatusDeleted, got.Status)
	assert.Contains(t, runtime.removed, *ws.ContainerID)

	// 删除后幂等
	require.NoError(t, mgr.Delete(ctx, "ws-missing"))
}

func TestStatusSyncsStore(t *testing.T) {
	mgr, store, runtime := newTestManager()
	ctx := context.Background()

	ws, err := mgr.GetOrCreate(ctx, "user-1", nil)
	require.NoError(t, err)

	status, err := mgr.Status(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, docker.StatusRunning, status)

	// 容器在外部退出后，查询状态把持久化状态拉回 stopped
	runtime.mu.Lock()
	runtime.statuses[*ws.ContainerID] = docker.StatusExited
	runtime.mu.Unlock()

	status, err = mgr.Status(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, docker.StatusExited, status)

	got, err := store.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkspaceStatusStopped, got.Status)
}

func TestShortID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws-abc123def456", "abc123de"},
		{"ws-ab", "ab"},
		{"plainid", "plainid"},
	}
	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
