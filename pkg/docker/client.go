// Package docker 封装 Docker API 客户端
//
// 使用官方 github.com/moby/moby/client 库
// 提供工作区容器、数据卷和 exec 管理，所有状态均实时查询 daemon，不做本地缓存
package docker

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

// 容器状态常量，stop/remove 对 not_found 幂等
const (
	StatusCreated  = "created"
	StatusRunning  = "running"
	StatusExited   = "exited"
	StatusPaused   = "paused"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// ContainerConfig 容器配置
type ContainerConfig struct {
	Name       string            // 容器名称
	Image      string            // 镜像名称
	Cmd        []string          // 启动命令
	Env        []string          // 环境变量
	WorkingDir string            // 工作目录
	Volumes    map[string]string // 挂载卷 volume:container
	Ports      map[int]int       // 端口映射 host:container
	Memory     int64             // 内存限制（字节），0 不限制
	NanoCPUs   int64             // CPU 限制（1e9 = 1 核），0 不限制
	PidsLimit  int64             // 进程数限制，0 不限制
	Labels     map[string]string // 容器标签
	Tty        bool              // 是否分配TTY
	OpenStdin  bool              // 是否打开标准输入
}

// ExecOptions 命令执行选项
type ExecOptions struct {
	WorkDir string   // 工作目录
	Env     []string // 额外环境变量
	User    string   // 执行用户
	Tty     bool     // 是否分配TTY
}

// Stream 双向 exec 流，用于终端会话
type Stream struct {
	ExecID string
	Conn   io.ReadWriteCloser // 连接
	Reader io.Reader          // 输出读取
	Writer io.Writer          // 输入写入
}

// Close 关闭流
func (s *Stream) Close() error {
	return s.Conn.Close()
}

// Runtime Docker 运行时适配器
type Runtime struct {
	cli *client.Client
}

// New 创建 Docker 运行时
func New() (*Runtime, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// Close 关闭客户端
func (r *Runtime) Close() error {
	return r.cli.Close()
}

// Ping 检查 Docker 连接
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx, client.PingOptions{})
	return err
}

// EnsureImage 确保镜像存在，不存在时拉取
func (r *Runtime) EnsureImage(ctx context.Context, image string) error {
	_, err := r.cli.ImageInspect(ctx, image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", image, err)
	}

	resp, err := r.cli.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer resp.Close()
	// 必须读完，否则拉取可能未完成
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	return nil
}

// === 数据卷 ===

// CreateVolume 创建数据卷，已存在时直接返回
func (r *Runtime) CreateVolume(ctx context.Context, name string) error {
	_, err := r.cli.VolumeCreate(ctx, client.VolumeCreateOptions{
		Name: name,
	})
	if err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

// VolumeExists 检查数据卷是否存在
func (r *Runtime) VolumeExists(ctx context.Context, name string) (bool, error) {
	result, err := r.cli.VolumeList(ctx, client.VolumeListOptions{})
	if err != nil {
		return false, err
	}
	for _, v := range result.Items {
		if v.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// RemoveVolume 删除数据卷，不存在视为成功
func (r *Runtime) RemoveVolume(ctx context.Context, name string, force bool) error {
	_, err := r.cli.VolumeRemove(ctx, name, client.VolumeRemoveOptions{Force: force})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// === 容器 ===

// CreateContainer 创建容器并返回 ID
//
// 名称冲突时接管同名已有容器，便于进程重启后恢复
func (r *Runtime) CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error) {
	exposedPorts := make(network.PortSet)
	portBindings := make(network.PortMap)
	for hostPort, containerPort := range cfg.Ports {
		port := network.MustParsePort(fmt.Sprintf("%d/tcp", containerPort))
		exposedPorts[port] = struct{}{}
		portBindings[port] = []network.PortBinding{
			{HostIP: netip.IPv4Unspecified(), HostPort: fmt.Sprintf("%d", hostPort)},
		}
	}

	var binds []string
	for volume, containerPath := range cfg.Volumes {
		binds = append(binds, fmt.Sprintf("%s:%s", volume, containerPath))
	}

	opts := client.ContainerCreateOptions{
		Name:  cfg.Name,
		Image: cfg.Image,
		Config: &container.Config{
			Cmd:          cfg.Cmd,
			Env:          cfg.Env,
			WorkingDir:   cfg.WorkingDir,
			ExposedPorts: exposedPorts,
			Labels:       cfg.Labels,
			Tty:          cfg.Tty,
			OpenStdin:    cfg.OpenStdin,
			AttachStdin:  cfg.OpenStdin,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: &container.HostConfig{
			Binds:        binds,
			PortBindings: portBindings,
			Resources: container.Resources{
				Memory:   cfg.Memory,
				NanoCPUs: cfg.NanoCPUs,
			},
		},
	}
	if cfg.PidsLimit > 0 {
		pids := cfg.PidsLimit
		opts.HostConfig.Resources.PidsLimit = &pids
	}

	result, err := r.cli.ContainerCreate(ctx, opts)
	if err != nil {
		if errdefs.IsConflict(err) || strings.Contains(err.Error(), "is already in use") {
			existing, inspectErr := r.cli.ContainerInspect(ctx, cfg.Name, client.ContainerInspectOptions{})
			if inspectErr == nil {
				return existing.Container.ID, nil
			}
		}
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return result.ID, nil
}

// StartContainer 启动容器
func (r *Runtime) StartContainer(ctx context.Context, containerID string) error {
	_, err := r.cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return err
}

// StopContainer 停止容器，不存在视为成功
func (r *Runtime) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	opts := client.ContainerStopOptions{}
	if timeoutSeconds > 0 {
		opts.Timeout = &timeoutSeconds
	}
	_, err := r.cli.ContainerStop(ctx, containerID, opts)
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// RemoveContainer 删除容器，不存在视为成功
func (r *Runtime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	_, err := r.cli.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{
		Force:         force,
		RemoveVolumes: false,
	})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// ContainerStatus 获取容器状态，实时查询 daemon
//
// 返回 created/running/exited/paused/not_found/error 之一
func (r *Runtime) ContainerStatus(ctx context.Context, containerID string) (string, error) {
	result, err := r.cli.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return StatusNotFound, nil
		}
		return StatusError, err
	}

	switch status := string(result.Container.State.Status); status {
	case "created", "running", "exited", "paused":
		return status, nil
	case "restarting":
		return StatusRunning, nil
	default:
		return StatusError, nil
	}
}

// IsContainerRunning 检查容器是否在运行
func (r *Runtime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	result, err := r.cli.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return result.Container.State.Running, nil
}

// === exec ===

// Exec 在容器中执行命令并返回退出码和合并输出
//
// 容器不在运行时返回 (-1, 提示信息, nil)，与其它调用错误区分
func (r *Runtime) Exec(ctx context.Context, containerID string, cmd []string, opts *ExecOptions) (int, string, error) {
	running, err := r.IsContainerRunning(ctx, containerID)
	if err != nil {
		return -1, "", err
	}
	if !running {
		return -1, "Container is not running", nil
	}

	createOpts := client.ExecCreateOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}
	if opts != nil {
		createOpts.WorkingDir = opts.WorkDir
		createOpts.Env = opts.Env
		createOpts.User = opts.User
		createOpts.TTY = opts.Tty
	}

	execResult, err := r.cli.ExecCreate(ctx, containerID, createOpts)
	if err != nil {
		return -1, "", fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := r.cli.ExecAttach(ctx, execResult.ID, client.ExecAttachOptions{})
	if err != nil {
		return -1, "", fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	output, err := io.ReadAll(attachResp.Reader)
	if err != nil {
		return -1, "", fmt.Errorf("failed to read exec output: %w", err)
	}

	inspectResp, err := r.cli.ExecInspect(ctx, execResult.ID, client.ExecInspectOptions{})
	if err != nil {
		return -1, "", fmt.Errorf("failed to inspect exec: %w", err)
	}

	return inspectResp.ExitCode, string(output), nil
}

// ExecStream 创建带 TTY 的交互式 exec 流，用于终端会话
func (r *Runtime) ExecStream(ctx context.Context, containerID string, cmd []string, env []string) (*Stream, error) {
	execResult, err := r.cli.ExecCreate(ctx, containerID, client.ExecCreateOptions{
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   "/workspace",
		TTY:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := r.cli.ExecAttach(ctx, execResult.ID, client.ExecAttachOptions{
		TTY: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}

	return &Stream{
		ExecID: execResult.ID,
		Conn:   attachResp.Conn,
		Reader: attachResp.Reader,
		Writer: attachResp.Conn,
	}, nil
}

// ResizeExec 调整 exec TTY 尺寸，失败由调用方决定是否忽略
func (r *Runtime) ResizeExec(ctx context.Context, execID string, cols, rows uint) error {
	_, err := r.cli.ExecResize(ctx, execID, client.ExecResizeOptions{
		Width:  cols,
		Height: rows,
	})
	return err
}

// ContainerLogs 获取容器日志
func (r *Runtime) ContainerLogs(ctx context.Context, containerID string, tail string) (io.ReadCloser, error) {
	result, err := r.cli.ContainerLogs(ctx, containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
		Follow:     false,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
