// Package terminal 终端会话管理
//
// 负责浏览器终端到工作区容器的交互通道：
//   - 会话记录的创建、查询和关闭
//   - exec TTY 流的建立与输入输出泵送
//   - 尾部输出缓冲，断线重连时回放
//   - 输出流旁路给提交识别器
package terminal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gitguide/internal/model"
	"gitguide/internal/terminal/commitscan"
	"gitguide/pkg/docker"
)

// replayBufferSize 尾部输出缓冲大小，重连回放用
const replayBufferSize = 10 * 1024

// ErrSessionNotFound 会话不存在或已关闭
var ErrSessionNotFound = errors.New("terminal session not found")

// Runtime 容器运行时能力
type Runtime interface {
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	Exec(ctx context.Context, containerID string, cmd []string, opts *docker.ExecOptions) (int, string, error)
	ExecStream(ctx context.Context, containerID string, cmd []string, env []string) (*docker.Stream, error)
	ResizeExec(ctx context.Context, execID string, cols, rows uint) error
}

// Store 终端会话持久化能力
type Store interface {
	CreateTerminalSession(ctx context.Context, ts *model.TerminalSession) error
	GetTerminalSession(ctx context.Context, id string) (*model.TerminalSession, error)
	ListTerminalSessions(ctx context.Context, workspaceID string) ([]*model.TerminalSession, error)
	UpdateTerminalSessionStatus(ctx context.Context, id string, status model.TerminalSessionStatus) error
	DeleteTerminalSession(ctx context.Context, id string) error
}

// GitResolver HEAD 解析能力，提交确认用
type GitResolver interface {
	RevParse(ctx context.Context, containerID, ref string) (string, error)
}

// Manager 终端会话管理器
type Manager struct {
	store   Store
	runtime Runtime
	git     GitResolver

	// onCommit 终端内识别到新提交时回调 (workspaceID, sessionID, sha)
	onCommit func(workspaceID, sessionID, sha string)
	// dedup 跨实例提交去重，nil 时由识别器进程内兜底
	dedup func(sessionID, sha string) bool

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager 创建终端会话管理器
func NewManager(store Store, runtime Runtime, git GitResolver) *Manager {
	return &Manager{
		store:    store,
		runtime:  runtime,
		git:      git,
		sessions: make(map[string]*Session),
	}
}

// SetCommitHook 设置提交识别回调和去重器
func (m *Manager) SetCommitHook(onCommit func(workspaceID, sessionID, sha string), dedup func(sessionID, sha string) bool) {
	m.onCommit = onCommit
	m.dedup = dedup
}

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// Session 活跃终端会话的运行时状态
type Session struct {
	ID          string
	WorkspaceID string
	ContainerID string

	mu      sync.Mutex
	stream  *docker.Stream
	scanner *commitscan.Scanner
	buffer  *ringBuffer
	output  chan []byte
	done    chan struct{}
	closed  bool
}

// Output 输出通道，流结束时关闭
func (s *Session) Output() <-chan []byte {
	return s.output
}

// Replay 返回尾部输出缓冲，连接建立后先行回放
func (s *Session) Replay() []byte {
	return s.buffer.Bytes()
}

// Done 会话结束信号
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Create 创建终端会话记录
func (m *Manager) Create(ctx context.Context, workspaceID, containerID string) (*model.TerminalSession, error) {
	now := time.Now()
	record := &model.TerminalSession{
		ID:           generateID("term"),
		WorkspaceID:  workspaceID,
		ContainerID:  containerID,
		Status:       model.TerminalStatusPending,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := m.store.CreateTerminalSession(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist terminal session: %w", err)
	}

	log.Printf("[Terminal] Created session %s (workspace=%s, container=%.12s)",
		record.ID, workspaceID, containerID)
	return record, nil
}

// Get 获取会话记录
func (m *Manager) Get(ctx context.Context, id string) (*model.TerminalSession, error) {
	return m.store.GetTerminalSession(ctx, id)
}

// List 列出工作区的会话记录
func (m *Manager) List(ctx context.Context, workspaceID string) ([]*model.TerminalSession, error) {
	return m.store.ListTerminalSessions(ctx, workspaceID)
}

// StartStream 建立会话的 exec TTY 流并开始泵送输出
//
// 容器必须已在运行，自动拉起由上层工作区管理负责
func (m *Manager) StartStream(ctx context.Context, record *model.TerminalSession) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[record.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	m.store.UpdateTerminalSessionStatus(ctx, record.ID, model.TerminalStatusStarting)

	running, err := m.runtime.IsContainerRunning(ctx, record.ContainerID)
	if err != nil {
		return nil, err
	}
	if !running {
		m.store.UpdateTerminalSessionStatus(ctx, record.ID, model.TerminalStatusError)
		return nil, fmt.Errorf("container for session %s is not running", record.ID)
	}

	shell := m.detectShell(ctx, record.ContainerID)
	stream, err := m.runtime.ExecStream(ctx, record.ContainerID, []string{shell}, []string{"TERM=xterm-256color"})
	if err != nil {
		m.store.UpdateTerminalSessionStatus(ctx, record.ID, model.TerminalStatusError)
		return nil, fmt.Errorf("failed to open terminal stream: %w", err)
	}

	session := &Session{
		ID:          record.ID,
		WorkspaceID: record.WorkspaceID,
		ContainerID: record.ContainerID,
		stream:      stream,
		buffer:      newRingBuffer(replayBufferSize),
		output:      make(chan []byte, 256),
		done:        make(chan struct{}),
	}
	session.scanner = m.newScanner(session)

	m.mu.Lock()
	m.sessions[record.ID] = session
	m.mu.Unlock()

	m.store.UpdateTerminalSessionStatus(ctx, record.ID, model.TerminalStatusRunning)
	log.Printf("[Terminal] Session %s attached (shell=%s)", record.ID, shell)

	go m.readLoop(session)
	return session, nil
}

// detectShell 目标容器优先 bash，没有则回退 sh
func (m *Manager) detectShell(ctx context.Context, containerID string) string {
	code, _, err := m.runtime.Exec(ctx, containerID,
		[]string{"sh", "-lc", "command -v bash >/dev/null 2>&1"}, nil)
	if err == nil && code == 0 {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// newScanner 为会话创建提交识别器
func (m *Manager) newScanner(session *Session) *commitscan.Scanner {
	confirm := func(ctx context.Context) (string, error) {
		return m.git.RevParse(ctx, session.ContainerID, "HEAD")
	}
	var dedup commitscan.DedupFunc
	if m.dedup != nil {
		dedup = func(sha string) bool { return m.dedup(session.ID, sha) }
	}
	onCommit := func(sha string) {
		if m.onCommit != nil {
			m.onCommit(session.WorkspaceID, session.ID, sha)
		}
	}
	return commitscan.New(session.ID, confirm, dedup, onCommit)
}

// readLoop 把容器输出泵到缓冲、识别器和订阅方
func (m *Manager) readLoop(session *Session) {
	defer m.finishSession(session)

	buf := make([]byte, 4096)
	for {
		n, err := session.stream.Reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			session.buffer.Write(chunk)
			session.scanner.Feed(chunk)

			select {
			case session.output <- chunk:
			default:
				// 订阅方跟不上时丢弃，回放缓冲仍然完整
			}
		}
		if err != nil {
			return
		}
	}
}

// finishSession 流结束后的收尾
func (m *Manager) finishSession(session *Session) {
	session.mu.Lock()
	alreadyClosed := session.closed
	session.closed = true
	session.mu.Unlock()

	close(session.output)
	if !alreadyClosed {
		close(session.done)
	}

	m.mu.Lock()
	delete(m.sessions, session.ID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.store.UpdateTerminalSessionStatus(ctx, session.ID, model.TerminalStatusClosed)
	log.Printf("[Terminal] Session %s stream ended", session.ID)
}

// active 查找活跃会话
func (m *Manager) active(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// WriteInput 把用户键入写进容器 TTY
func (m *Manager) WriteInput(id string, data []byte) error {
	session, ok := m.active(id)
	if !ok {
		return ErrSessionNotFound
	}
	if _, err := session.stream.Writer.Write(data); err != nil {
		return fmt.Errorf("failed to write terminal input: %w", err)
	}
	return nil
}

// Resize 调整 TTY 尺寸，失败只记日志不中断会话
func (m *Manager) Resize(ctx context.Context, id string, cols, rows uint) {
	session, ok := m.active(id)
	if !ok {
		return
	}
	if err := m.runtime.ResizeExec(ctx, session.stream.ExecID, cols, rows); err != nil {
		log.Printf("[Terminal] Resize failed for session %s: %v", id, err)
	}
}

// CloseSession 关闭会话流并标记记录
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	if session, ok := m.active(id); ok {
		session.mu.Lock()
		if !session.closed {
			session.closed = true
			close(session.done)
		}
		session.mu.Unlock()
		session.stream.Close()
		// readLoop 随流关闭退出并完成收尾
		return nil
	}

	record, err := m.store.GetTerminalSession(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrSessionNotFound
	}
	return m.store.UpdateTerminalSessionStatus(ctx, id, model.TerminalStatusClosed)
}

// Delete 关闭并删除会话记录
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.CloseSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return m.store.DeleteTerminalSession(ctx, id)
}

// CloseAll 关闭全部活跃会话，进程退出时调用
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.CloseSession(ctx, id); err != nil {
			log.Printf("[Terminal] Failed to close session %s: %v", id, err)
		}
	}
}

// === 尾部输出缓冲 ===

type ringBuffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (b *ringBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		// 只留尾部
		b.data = b.data[len(b.data)-b.max:]
	}
}

func (b *ringBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}
