package terminal

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitguide/internal/model"
	"gitguide/pkg/docker"
)

// === 测试桩 ===

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*model.TerminalSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*model.TerminalSession)}
}

func (s *fakeStore) CreateTerminalSession(_ context.Context, ts *model.TerminalSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ts
	s.sessions[ts.ID] = &cp
	return nil
}

func (s *fakeStore) GetTerminalSession(_ context.Context, id string) (*model.TerminalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *ts
	return &cp, nil
}

func (s *fakeStore) ListTerminalSessions(_ context.Context, workspaceID string) ([]*model.TerminalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.TerminalSession
	for _, ts := range s.sessions {
		if ts.WorkspaceID == workspaceID {
			cp := *ts
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateTerminalSessionStatus(_ context.Context, id string, status model.TerminalSessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.sessions[id]; ok {
		ts.Status = status
	}
	return nil
}

func (s *fakeStore) DeleteTerminalSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *fakeStore) status(id string) model.TerminalSessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.sessions[id]; ok {
		return ts.Status
	}
	return ""
}

// fakeConn 用管道模拟 exec 连接，Close 关闭写端让读循环收到 EOF
type fakeConn struct {
	pr    *io.PipeReader
	pw    *io.PipeWriter
	mu    sync.Mutex
	input bytes.Buffer
}

func (c *fakeConn) Read(p []byte) (int, error) { return c.pr.Read(p) }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input.Write(p)
}

func (c *fakeConn) Close() error { return c.pw.Close() }

func (c *fakeConn) inputString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input.String()
}

type fakeRuntime struct {
	mu       sync.Mutex
	running  bool
	hasBash  bool
	conn     *fakeConn
	execCmds [][]string
	resizes  []string
}

func newFakeRuntime() *fakeRuntime {
	pr, pw := io.Pipe()
	return &fakeRuntime{
		running: true,
		hasBash: true,
		conn:    &fakeConn{pr: pr, pw: pw},
	}
}

func (r *fakeRuntime) IsContainerRunning(context.Context, string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running, nil
}

func (r *fakeRuntime) Exec(_ context.Context, _ string, cmd []string, _ *docker.ExecOptions) (int, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execCmds = append(r.execCmds, cmd)
	if r.hasBash {
		return 0, "", nil
	}
	return 1, "", nil
}

func (r *fakeRuntime) ExecStream(_ context.Context, _ string, cmd []string, _ []string) (*docker.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execCmds = append(r.execCmds, cmd)
	return &docker.Stream{
		ExecID: "exec-test",
		Conn:   r.conn,
		Reader: r.conn,
		Writer: r.conn,
	}, nil
}

func (r *fakeRuntime) ResizeExec(_ context.Context, execID string, _, _ uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizes = append(r.resizes, execID)
	return nil
}

// emit 模拟容器输出
func (r *fakeRuntime) emit(data string) {
	r.conn.pw.Write([]byte(data))
}

type fakeGit struct{ head string }

func (g *fakeGit) RevParse(context.Context, string, string) (string, error) {
	return g.head, nil
}

func startTestSession(t *testing.T, m *Manager, store *fakeStore) *Session {
	t.Helper()
	ctx := context.Background()
	record, err := m.Create(ctx, "ws-1", "ctr-1")
	require.NoError(t, err)

	session, err := m.StartStream(ctx, record)
	require.NoError(t, err)
	require.Equal(t, model.TerminalStatusRunning, store.status(record.ID))
	return session
}

func waitClosed(t *testing.T, store *fakeStore, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.status(id) == model.TerminalStatusClosed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s not closed, status=%s", id, store.status(id))
}

// === 测试 ===

func TestStartStreamPumpsOutput(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	m := NewManager(store, rt, &fakeGit{})

	session := startTestSession(t, m, store)

	rt.emit("hello from container\r\n")

	select {
	case chunk := <-session.Output():
		assert.Equal(t, "hello from container\r\n", string(chunk))
	case <-time.After(time.Second):
		t.Fatal("no output received")
	}

	// bash 存在时用 bash 起 TTY
	rt.mu.Lock()
	last := rt.execCmds[len(rt.execCmds)-1]
	rt.mu.Unlock()
	assert.Equal(t, []string{"/bin/bash"}, last)
}

func TestStartStreamFallsBackToSh(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	rt.hasBash = false
	m := NewManager(store, rt, &fakeGit{})

	startTestSession(t, m, store)

	rt.mu.Lock()
	last := rt.execCmds[len(rt.execCmds)-1]
	rt.mu.Unlock()
	assert.Equal(t, []string{"/bin/sh"}, last)
}

func TestStartStreamRefusesStoppedContainer(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	rt.running = false
	m := NewManager(store, rt, &fakeGit{})

	record, err := m.Create(context.Background(), "ws-1", "ctr-1")
	require.NoError(t, err)

	_, err = m.StartStream(context.Background(), record)
	require.Error(t, err)
	assert.Equal(t, model.TerminalStatusError, store.status(record.ID))
}

func TestStartStreamIdempotent(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	m := NewManager(store, rt, &fakeGit{})

	session := startTestSession(t, m, store)
	again, err := m.StartStream(context.Background(), &model.TerminalSession{ID: session.ID})
	require.NoError(t, err)
	assert.Same(t, session, again)
}

func TestReplayBuffersTrailingOutput(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	m := NewManager(store, rt, &fakeGit{})

	session := startTestSession(t, m, store)

	rt.emit("first line\r\n")
	rt.emit("second line\r\n")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bytes.Contains(session.Replay(), []byte("second line")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	replay := string(session.Replay())
	assert.Contains(t, replay, "first line")
	assert.Contains(t, replay, "second line")
}

func TestRingBufferKeepsTail(t *testing.T) {
	b := newRingBuffer(8)
	b.Write([]byte("abcdefgh"))
	b.Write([]byte("XYZ"))
	assert.Equal(t, "defghXYZ", string(b.Bytes()))

	b.Write(bytes.Repeat([]byte("z"), 20))
	assert.Equal(t, bytes.Repeat([]byte("z"), 8), b.Bytes())
}

func TestWriteInputReachesContainer(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	m := NewManager(store, rt, &fakeGit{})

	session := startTestSession(t, m, store)

	require.NoError(t, m.WriteInput(session.ID, []byte("ls -la\r")))
	assert.Equal(t, "ls -la\r", rt.conn.inputString())

	err := m.WriteInput("term-nonexistent", []byte("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResizeUsesExecID(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	m := NewManager(store, rt, &fakeGit{})

	session := startTestSession(t, m, store)
	m.Resize(context.Background(), session.ID, 120, 40)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	require.Len(t, rt.resizes, 1)
	assert.Equal(t, "exec-test", rt.resizes[0])
}

func TestCloseSessionEndsStream(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	m := NewManager(store, rt, &fakeGit{})

	session := startTestSession(t, m, store)
	require.NoError(t, m.CloseSession(context.Background(), session.ID))

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatal("session not done after close")
	}
	waitClosed(t, store, session.ID)

	// 活跃表已清理
	_, ok := m.active(session.ID)
	assert.False(t, ok)
}

func TestCommitHookFiresOnDetectedCommit(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	head := "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"
	m := NewManager(store, rt, &fakeGit{head: head})

	var mu sync.Mutex
	var got []string
	m.SetCommitHook(func(workspaceID, sessionID, sha string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, workspaceID+"/"+sha)
	}, nil)

	startTestSession(t, m, store)
	rt.emit("[main a1b2c3d] add feature\r\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got, "commit hook not fired")
	assert.Equal(t, "ws-1/"+head, got[0])
}

func TestDeleteRemovesRecord(t *testing.T) {
	store := newFakeStore()
	rt := newFakeRuntime()
	m := NewManager(store, rt, &fakeGit{})

	session := startTestSession(t, m, store)
	require.NoError(t, m.Delete(context.Background(), session.ID))

	rec, err := store.GetTerminalSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
