// Package commitscan 从终端输出流中识别 git 提交
//
// 学员在终端里直接 git commit 不经过平台 API，这里对 TTY 输出做
// 模式识别，识别到候选提交后延迟确认再上报，保证工作区元数据
// 跟得上终端内的操作。
package commitscan

import (
	"context"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
)

// 终端输出里可能出现的提交痕迹
var (
	// [main a1b2c3d] message
	bracketRe = regexp.MustCompile(`\[([^\]]+)\s+([a-f0-9]{7,40})\]`)
	// commit a1b2c3d... (HEAD -> main) 或行尾
	commitLineRe = regexp.MustCompile(`commit\s+([a-f0-9]{7,40})\s*(?:\(HEAD|$)`)
	// Created commit a1b2c3d
	createdRe = regexp.MustCompile(`Created\s+commit\s+([a-f0-9]{7,40})`)

	shaRe = regexp.MustCompile(`^[a-f0-9]{7,40}$`)

	// TTY 输出夹杂的 ANSI 控制序列
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
)

// confirmDelay 识别到候选提交后等待 git 落盘再确认
const confirmDelay = 500 * time.Millisecond

// maxPartialLine 未换行尾巴的保留上限，防止粘包撑爆内存
const maxPartialLine = 4096

// ConfirmFunc 返回仓库当前 HEAD 的完整 SHA
type ConfirmFunc func(ctx context.Context) (string, error)

// DedupFunc 返回 true 表示该 SHA 首次出现
type DedupFunc func(sha string) bool

// Scanner 单个终端会话的提交识别器
type Scanner struct {
	sessionID string
	confirm   ConfirmFunc
	onCommit  func(sha string)
	dedup     DedupFunc

	mu      sync.Mutex
	partial string
	seen    map[string]struct{} // dedup 未注入时的进程内兜底
	wg      sync.WaitGroup
}

// New 创建提交识别器
//
// onCommit 收到的是确认后的完整 SHA；dedup 为 nil 时退化为进程内去重
func New(sessionID string, confirm ConfirmFunc, dedup DedupFunc, onCommit func(sha string)) *Scanner {
	return &Scanner{
		sessionID: sessionID,
		confirm:   confirm,
		onCommit:  onCommit,
		dedup:     dedup,
		seen:      make(map[string]struct{}),
	}
}

// Feed 喂入一段终端输出，按完整行做识别
func (s *Scanner) Feed(data []byte) {
	s.mu.Lock()
	text := s.partial + string(data)
	lines := strings.Split(text, "\n")
	s.partial = lines[len(lines)-1]
	if len(s.partial) > maxPartialLine {
		s.partial = s.partial[len(s.partial)-maxPartialLine:]
	}
	s.mu.Unlock()

	for _, line := range lines[:len(lines)-1] {
		s.scanLine(ansiRe.ReplaceAllString(line, ""))
	}
}

// Wait 等待在途的确认任务结束，测试和关闭流程用
func (s *Scanner) Wait() {
	s.wg.Wait()
}

func (s *Scanner) scanLine(line string) {
	for _, sha := range extractCandidates(line) {
		if !s.firstSeen(sha) {
			continue
		}
		s.wg.Add(1)
		go s.confirmAndReport(sha)
	}
}

// extractCandidates 提取一行里的候选提交 SHA
func extractCandidates(line string) []string {
	var out []string
	if m := bracketRe.FindStringSubmatch(line); m != nil {
		out = append(out, m[2])
	}
	if m := commitLineRe.FindStringSubmatch(line); m != nil {
		out = append(out, m[1])
	}
	if m := createdRe.FindStringSubmatch(line); m != nil {
		out = append(out, m[1])
	}

	valid := out[:0]
	for _, sha := range out {
		if shaRe.MatchString(sha) {
			valid = append(valid, sha)
		}
	}
	return valid
}

func (s *Scanner) firstSeen(sha string) bool {
	if s.dedup != nil {
		return s.dedup(sha)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[sha]; ok {
		return false
	}
	s.seen[sha] = struct{}{}
	return true
}

// confirmAndReport 等 git 落盘后用 HEAD 的完整 SHA 上报
//
// 终端输出里的短 SHA 只是线索，rev-parse 才是事实
func (s *Scanner) confirmAndReport(candidate string) {
	defer s.wg.Done()
	time.Sleep(confirmDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	head, err := s.confirm(ctx)
	if err != nil {
		log.Printf("[CommitScan] Session %s: failed to confirm commit %s: %v", s.sessionID, candidate, err)
		return
	}
	head = strings.TrimSpace(head)
	if !shaRe.MatchString(head) {
		log.Printf("[CommitScan] Session %s: unexpected rev-parse output %q", s.sessionID, head)
		return
	}
	// 终端里看到的短 SHA 必须是 HEAD 的前缀，否则是翻旧日志等噪声
	if !strings.HasPrefix(head, candidate) {
		return
	}

	log.Printf("[CommitScan] Session %s: detected commit %.12s", s.sessionID, head)
	if s.onCommit != nil {
		s.onCommit(head)
	}
}
