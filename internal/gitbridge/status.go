package gitbridge

import (
	"regexp"
	"strconv"
	"strings"
)

// Status 工作区 git 状态
type Status struct {
	Branch    string   `json:"branch"`
	Ahead     int      `json:"ahead"`
	Behind    int      `json:"behind"`
	Staged    []string `json:"staged"`
	Modified  []string `json:"modified"`
	Untracked []string `json:"untracked"`
	Deleted   []string `json:"deleted"`
	Conflicts []string `json:"conflicts"`
}

// Clean 是否没有任何未提交变更
func (s *Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Modified) == 0 &&
		len(s.Untracked) == 0 && len(s.Deleted) == 0 && len(s.Conflicts) == 0
}

// HasConflicts 是否存在合并冲突
func (s *Status) HasConflicts() bool {
	return len(s.Conflicts) > 0
}

var (
	branchRe = regexp.MustCompile(`##\s+([^\s.]+)`)
	aheadRe  = regexp.MustCompile(`ahead (\d+)`)
	behindRe = regexp.MustCompile(`behind (\d+)`)
)

// conflictCode 冲突状态码集合
func conflictCode(c byte) bool {
	return c == 'U' || c == 'A' || c == 'D' || c == 'M'
}

// parsePorcelainStatus 解析 `git status --porcelain -b` 输出
//
// 冲突判定：索引位和工作树位都落在 {U,A,D,M} 且至少一个为 U，
// 外加 AA（双方新增）和 DD（双方删除）。
func parsePorcelainStatus(output string) *Status {
	st := &Status{
		Staged:    []string{},
		Modified:  []string{},
		Untracked: []string{},
		Deleted:   []string{},
		Conflicts: []string{},
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "##") {
			if m := branchRe.FindStringSubmatch(line); m != nil {
				st.Branch = m[1]
			}
			if m := aheadRe.FindStringSubmatch(line); m != nil {
				st.Ahead, _ = strconv.Atoi(m[1])
			}
			if m := behindRe.FindStringSubmatch(line); m != nil {
				st.Behind, _ = strconv.Atoi(m[1])
			}
			continue
		}

		if len(line) < 4 {
			continue
		}
		x, y := line[0], line[1]
		path := line[3:]
		// 重命名显示为 "old -> new"，取新路径
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}

		switch {
		case x == '?' && y == '?':
			st.Untracked = append(st.Untracked, path)
		case (conflictCode(x) && conflictCode(y) && (x == 'U' || y == 'U')) ||
			(x == 'A' && y == 'A') || (x == 'D' && y == 'D'):
			st.Conflicts = append(st.Conflicts, path)
		default:
			if x == 'D' || y == 'D' {
				st.Deleted = append(st.Deleted, path)
			}
			if x == 'A' || x == 'M' || x == 'D' || x == 'R' || x == 'C' {
				st.Staged = append(st.Staged, path)
			}
			if y == 'M' {
				st.Modified = append(st.Modified, path)
			}
		}
	}

	return st
}
