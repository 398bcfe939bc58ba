// Package fsbridge 通过容器内 exec 操作工作区文件
//
// 服务进程从不直接触碰宿主机文件系统，所有读写都以命令形式在容器内
// 执行，容器即隔离边界。路径在进入命令前统一净化并强制约束在
// /workspace 之下。
package fsbridge

import (
	"errors"
	"path"
	"strings"
)

// WorkspaceRoot 工作区根目录，所有路径强制在其下
const WorkspaceRoot = "/workspace"

// ErrRootDelete 拒绝删除工作区根目录
var ErrRootDelete = errors.New("refusing to delete workspace root")

// SanitizePath 净化用户提供的路径并强制约束在 /workspace 下
//
// 处理顺序：去除 NUL 字节 → 反斜杠转正斜杠 → 相对路径拼接到
// 根目录 → 规范化 → 再次校验前缀。越出根目录的路径静默钳制回
// /workspace，永远不会指向工作区之外。
func SanitizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\x00", "")
	p = strings.ReplaceAll(p, "\\", "/")

	if p == "" || p == "." {
		return WorkspaceRoot
	}

	if !strings.HasPrefix(p, WorkspaceRoot) {
		p = path.Join(WorkspaceRoot, strings.TrimPrefix(p, "/"))
	}
	p = path.Clean(p)

	// ".." 拼接后仍可能逃逸，也可能撞上 /workspace2 这类同前缀目录
	if p != WorkspaceRoot && !strings.HasPrefix(p, WorkspaceRoot+"/") {
		return WorkspaceRoot
	}
	return p
}

// shellQuote 单引号转义，供拼接 sh -c 命令使用
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
