package fsbridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"path"
	"strings"

	"gitguide/pkg/docker"
)

// Execer 容器内命令执行能力，由 docker.Runtime 提供
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd []string, opts *docker.ExecOptions) (int, string, error)
}

// Bridge 文件系统桥，全部操作通过容器内 exec 完成
type Bridge struct {
	runtime Execer
}

// New 创建文件系统桥
func New(runtime Execer) *Bridge {
	return &Bridge{runtime: runtime}
}

// sh 在容器内以 sh -c 执行拼接好的命令
func (b *Bridge) sh(ctx context.Context, containerID, command string) (int, string, error) {
	return b.runtime.Exec(ctx, containerID, []string{"sh", "-c", command}, nil)
}

// ReadFile 读取文件内容
//
// 经 base64 中转，二进制内容和任意编码都能安全穿过 exec 文本通道
func (b *Bridge) ReadFile(ctx context.Context, containerID, filePath string) ([]byte, error) {
	p := SanitizePath(filePath)

	code, output, err := b.sh(ctx, containerID, fmt.Sprintf("base64 %s", shellQuote(p)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("read %s failed: %s", p, strings.TrimSpace(output))
	}

	// base64 输出带换行
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(output, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return data, nil
}

// WriteFile 写入文件内容，父目录自动创建，写入后校验文件存在
func (b *Bridge) WriteFile(ctx context.Context, containerID, filePath string, data []byte) error {
	p := SanitizePath(filePath)

	encoded := base64.StdEncoding.EncodeToString(data)
	dir := path.Dir(p)
	command := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s && test -f %s",
		shellQuote(dir), shellQuote(encoded), shellQuote(p), shellQuote(p))

	code, output, err := b.sh(ctx, containerID, command)
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if code != 0 {
		return fmt.Errorf("write %s failed: %s", p, strings.TrimSpace(output))
	}
	return nil
}

// ListDir 列出目录内容，目录在前、名称排序
func (b *Bridge) ListDir(ctx context.Context, containerID, dirPath string) ([]FileEntry, error) {
	p := SanitizePath(dirPath)

	code, output, err := b.sh(ctx, containerID, fmt.Sprintf("ls -Alh --time-style=+%%s %s", shellQuote(p)))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("list %s failed: %s", p, strings.TrimSpace(output))
	}

	return parseLsOutput(output, p), nil
}

// Delete 删除文件或目录，拒绝删除工作区根
func (b *Bridge) Delete(ctx context.Context, containerID, targetPath string) error {
	p := SanitizePath(targetPath)
	if p == WorkspaceRoot {
		return ErrRootDelete
	}

	code, output, err := b.sh(ctx, containerID, fmt.Sprintf("rm -rf %s", shellQuote(p)))
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	if code != 0 {
		return fmt.Errorf("delete %s failed: %s", p, strings.TrimSpace(output))
	}
	log.Printf("[FS] Deleted %s in container %.12s", p, containerID)
	return nil
}

// Mkdir 创建目录（含父目录）
func (b *Bridge) Mkdir(ctx context.Context, containerID, dirPath string) error {
	p := SanitizePath(dirPath)

	code, output, err := b.sh(ctx, containerID, fmt.Sprintf("mkdir -p %s", shellQuote(p)))
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	if code != 0 {
		return fmt.Errorf("mkdir %s failed: %s", p, strings.TrimSpace(output))
	}
	return nil
}

// Exists 判断路径是否存在
func (b *Bridge) Exists(ctx context.Context, containerID, targetPath string) (bool, error) {
	p := SanitizePath(targetPath)

	code, _, err := b.sh(ctx, containerID, fmt.Sprintf("test -e %s", shellQuote(p)))
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// Move 移动/重命名，目标父目录自动创建
func (b *Bridge) Move(ctx context.Context, containerID, srcPath, dstPath string) error {
	src := SanitizePath(srcPath)
	dst := SanitizePath(dstPath)
	if src == WorkspaceRoot {
		return ErrRootDelete
	}

	command := fmt.Sprintf("mkdir -p %s && mv %s %s", shellQuote(path.Dir(dst)), shellQuote(src), shellQuote(dst))
	code, output, err := b.sh(ctx, containerID, command)
	if err != nil {
		return fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	if code != 0 {
		return fmt.Errorf("move %s -> %s failed: %s", src, dst, strings.TrimSpace(output))
	}
	return nil
}
