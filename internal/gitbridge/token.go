// Package gitbridge 在工作区容器内执行 git 操作
//
// 所有命令通过 exec 在容器中运行，宿主机不需要 git。凭据只在进程
// 内存中拼入 URL，任何日志、错误和返回给调用方的文本都先经过脱敏。
package gitbridge

import (
	"fmt"
	"regexp"
	"strings"
)

// credentialRe 匹配 URL 中的 userinfo 段
var credentialRe = regexp.MustCompile(`(https?://)([^@]+)@`)

// InjectToken 将访问令牌注入 HTTPS 仓库 URL
//
// 已有 userinfo 会被剥离后重新注入，尾部斜杠去除。
// 返回值只能用于命令拼接，禁止写入日志。
func InjectToken(repoURL, token string) (string, error) {
	repoURL = strings.TrimSpace(repoURL)
	repoURL = strings.TrimRight(repoURL, "/")

	var scheme string
	switch {
	case strings.HasPrefix(repoURL, "https://"):
		scheme = "https://"
	case strings.HasPrefix(repoURL, "http://"):
		scheme = "http://"
	default:
		return "", fmt.Errorf("unsupported repository URL scheme: %s", Redact(repoURL))
	}

	rest := strings.TrimPrefix(repoURL, scheme)
	if i := strings.Index(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if rest == "" {
		return "", fmt.Errorf("empty repository URL")
	}

	if token == "" {
		return scheme + rest, nil
	}
	return fmt.Sprintf("%sx-access-token:%s@%s", scheme, token, rest), nil
}

// Redact 将文本中 URL 携带的凭据替换为 ***
//
// 应用于每一条对外可见的 git 输出，确保令牌不落盘、不出网
func Redact(s string) string {
	return credentialRe.ReplaceAllString(s, "${1}***@")
}
