package fsbridge

import (
	"sort"
	"strconv"
	"strings"
)

// FileEntry 目录条目
type FileEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Type    string `json:"type"`  // file / directory / symlink
	Size    int64  `json:"size"`  // 字节数，目录为 0
	ModTime int64  `json:"mtime"` // Unix 秒
}

// parseLsOutput 解析 `ls -Alh --time-style=+%s` 的输出
//
// 行格式：mode links owner group size epoch name
// 文件名可能含空格，按前 6 个字段切分后余下全部作为名称。
func parseLsOutput(output, dirPath string) []FileEntry {
	entries := make([]FileEntry, 0)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "total") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}

		mode := fields[0]
		size := parseHumanSize(fields[4])
		mtime, _ := strconv.ParseInt(fields[5], 10, 64)

		// 名称是第 6 个字段之后的剩余部分，保留内部空格
		idx := indexOfField(line, 6)
		if idx < 0 {
			continue
		}
		name := line[idx:]

		entryType := "file"
		switch mode[0] {
		case 'd':
			entryType = "directory"
			size = 0
		case 'l':
			entryType = "symlink"
			// 符号链接显示为 "name -> target"
			if i := strings.Index(name, " -> "); i >= 0 {
				name = name[:i]
			}
		}

		if name == "" || name == "." || name == ".." {
			continue
		}

		entries = append(entries, FileEntry{
			Name:    name,
			Path:    dirPath + "/" + name,
			Type:    entryType,
			Size:    size,
			ModTime: mtime,
		})
	}

	// 目录在前，同类按名称不区分大小写排序
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].Type == "directory", entries[j].Type == "directory"
		if di != dj {
			return di
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	return entries
}

// parseHumanSize 解析 ls -h 的人类可读尺寸（512、4.0K、1.2M、3G、1T）
func parseHumanSize(s string) int64 {
	if s == "" {
		return 0
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case 'T':
		mult = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f * float64(mult))
}

// indexOfField 返回第 n 个（0 起）空白分隔字段在原始行中的起始下标
func indexOfField(line string, n int) int {
	inField := false
	count := 0
	for i := 0; i < len(line); i++ {
		isSpace := line[i] == ' ' || line[i] == '\t'
		if !isSpace && !inField {
			if count == n {
				return i
			}
			count++
			inField = true
		} else if isSpace {
			inField = false
		}
	}
	return -1
}
