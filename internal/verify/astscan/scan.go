// Package astscan 代码结构静态扫描
//
// 对 Python 和 JavaScript/TypeScript 源码做基于正则的结构提取：
// 函数、类、导入。不追求完整解析，目标是给校验管线提供确定性的
// 结构证据，配合模式匹配判断任务要求的符号是否存在。
package astscan

import (
	"regexp"
	"strings"
)

// Function 提取到的函数
type Function struct {
	Name   string   `json:"name"`
	Params []string `json:"params,omitempty"`
	Line   int      `json:"line"`
}

// Class 提取到的类
type Class struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods,omitempty"`
	Line    int      `json:"line"`
}

// Import 提取到的导入
type Import struct {
	Module string   `json:"module"`
	Names  []string `json:"names,omitempty"`
}

// Analysis 单份源码的扫描结果
type Analysis struct {
	Functions   []Function `json:"functions"`
	Classes     []Class    `json:"classes"`
	Imports     []Import   `json:"imports"`
	SyntaxError string     `json:"syntax_error,omitempty"`
}

// HasSyntaxErrors 是否发现了语法问题
func (a *Analysis) HasSyntaxErrors() bool {
	return a.SyntaxError != ""
}

// Merge 把另一份结果并入当前结果
func (a *Analysis) Merge(other *Analysis) {
	a.Functions = append(a.Functions, other.Functions...)
	a.Classes = append(a.Classes, other.Classes...)
	a.Imports = append(a.Imports, other.Imports...)
	if a.SyntaxError == "" {
		a.SyntaxError = other.SyntaxError
	}
}

// === Python ===

var (
	pyDefRe        = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(([^)]*)`)
	pyClassRe      = regexp.MustCompile(`^(\s*)class\s+(\w+)`)
	pyImportRe     = regexp.MustCompile(`^\s*import\s+([\w.]+)(?:\s+as\s+(\w+))?`)
	pyFromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+(.+)`)
)

// AnalyzePython 扫描 Python 源码
//
// 正则按行匹配 def/class/import。类方法按缩进归属：类声明之后、
// 缩进更深的 def 记为该类的方法。只做括号配平这种粗粒度的语法
// 检查，真正的语法错误交给测试执行阶段暴露。
func AnalyzePython(code string) *Analysis {
	result := &Analysis{
		Functions: []Function{},
		Classes:   []Class{},
		Imports:   []Import{},
	}

	classIndent := -1 // 当前打开的类的缩进层级，-1 表示不在类里
	for i, line := range strings.Split(code, "\n") {
		lineNo := i + 1

		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			classIndent = len(m[1])
			result.Classes = append(result.Classes, Class{
				Name:    m[2],
				Methods: []string{},
				Line:    lineNo,
			})
			continue
		}

		if m := pyDefRe.FindStringSubmatch(line); m != nil {
			indent := len(m[1])
			name := m[2]
			params := splitParams(m[3])

			if classIndent >= 0 && indent > classIndent && len(result.Classes) > 0 {
				last := &result.Classes[len(result.Classes)-1]
				last.Methods = append(last.Methods, name)
			} else {
				classIndent = -1
			}
			result.Functions = append(result.Functions, Function{
				Name:   name,
				Params: params,
				Line:   lineNo,
			})
			continue
		}

		// 顶层非空语句结束类作用域
		if classIndent >= 0 && strings.TrimSpace(line) != "" && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			classIndent = -1
		}

		if m := pyImportRe.FindStringSubmatch(line); m != nil {
			imp := Import{Module: m[1]}
			if m[2] != "" {
				imp.Names = []string{m[2]}
			}
			result.Imports = append(result.Imports, imp)
			continue
		}
		if m := pyFromImportRe.FindStringSubmatch(line); m != nil {
			result.Imports = append(result.Imports, Import{
				Module: m[1],
				Names:  splitParams(strings.TrimSuffix(strings.TrimSpace(m[2]), "(")),
			})
		}
	}

	if err := checkBrackets(code); err != "" {
		result.SyntaxError = err
	}
	return result
}

// === JavaScript / TypeScript ===

var (
	jsFuncRe    = regexp.MustCompile(`(?:function\s+(\w+)|const\s+(\w+)\s*=\s*(?:\([^)]*\)\s*=>|function)|(\w+)\s*:\s*function)`)
	jsClassRe   = regexp.MustCompile(`class\s+(\w+)`)
	jsImportRe  = regexp.MustCompile(`import\s+(?:(?:\{([^}]+)\})|(\w+)|(\*))\s+from\s+['"]([^'"]+)['"]`)
	jsRequireRe = regexp.MustCompile(`(?:const|let|var)\s+(?:\{([^}]+)\}|(\w+))\s*=\s*require\(['"]([^'"]+)['"]\)`)
)

// AnalyzeJavaScript 扫描 JS/TS 源码，声明式正则提取
func AnalyzeJavaScript(code string) *Analysis {
	result := &Analysis{
		Functions: []Function{},
		Classes:   []Class{},
		Imports:   []Import{},
	}

	for _, m := range jsFuncRe.FindAllStringSubmatchIndex(code, -1) {
		name := firstGroup(code, m, 1, 2, 3)
		if name == "" {
			continue
		}
		result.Functions = append(result.Functions, Function{
			Name: name,
			Line: lineOf(code, m[0]),
		})
	}

	for _, m := range jsClassRe.FindAllStringSubmatchIndex(code, -1) {
		result.Classes = append(result.Classes, Class{
			Name:    code[m[2]:m[3]],
			Methods: []string{},
			Line:    lineOf(code, m[0]),
		})
	}

	for _, m := range jsImportRe.FindAllStringSubmatch(code, -1) {
		namesStr := m[1]
		if namesStr == "" {
			namesStr = m[2]
		}
		if namesStr == "" {
			namesStr = m[3]
		}
		result.Imports = append(result.Imports, Import{
			Module: m[4],
			Names:  splitParams(namesStr),
		})
	}
	for _, m := range jsRequireRe.FindAllStringSubmatch(code, -1) {
		namesStr := m[1]
		if namesStr == "" {
			namesStr = m[2]
		}
		result.Imports = append(result.Imports, Import{
			Module: m[3],
			Names:  splitParams(namesStr),
		})
	}

	return result
}

// AnalyzeFile 按文件扩展名分派扫描器，无法识别的类型返回 nil
func AnalyzeFile(path, content string) *Analysis {
	switch {
	case strings.HasSuffix(path, ".py"):
		return AnalyzePython(content)
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"),
		strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".tsx"):
		return AnalyzeJavaScript(content)
	}
	return nil
}

// === 存在性检查 ===

// FunctionExists 检查函数是否存在
func FunctionExists(code, name, language string) bool {
	analysis := analyzeByLanguage(code, language)
	for _, f := range analysis.Functions {
		if f.Name == name {
			return true
		}
	}
	return false
}

// ClassExists 检查类是否存在
func ClassExists(code, name, language string) bool {
	analysis := analyzeByLanguage(code, language)
	for _, c := range analysis.Classes {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ImportExists 检查导入是否存在，子串匹配容忍包路径前缀
func ImportExists(code, module, language string) bool {
	analysis := analyzeByLanguage(code, language)
	for _, imp := range analysis.Imports {
		if strings.Contains(imp.Module, module) {
			return true
		}
	}
	return false
}

func analyzeByLanguage(code, language string) *Analysis {
	switch language {
	case "javascript", "typescript":
		return AnalyzeJavaScript(code)
	default:
		return AnalyzePython(code)
	}
}

// === 工具 ===

func splitParams(raw string) []string {
	params := []string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		// 去掉默认值和类型标注
		if i := strings.IndexAny(p, "=:"); i >= 0 {
			p = strings.TrimSpace(p[:i])
		}
		if p != "" {
			params = append(params, p)
		}
	}
	return params
}

func firstGroup(code string, idx []int, groups ...int) string {
	for _, g := range groups {
		if idx[2*g] >= 0 {
			return code[idx[2*g]:idx[2*g+1]]
		}
	}
	return ""
}

func lineOf(code string, offset int) int {
	return strings.Count(code[:offset], "\n") + 1
}

// checkBrackets 粗粒度括号配平检查
func checkBrackets(code string) string {
	counts := map[rune]int{}
	inString := rune(0)
	inComment := false
	for _, r := range code {
		if inComment {
			if r == '\n' {
				inComment = false
			}
			continue
		}
		if inString != 0 {
			if r == inString || r == '\n' {
				inString = 0
			}
			continue
		}
		switch r {
		case '#':
			inComment = true
			continue
		}
		switch r {
		case '\'', '"':
			inString = r
		case '(', '[', '{':
			counts[r]++
		case ')':
			counts['(']--
		case ']':
			counts['[']--
		case '}':
			counts['{']--
		}
	}
	for open, n := range counts {
		if n != 0 {
			return "unbalanced brackets: " + string(open)
		}
	}
	return ""
}
